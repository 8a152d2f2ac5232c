// Package types provides shared type definitions used across submarine packages.
// This package exists to break import cycles between dive, chain, and store.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// COMMON CRAWL RECORD TYPES
// =============================================================================

// CCRecord is one capture row from the Common Crawl index: enough to issue a
// single WARC byte-range request and to deduplicate captures across archives.
type CCRecord struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	Offset    int64  `json:"offset"`
	Length    int64  `json:"length"`
	Status    int    `json:"status"`
	MIME      string `json:"mime,omitempty"`
	Timestamp string `json:"timestamp,omitempty"` // YYYYMMDDHHMMSS
	Digest    string `json:"digest,omitempty"`
	Languages string `json:"languages,omitempty"`
}

// Key identifies a capture independently of which index archive returned it.
// Two records with the same key are byte-identical in the archive.
func (r CCRecord) Key() string {
	return fmt.Sprintf("%s:%d:%d", r.Filename, r.Offset, r.Length)
}

// PageRecord is one fetched and parsed page, the unit flowing out of the
// diver and the archive processor toward extraction.
type PageRecord struct {
	URL        string           `json:"url"`
	Domain     string           `json:"domain"` // normalized: lowercase, no www.
	Title      string           `json:"title,omitempty"`
	Content    string           `json:"content,omitempty"`
	Links      []string         `json:"links,omitempty"`
	Schemas    []map[string]any `json:"schemas,omitempty"` // inline JSON-LD blocks
	HTTPStatus int              `json:"http_status,omitempty"`
	CrawlDate  string           `json:"crawl_date,omitempty"`
	WARCFile   string           `json:"warc_file,omitempty"`
}

// =============================================================================
// ENTITY TYPES
// =============================================================================

// EntityType classifies an extracted or discovered entity. Values are wire
// strings shared with the rule tables, so they stay lowercase ASCII.
type EntityType string

const (
	EntityEmail      EntityType = "email"
	EntityPhone      EntityType = "phone"
	EntityUsername   EntityType = "username"
	EntityDomain     EntityType = "domain"
	EntityPerson     EntityType = "person"
	EntityCompany    EntityType = "company"
	EntityLinkedIn   EntityType = "linkedin"
	EntityURL        EntityType = "url"
	EntityIBAN       EntityType = "iban"
	EntityLEI        EntityType = "lei"
	EntitySWIFT      EntityType = "swift"
	EntityVAT        EntityType = "vat"
	EntityNationalID EntityType = "national_id"
	EntityBTCAddress EntityType = "btc_address"
	EntityETHAddress EntityType = "eth_address"
	EntityIP         EntityType = "ip"
)

// ExtractedEntity is a single hit produced by the extractor from page text.
type ExtractedEntity struct {
	Value      string         `json:"value"`
	Type       EntityType     `json:"type"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source,omitempty"`  // page URL
	Context    string         `json:"context,omitempty"` // surrounding text snippet
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EntityNode is a node in a chain's discovered entity graph.
type EntityNode struct {
	Value             string         `json:"value"`
	Type              EntityType     `json:"type"`
	Depth             int            `json:"depth"`
	Relevance         float64        `json:"relevance"`
	Confidence        float64        `json:"confidence,omitempty"`
	NeedsVerification bool           `json:"needs_verification"`
	Parent            string         `json:"parent,omitempty"` // dedup key of the discovering node
	Data              map[string]any `json:"data,omitempty"`
}

// EntityEdge connects two nodes by their dedup keys.
type EntityEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"` // relationship label, e.g. "officer_of"
}

// EntityGraph is the graph envelope returned by graph-producing chains.
type EntityGraph struct {
	Root  string       `json:"root"`
	Nodes []EntityNode `json:"nodes"`
	Edges []EntityEdge `json:"edges"`
}

// RuleResult is the outcome of one external rule execution.
type RuleResult struct {
	RuleID string         `json:"rule_id"`
	Status string         `json:"status"` // success | failed
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Succeeded reports whether the rule ran and returned usable data.
func (r *RuleResult) Succeeded() bool {
	return r != nil && r.Status == "success"
}

// =============================================================================
// NORMALIZATION HELPERS
// =============================================================================

// NormalizeDomain lowercases a host and strips a single leading "www.".
// Ports and surrounding whitespace are dropped.
func NormalizeDomain(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if i := strings.IndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	h = strings.TrimSuffix(h, ".")
	h = strings.TrimPrefix(h, "www.")
	return h
}

// DedupKey builds the canonical duplicate-suppression key for an entity.
// The same value and type always produce the same key.
func DedupKey(entityType EntityType, value string) string {
	return strings.ToLower(string(entityType) + ":" + strings.TrimSpace(value))
}

// Timestamp14 formats a time in the Common Crawl index's 14-digit form.
func Timestamp14(t time.Time) string {
	return t.UTC().Format("20060102150405")
}
