package sonar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"submarine/internal/config"
	"submarine/internal/logging"
	"submarine/internal/types"
)

// indexRoles is the scan order. Fixed so result assembly is deterministic
// regardless of which goroutine finishes first.
var indexRoles = []string{"entity", "breach", "graph", "domain"}

// Hit is one index match.
type Hit struct {
	Domain    string `json:"domain"`
	URL       string `json:"url,omitempty"`
	MatchType string `json:"match_type"`
	Index     string `json:"index"`
}

// ScanResult aggregates matches across every configured index.
type ScanResult struct {
	Query          string    `json:"query"`
	QueryType      QueryType `json:"query_type"`
	Domains        []string  `json:"domains"`
	IndicesScanned []string  `json:"indices_scanned"`
	Hits           []Hit     `json:"hits"`
}

// Scanner queries the entity indices. Safe for concurrent use.
type Scanner struct {
	baseURL    string
	indices    map[string]string
	limit      int
	httpClient *http.Client
}

// New builds a scanner from config.
func New(cfg *config.Config) *Scanner {
	return &Scanner{
		baseURL:    strings.TrimRight(cfg.Sonar.BaseURL, "/"),
		indices:    cfg.Sonar.Indices,
		limit:      cfg.Sonar.Limit,
		httpClient: &http.Client{Timeout: cfg.GetSonarTimeout()},
	}
}

// ScanAll queries every configured index in parallel and merges the hits.
// Per-index failures are swallowed; a failed index appears in IndicesScanned
// with an ":error" suffix so callers can see the gap.
func (s *Scanner) ScanAll(ctx context.Context, query string, limit int) (*ScanResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	if limit <= 0 {
		limit = s.limit
	}

	qt := Classify(query)
	logging.Sonar("Scanning %q (type=%s, limit=%d) across %d indices", query, qt, limit, len(s.indices))

	var mu sync.Mutex
	hitsByRole := make(map[string][]Hit)
	statusByRole := make(map[string]string)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, role := range indexRoles {
		indexName, ok := s.indices[role]
		if !ok || indexName == "" {
			continue
		}
		role, indexName := role, indexName
		eg.Go(func() error {
			hits, err := s.scanIndex(egCtx, role, indexName, query, qt, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.SonarWarn("Index %s failed: %v", indexName, err)
				statusByRole[role] = indexName + ":error"
				return nil
			}
			statusByRole[role] = indexName
			hitsByRole[role] = hits
			return nil
		})
	}
	eg.Wait()

	result := &ScanResult{Query: query, QueryType: qt}
	seen := make(map[string]bool)
	for _, role := range indexRoles {
		if status, ok := statusByRole[role]; ok {
			result.IndicesScanned = append(result.IndicesScanned, status)
		}
		for _, h := range hitsByRole[role] {
			result.Hits = append(result.Hits, h)
			d := types.NormalizeDomain(h.Domain)
			if d != "" && !seen[d] {
				seen[d] = true
				result.Domains = append(result.Domains, d)
			}
		}
	}

	logging.Sonar("Scan %q: %d hits, %d domains, indices %v", query, len(result.Hits), len(result.Domains), result.IndicesScanned)
	return result, nil
}

// esQuery is the request body for the _search endpoints.
type esQuery struct {
	Query struct {
		QueryString struct {
			Query string `json:"query"`
		} `json:"query_string"`
	} `json:"query"`
	Size int `json:"size"`
}

type esResponse struct {
	Hits struct {
		Hits []struct {
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *Scanner) scanIndex(ctx context.Context, role, indexName, query string, qt QueryType, limit int) ([]Hit, error) {
	var body esQuery
	body.Query.QueryString.Query = escapeQueryString(query)
	body.Size = limit

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/_search", s.baseURL, indexName)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var parsed esResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	matchType := matchTypeFor(role, qt)
	var hits []Hit
	for _, h := range parsed.Hits.Hits {
		domain, hitURL := domainFromSource(h.Source)
		if domain == "" {
			continue
		}
		hits = append(hits, Hit{
			Domain:    domain,
			URL:       hitURL,
			MatchType: matchType,
			Index:     indexName,
		})
	}

	logging.SonarDebug("Index %s: %d hits in %v", indexName, len(hits), time.Since(start).Round(time.Millisecond))
	return hits, nil
}

// matchTypeFor maps the index role and query shape to the hit's match type.
// Contact-shaped queries keep their shape; everything else takes the role.
func matchTypeFor(role string, qt QueryType) string {
	if role == "entity" {
		switch qt {
		case QueryEmail:
			return "email"
		case QueryPhone:
			return "phone"
		case QueryURL:
			return "url"
		default:
			return "entity"
		}
	}
	return role
}

// domainFromSource pulls a domain out of an index document, falling back to
// the host of its url field.
func domainFromSource(source map[string]any) (domain, hitURL string) {
	if d, ok := source["domain"].(string); ok && d != "" {
		domain = d
	}
	if u, ok := source["url"].(string); ok && u != "" {
		hitURL = u
		if domain == "" {
			if parsed, err := url.Parse(u); err == nil {
				domain = parsed.Hostname()
			}
		}
	}
	return domain, hitURL
}

// escapeQueryString neutralizes the query_string operators so user input is
// matched literally.
func escapeQueryString(q string) string {
	var sb strings.Builder
	for _, r := range q {
		switch r {
		case '+', '-', '=', '&', '|', '>', '<', '!', '(', ')', '{', '}',
			'[', ']', '^', '"', '~', '*', '?', ':', '\\', '/':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// SortHits orders hits by index then domain for display.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Index != hits[j].Index {
			return hits[i].Index < hits[j].Index
		}
		return hits[i].Domain < hits[j].Domain
	})
}
