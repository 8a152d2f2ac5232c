// Package order parses the chain-order command surface: the one-line
// directive language the operator console and CLI accept. A line mixes
// free query text with directives like depth(2), tld_include(pa,ky),
// /news switches and :PA jurisdiction tags; anything the parser does not
// recognize stays part of the query text.
package order

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"submarine/internal/config"
	"submarine/internal/dive"
)

// Mode selects what the order does with its plan.
type Mode string

const (
	ModeDive   Mode = "dive"   // plan then fetch from the archive (default)
	ModeIndex  Mode = "index"  // plan only, print index results
	ModeScrape Mode = "scrape" // fetch live instead of from the archive
)

// Order is one parsed operator command.
type Order struct {
	Query string // free text left after directives are stripped

	Depth   int // chain hop depth, 0 means the configured default
	Expanse int // page-budget multiplier, 0 or 1 means no raise

	Mode Mode
	News bool // restrict seed domains to the news allowlist

	Status       int
	Archives     []string
	Keyword      string // url-substring filter, also the fallback pattern
	MIME         string
	Languages    []string
	From, To     string
	MinRelevance float64
	TLDInclude   []string
	TLDExclude   []string

	Scope        string
	Jurisdiction string

	Entity          string
	EntityTentative bool

	Watch     bool
	WatcherID string
}

// Parse reads one order line. Unknown tokens are kept as query text, so a
// plain "viktor marlowe" line is a valid order; only malformed arguments to
// known directives fail the parse.
func Parse(line string) (*Order, error) {
	o := &Order{Mode: ModeDive, Watch: true}

	var query []string
	for _, tok := range tokenize(line) {
		if name, arg, ok := splitCall(tok); ok {
			handled, err := o.applyCall(name, arg)
			if err != nil {
				return nil, err
			}
			if !handled {
				query = append(query, tok)
			}
			continue
		}
		if !o.applySwitch(tok) {
			query = append(query, tok)
		}
	}
	o.Query = strings.Join(query, " ")

	if o.Query == "" && o.Keyword == "" && o.Entity == "" {
		return nil, fmt.Errorf("empty order: no query, keyword or entity")
	}
	return o, nil
}

// applyCall handles the name(arg) directives. Unknown names report
// handled=false so the raw token can fall back to query text.
func (o *Order) applyCall(name, arg string) (bool, error) {
	switch strings.ToLower(name) {
	case "depth":
		n, err := parseCount(name, arg)
		if err != nil {
			return false, err
		}
		o.Depth = n
	case "expanse":
		n, err := parseCount(name, arg)
		if err != nil {
			return false, err
		}
		o.Expanse = n
	case "status":
		// The grammar writes alternatives as status(200|301); the index
		// filter takes one code, so the first wins.
		first, _, _ := strings.Cut(arg, "|")
		n, err := parseCount(name, strings.TrimSpace(first))
		if err != nil {
			return false, err
		}
		o.Status = n
	case "archives":
		o.Archives = splitList(arg)
	case "keyword":
		o.Keyword = strings.TrimSpace(arg)
	case "mime":
		o.MIME = strings.TrimSpace(arg)
	case "lang":
		o.Languages = splitList(arg)
	case "from":
		o.From = strings.TrimSpace(arg)
	case "to":
		o.To = strings.TrimSpace(arg)
	case "minrel":
		f, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil || f < 0 || f > 1 {
			return false, fmt.Errorf("minrel wants a value in [0,1], got %q", arg)
		}
		o.MinRelevance = f
	case "tld_include":
		o.TLDInclude = splitList(arg)
	case "tld_exclude":
		o.TLDExclude = splitList(arg)
	case "watcher":
		o.WatcherID = strings.TrimSpace(arg)
	case "":
		// Bare (filter) parens are shorthand for keyword(filter).
		o.Keyword = strings.TrimSpace(arg)
	default:
		return false, nil
	}
	return true, nil
}

// applySwitch handles the single-token forms: /switches, :scope tags,
// @entity references and the trailing-bang shorthands.
func (o *Order) applySwitch(tok string) bool {
	switch tok {
	case "/news":
		o.News = true
		return true
	case "/index":
		o.Mode = ModeIndex
		return true
	case "/scrape":
		o.Mode = ModeScrape
		return true
	case "/nowatch":
		o.Watch = false
		return true
	}

	if rest, ok := strings.CutPrefix(tok, ":"); ok && rest != "" {
		if isJurisdiction(rest) {
			o.Jurisdiction = rest
		} else {
			o.Scope = strings.ToLower(rest)
		}
		return true
	}

	if rest, ok := strings.CutPrefix(tok, "@"); ok && rest != "" {
		if trimmed, tentative := strings.CutSuffix(rest, "?"); tentative {
			if trimmed == "" {
				return false
			}
			o.Entity = trimmed
			o.EntityTentative = true
		} else {
			o.Entity = rest
		}
		return true
	}

	if base, ok := strings.CutSuffix(tok, "!"); ok && base != "" {
		switch strings.ToLower(base) {
		case "news":
			o.News = true
		case "pdf":
			o.MIME = "application/pdf"
		default:
			o.TLDInclude = append(o.TLDInclude, strings.ToLower(base))
		}
		return true
	}

	return false
}

// ToPlanRequest maps the dive-relevant slice of the order onto a plan
// request, applying the configured caps. Expanse raises the per-domain page
// budget but never past the hard page cap.
func (o *Order) ToPlanRequest(cfg *config.Config) dive.PlanRequest {
	req := dive.NewPlanRequest(o.Query)
	if req.Query == "" {
		req.Query = o.Keyword
	}

	req.MaxDomains = cfg.Dive.MaxDomains
	pages := cfg.Dive.MaxPagesPerDomain
	if o.Expanse > 1 {
		pages *= o.Expanse
	}
	if pages > config.MaxPagesCap {
		pages = config.MaxPagesCap
	}
	req.MaxPagesPerDomain = pages
	req.MaxTotalPages = cfg.Dive.MaxTotalPages

	if o.Status > 0 {
		req.FilterStatus = o.Status
	}
	req.CCArchives = append([]string(nil), o.Archives...)
	req.FilterMIME = o.MIME
	req.FilterLanguages = append([]string(nil), o.Languages...)
	req.FromTS = o.From
	req.ToTS = o.To
	req.URLContains = o.Keyword

	req.Filters = dive.DomainFilters{
		TLDInclude: append([]string(nil), o.TLDInclude...),
		TLDExclude: append([]string(nil), o.TLDExclude...),
	}
	if o.News {
		req.Filters.Allowlist = append([]string(nil), dive.NewsDomains...)
	}
	return req
}

// tokenize splits on whitespace but keeps parenthesized groups whole, so
// keyword(beneficial owner) survives as one token.
func tokenize(line string) []string {
	var (
		tokens []string
		buf    strings.Builder
		depth  int
	)
	for _, r := range line {
		if unicode.IsSpace(r) && depth == 0 {
			if buf.Len() > 0 {
				tokens = append(tokens, buf.String())
				buf.Reset()
			}
			continue
		}
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
		buf.WriteRune(r)
	}
	if buf.Len() > 0 {
		tokens = append(tokens, buf.String())
	}
	return tokens
}

// splitCall decomposes name(arg) tokens. The name may be empty for the bare
// (filter) form. A token without a closing paren is not a call.
func splitCall(tok string) (name, arg string, ok bool) {
	open := strings.Index(tok, "(")
	if open < 0 || !strings.HasSuffix(tok, ")") {
		return "", "", false
	}
	return tok[:open], tok[open+1 : len(tok)-1], true
}

// parseCount parses the non-negative integer arguments.
func parseCount(name, arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s wants a non-negative integer, got %q", name, arg)
	}
	return n, nil
}

// isJurisdiction reports whether a :tag is a two-letter uppercase country
// code rather than a scope name.
func isJurisdiction(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// splitList splits comma lists, dropping empties.
func splitList(arg string) []string {
	var out []string
	for _, part := range strings.Split(arg, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
