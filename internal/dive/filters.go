package dive

import (
	"strings"

	"golang.org/x/net/publicsuffix"

	"submarine/internal/types"
)

// NewsDomains is the allowlist behind the news shorthand in chain orders.
var NewsDomains = []string{
	"bbc.co.uk", "theguardian.com", "nytimes.com", "reuters.com",
	"apnews.com", "aljazeera.com", "ft.com", "wsj.com", "bloomberg.com",
	"icij.org", "occrp.org", "bellingcat.com", "lemonde.fr", "spiegel.de",
	"elpais.com", "corriere.it", "asahi.com", "smh.com.au",
}

// DomainFilters is the allow/deny pipeline applied to every seed domain.
type DomainFilters struct {
	Allowlist  []string
	Denylist   []string
	TLDInclude []string
	TLDExclude []string
}

// Allows runs the full pipeline. Allowlist and denylist match by registrable
// base domain, so "example.com" covers "mail.example.com". TLD filters match
// by exact suffix, so ".co.uk" style entries work.
func (f DomainFilters) Allows(domain string) bool {
	domain = types.NormalizeDomain(domain)
	if domain == "" {
		return false
	}

	if len(f.Allowlist) > 0 && !matchesAnyBase(domain, f.Allowlist) {
		return false
	}
	if matchesAnyBase(domain, f.Denylist) {
		return false
	}
	if len(f.TLDInclude) > 0 && !hasAnySuffix(domain, f.TLDInclude) {
		return false
	}
	if hasAnySuffix(domain, f.TLDExclude) {
		return false
	}
	return true
}

// matchesAnyBase reports whether domain shares a registrable base with any
// entry, or is a subdomain of one.
func matchesAnyBase(domain string, entries []string) bool {
	for _, entry := range entries {
		entry = types.NormalizeDomain(entry)
		if entry == "" {
			continue
		}
		if domain == entry || strings.HasSuffix(domain, "."+entry) {
			return true
		}
		if baseDomain(domain) == baseDomain(entry) {
			return true
		}
	}
	return false
}

// baseDomain returns the registrable domain (eTLD+1), falling back to the
// input when the public suffix list cannot resolve it.
func baseDomain(domain string) string {
	base, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return base
}

func hasAnySuffix(domain string, suffixes []string) bool {
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		if strings.HasSuffix(domain, s) {
			return true
		}
	}
	return false
}
