package dive

import "testing"

func TestDomainFiltersAllowlist(t *testing.T) {
	f := DomainFilters{Allowlist: []string{"example.com", "icij.org"}}

	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"mail.example.com", true},
		{"www.example.com", true},
		{"icij.org", true},
		{"offshore.icij.org", true},
		{"other.org", false},
		{"example.com.attacker.net", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := f.Allows(tt.domain); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.domain, got, tt.want)
		}
	}
}

func TestDomainFiltersDenylist(t *testing.T) {
	f := DomainFilters{Denylist: []string{"facebook.com"}}

	if f.Allows("facebook.com") {
		t.Error("denylisted base domain should be rejected")
	}
	if f.Allows("m.facebook.com") {
		t.Error("subdomain of denylisted domain should be rejected")
	}
	if !f.Allows("example.com") {
		t.Error("unlisted domain should pass")
	}
}

func TestDomainFiltersDenylistWinsOverAllowlist(t *testing.T) {
	f := DomainFilters{
		Allowlist: []string{"example.com"},
		Denylist:  []string{"example.com"},
	}
	if f.Allows("example.com") {
		t.Error("domain on both lists should be denied")
	}
}

func TestDomainFiltersTLD(t *testing.T) {
	include := DomainFilters{TLDInclude: []string{".co.uk", "gov"}}

	tests := []struct {
		domain string
		want   bool
	}{
		{"companieshouse.co.uk", true},
		{"registry.service.co.uk", true},
		{"treasury.gov", true},
		{"example.com", false},
		{"fake-co.uk.com", false},
	}
	for _, tt := range tests {
		if got := include.Allows(tt.domain); got != tt.want {
			t.Errorf("include.Allows(%q) = %v, want %v", tt.domain, got, tt.want)
		}
	}

	exclude := DomainFilters{TLDExclude: []string{"ru", ".cn"}}
	if exclude.Allows("host.ru") {
		t.Error("excluded TLD should be rejected")
	}
	if exclude.Allows("site.com.cn") {
		t.Error("excluded TLD should be rejected")
	}
	if !exclude.Allows("site.com") {
		t.Error("unexcluded TLD should pass")
	}
}

func TestDomainFiltersEmptyPipeline(t *testing.T) {
	var f DomainFilters
	if !f.Allows("anything.example") {
		t.Error("empty filters should allow any domain")
	}
	if f.Allows("") {
		t.Error("empty domain should always be rejected")
	}
}

func TestNewsDomainsAreAllowlistable(t *testing.T) {
	f := DomainFilters{Allowlist: NewsDomains}
	if !f.Allows("www.theguardian.com") {
		t.Error("news subdomain should pass the news allowlist")
	}
	if f.Allows("random-blog.net") {
		t.Error("non-news domain should be rejected by the news allowlist")
	}
}
