package types

import (
	"testing"
	"time"
)

func TestCCRecordKey(t *testing.T) {
	r := CCRecord{
		URL:      "https://example.com/about",
		Filename: "crawl-data/CC-MAIN-2024-10/segments/123/warc/file.warc.gz",
		Offset:   4096,
		Length:   1024,
	}
	want := "crawl-data/CC-MAIN-2024-10/segments/123/warc/file.warc.gz:4096:1024"
	if got := r.Key(); got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}

	// Key ignores the URL: the same bytes fetched via two index entries
	// must collapse to one record.
	r2 := r
	r2.URL = "https://www.example.com/about"
	if r.Key() != r2.Key() {
		t.Fatalf("keys differ for identical byte ranges: %q vs %q", r.Key(), r2.Key())
	}
}

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"www.example.com", "example.com"},
		{"  www.Example.com  ", "example.com"},
		{"example.com:8080", "example.com"},
		{"example.com.", "example.com"},
		{"sub.www.example.com", "sub.www.example.com"}, // only a leading www. is stripped
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeDomain(tc.in); got != tc.want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDedupKey(t *testing.T) {
	a := DedupKey(EntityEmail, "John.Doe@Example.com")
	b := DedupKey(EntityEmail, "  john.doe@example.com ")
	if a != b {
		t.Fatalf("dedup keys differ: %q vs %q", a, b)
	}
	if want := "email:john.doe@example.com"; a != want {
		t.Fatalf("DedupKey = %q, want %q", a, want)
	}

	// Idempotence: keying a key changes nothing.
	if got := DedupKey(EntityEmail, "john.doe@example.com"); DedupKey(EntityEmail, got[len("email:"):]) != got {
		t.Fatalf("DedupKey is not idempotent: %q", got)
	}
}

func TestTimestamp14(t *testing.T) {
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	if got, want := Timestamp14(ts), "20240315093000"; got != want {
		t.Fatalf("Timestamp14 = %q, want %q", got, want)
	}
}

func TestRuleResultSucceeded(t *testing.T) {
	if (&RuleResult{Status: "failed"}).Succeeded() {
		t.Fatal("failed result reported success")
	}
	if !(&RuleResult{Status: "success"}).Succeeded() {
		t.Fatal("success result reported failure")
	}
	var nilResult *RuleResult
	if nilResult.Succeeded() {
		t.Fatal("nil result reported success")
	}
}
