package chain

import (
	"math"
	"testing"

	"submarine/internal/rules"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScore(t *testing.T) {
	s := NewScorer(rules.ChainConfig{})

	tests := []struct {
		name         string
		value, root  string
		depth        int
		source       string
		chainSources []string
		want         float64
	}{
		{
			name:  "unknown source at depth zero",
			value: "meridian", root: "zenith-corp", depth: 0,
			want: 0.5,
		},
		{
			name:  "decay per hop",
			value: "meridian", root: "zenith-corp", depth: 1,
			want: 0.425,
		},
		{
			name:  "decay compounds",
			value: "meridian", root: "zenith-corp", depth: 2,
			want: 0.36125,
		},
		{
			name:  "negative depth clamps to zero",
			value: "meridian", root: "zenith-corp", depth: -3,
			want: 0.5,
		},
		{
			name:  "exact root match bonus",
			value: "Meridian Holdings SA", root: "meridian holdings sa", depth: 1,
			want: (0.85 + 0.30) * 0.5,
		},
		{
			name:  "substring root bonus",
			value: "meridian-shipping.com", root: "ops@meridian-shipping.com", depth: 1,
			want: (0.85 + 0.20) * 0.5,
		},
		{
			name:  "shared mail host bonus",
			value: "crew@zenith.pa", root: "ops@zenith.pa", depth: 1,
			want: (0.85 + 0.15) * 0.5,
		},
		{
			name:  "common name penalty",
			value: "info@zenith.pa", root: "meridian", depth: 0,
			want: (1.0 - 0.7*0.3) * 0.5,
		},
		{
			name:  "penalty and host bonus and provenance together",
			value: "info@meridian-shipping.com", root: "ops@meridian-shipping.com", depth: 1,
			source: "OSINT_FROM_EMAIL",
			want:   0.5925,
		},
		{
			name:  "chain sources multiply in",
			value: "info@meridian-shipping.com", root: "ops@meridian-shipping.com", depth: 1,
			source: "OSINT_FROM_EMAIL", chainSources: []string{"WHOIS_FROM_DOMAIN"},
			want: 0.5925 * 0.82,
		},
		{
			name:  "clamped at zero",
			value: "test", root: "zzzzz", depth: 20,
			want: 0,
		},
		{
			name:  "clamped at one",
			value: "Pelican Holdings", root: "pelican holdings", depth: 0,
			source: "companies_house",
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(tt.value, tt.root, tt.depth, tt.source, tt.chainSources)
			if !almost(got, tt.want) {
				t.Errorf("Score(%q, %q, %d, %q, %v) = %.9f, want %.9f",
					tt.value, tt.root, tt.depth, tt.source, tt.chainSources, got, tt.want)
			}
		})
	}
}

func TestNewScorerDecay(t *testing.T) {
	tests := []struct {
		cfgDecay float64
		want     float64
	}{
		{0, 0.15},
		{0.4, 0.4},
		{1.5, 0.15},
		{-0.2, 0.15},
	}
	for _, tt := range tests {
		s := NewScorer(rules.ChainConfig{DecayPerStep: tt.cfgDecay})
		if !almost(s.DecayPerStep, tt.want) {
			t.Errorf("NewScorer decay %v = %v, want %v", tt.cfgDecay, s.DecayPerStep, tt.want)
		}
	}
}

func TestProvenanceWeight(t *testing.T) {
	tests := []struct {
		source string
		want   float64
	}{
		{"companies_house", 0.97},
		{"whois", 0.82},
		{"web_scrape", 0.60},
		{"WHOIS_FROM_DOMAIN", 0.82},
		{"COMPANIES_HOUSE_OFFICERS", 0.97},
		{"DEHASHED_FROM_EMAIL", 0.80},
		{"OSINT_INDUSTRIES_FROM_NAME", 0.75},
		{"news_scan", 0.70},
		{"DOMAIN_LOOKUP", 0.50},
		{"", 0.50},
	}
	for _, tt := range tests {
		if got := ProvenanceWeight(tt.source); !almost(got, tt.want) {
			t.Errorf("ProvenanceWeight(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}
