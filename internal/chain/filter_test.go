package chain

import (
	"context"
	"strings"
	"testing"

	"submarine/internal/types"
)

func TestHeuristicFilterAdmit(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		entityType types.EntityType
		relevance  float64
		threshold  float64
		want       bool
	}{
		{"email always passes", "x@y.io", types.EntityEmail, 0.05, 0.3, true},
		{"username always passes", "vmarlowe", types.EntityUsername, 0.05, 0.3, true},
		{"free mail host rejected", "gmail.com", types.EntityDomain, 0.9, 0.3, false},
		{"free mail host rejected with www", "www.gmail.com", types.EntityDomain, 0.9, 0.3, false},
		{"corporate domain above threshold", "meridian-shipping.com", types.EntityDomain, 0.4, 0.3, true},
		{"corporate domain below threshold", "meridian-shipping.com", types.EntityDomain, 0.2, 0.3, false},
		{"person needs a higher bar", "Viktor Marlowe", types.EntityPerson, 0.55, 0.3, false},
		{"person above the bar", "Viktor Marlowe", types.EntityPerson, 0.6, 0.3, true},
		{"default uses threshold", "+50712345678", types.EntityPhone, 0.25, 0.3, false},
		{"default above threshold", "+50712345678", types.EntityPhone, 0.35, 0.3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HeuristicFilter{}.Admit(context.Background(), tt.value, tt.entityType, tt.relevance, tt.threshold)
			if err != nil {
				t.Fatalf("Admit returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Admit(%q, %s, %v, %v) = %v, want %v",
					tt.value, tt.entityType, tt.relevance, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestParseFilterVerdict(t *testing.T) {
	tests := []struct {
		reply      string
		admitted   bool
		confidence float64
		wantErr    bool
	}{
		{"yes 0.8", true, 0.8, false},
		{"No 0.9", false, 0.9, false},
		{"YES", true, 1.0, false},
		{"yes.", true, 1.0, false},
		{"yes 0.8.", true, 0.8, false},
		{"no, 0.4 is my confidence", false, 0.4, false},
		{"  Yes 1 ", true, 1.0, false},
		{"yes 3.5", true, 1.0, false}, // out-of-range confidence ignored
		{"maybe", false, 0, true},
		{"", false, 0, true},
	}

	for _, tt := range tests {
		admitted, confidence, err := parseFilterVerdict(tt.reply)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseFilterVerdict(%q) expected an error", tt.reply)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseFilterVerdict(%q) returned error: %v", tt.reply, err)
			continue
		}
		if admitted != tt.admitted || !almost(confidence, tt.confidence) {
			t.Errorf("parseFilterVerdict(%q) = (%v, %v), want (%v, %v)",
				tt.reply, admitted, confidence, tt.admitted, tt.confidence)
		}
	}
}

func TestNewGenAIFilterRequiresKey(t *testing.T) {
	_, err := NewGenAIFilter(context.Background(), "", "gemini-2.0-flash")
	if err == nil {
		t.Fatal("expected an error for a missing API key")
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Errorf("error = %q, want it to mention the API key", err)
	}
}

func TestGenAIFilterConfidenceThreshold(t *testing.T) {
	f := &GenAIFilter{confidenceThreshold: 0.5}

	f.SetConfidenceThreshold(0.8)
	if !almost(f.confidenceThreshold, 0.8) {
		t.Errorf("threshold = %v, want 0.8", f.confidenceThreshold)
	}

	// Out-of-range values are ignored.
	f.SetConfidenceThreshold(0)
	f.SetConfidenceThreshold(1.5)
	if !almost(f.confidenceThreshold, 0.8) {
		t.Errorf("threshold = %v, want 0.8 after invalid updates", f.confidenceThreshold)
	}
}
