package chain

import (
	"math"
	"strings"

	"submarine/internal/rules"
)

// Scorer computes the relevance of a discovered entity relative to the chain
// seed. Scores decay per hop, common names lose trust, ties back to the root
// earn it, and every hop's source multiplies its provenance weight in.
type Scorer struct {
	DecayPerStep      float64
	CommonNamePenalty float64
	NameWeight        float64
	ConnectionWeight  float64
}

func NewScorer(cfg rules.ChainConfig) *Scorer {
	decay := cfg.DecayPerStep
	if decay <= 0 || decay >= 1 {
		decay = defaultDecayPerStep
	}
	return &Scorer{
		DecayPerStep:      decay,
		CommonNamePenalty: 0.7,
		NameWeight:        0.3,
		ConnectionWeight:  1.0,
	}
}

// Score returns the clamped relevance of value discovered at the given depth.
// source is the rule or data source that produced it; chainSources are the
// sources of every earlier hop on the discovery path.
func (s *Scorer) Score(value, root string, depth int, source string, chainSources []string) float64 {
	if depth < 0 {
		depth = 0
	}
	score := math.Pow(1-s.DecayPerStep, float64(depth))

	lv := strings.ToLower(strings.TrimSpace(value))
	lr := strings.ToLower(strings.TrimSpace(root))

	if containsCommonName(lv) {
		score -= s.CommonNamePenalty * s.NameWeight
	}

	if lv != "" && lr != "" {
		switch {
		case lv == lr:
			score += 0.30 * s.ConnectionWeight
		case strings.Contains(lv, lr) || strings.Contains(lr, lv):
			score += 0.20 * s.ConnectionWeight
		case sameMailHost(lv, lr):
			score += 0.15 * s.ConnectionWeight
		}
	}

	score *= ProvenanceWeight(source)
	for _, src := range chainSources {
		score *= ProvenanceWeight(src)
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// commonNames are first names, surnames and mailbox labels too generic to
// carry identity on their own.
var commonNames = []string{
	"john", "james", "michael", "david", "robert", "william", "richard",
	"thomas", "mary", "jennifer", "linda", "sarah",
	"smith", "jones", "brown", "williams", "taylor", "davies", "wilson", "evans",
	"test", "admin", "user", "info", "contact", "support", "noreply", "no-reply", "example",
}

func containsCommonName(lowered string) bool {
	for _, name := range commonNames {
		if strings.Contains(lowered, name) {
			return true
		}
	}
	return false
}

// sameMailHost reports whether two addresses share the part after the last @.
func sameMailHost(a, b string) bool {
	ia := strings.LastIndex(a, "@")
	ib := strings.LastIndex(b, "@")
	if ia < 0 || ib < 0 {
		return false
	}
	ha := a[ia+1:]
	hb := b[ib+1:]
	return ha != "" && ha == hb
}

// Provenance weights by exact source tag. Rule IDs and free-form tags fall
// through to the keyword table below.
var provenanceWeights = map[string]float64{
	"companies_house":   0.97,
	"handelsregister":   0.96,
	"official_registry": 0.95,
	"opencorporates":    0.90,
	"opensanctions":     0.85,
	"dns":               0.85,
	"whois":             0.82,
	"dehashed":          0.80,
	"breach_data":       0.75,
	"osint_industries":  0.75,
	"ai_extraction":     0.75,
	"linkedin":          0.70,
	"news":              0.70,
	"web_scrape":        0.60,
}

// Keyword fallbacks, scanned in order. First match wins, so the more
// trustworthy fragments come first.
var provenanceKeywords = []struct {
	fragment string
	weight   float64
}{
	{"companies_house", 0.97},
	{"handelsregister", 0.96},
	{"registry", 0.95},
	{"registrar", 0.95},
	{"opencorporates", 0.90},
	{"sanction", 0.85},
	{"dns", 0.85},
	{"whois", 0.82},
	{"dehashed", 0.80},
	{"breach", 0.75},
	{"osint", 0.75},
	{"linkedin", 0.70},
	{"news", 0.70},
	{"media", 0.70},
	{"scrape", 0.60},
}

const unknownProvenance = 0.50

// ProvenanceWeight maps a source tag or rule ID to its trust weight.
func ProvenanceWeight(source string) float64 {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		return unknownProvenance
	}
	if w, ok := provenanceWeights[s]; ok {
		return w
	}
	for _, kw := range provenanceKeywords {
		if strings.Contains(s, kw.fragment) {
			return kw.weight
		}
	}
	return unknownProvenance
}
