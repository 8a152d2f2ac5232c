package extract

import (
	"strings"

	"submarine/internal/logging"
	"submarine/internal/types"
)

// ExtractionResult is everything found on one page.
type ExtractionResult struct {
	URL      string                  `json:"url,omitempty"`
	Domain   string                  `json:"domain,omitempty"`
	Entities []types.ExtractedEntity `json:"entities"`
	Counts   map[string]int          `json:"counts"`
}

// Extractor runs the tiered extraction pipeline.
type Extractor struct{}

// New returns an extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract strips markup from text and runs every extractor family over it.
// Results are deduplicated by (lowercased value, type).
func (e *Extractor) Extract(text, pageURL, domain string) *ExtractionResult {
	result := &ExtractionResult{
		URL:    pageURL,
		Domain: domain,
		Counts: make(map[string]int),
	}

	stripped := StripHTML(text)
	if stripped == "" {
		return result
	}

	seen := make(map[string]bool)
	add := func(value string, t types.EntityType, confidence float64, context string) {
		value = strings.TrimSpace(value)
		if len(value) < 3 {
			return
		}
		key := types.DedupKey(t, value)
		if seen[key] {
			return
		}
		seen[key] = true
		result.Entities = append(result.Entities, types.ExtractedEntity{
			Value:      value,
			Type:       t,
			Confidence: confidence,
			Source:     pageURL,
			Context:    context,
		})
		result.Counts[string(t)]++
	}

	// Fast pass: identifiers, contacts, crypto.
	for _, p := range fastPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(stripped, -1) {
			start, end := loc[0], loc[1]
			if p.capture > 0 {
				start, end = loc[2*p.capture], loc[2*p.capture+1]
				if start < 0 {
					continue
				}
			}
			value := stripped[start:end]
			if p.validate != nil && !p.validate(value) {
				continue
			}
			add(value, p.entityType, p.confidence, snippet(stripped, start, end))
		}
	}

	// Companies before persons: a person candidate inside a company name is
	// a fragment, not a person.
	companies := e.extractCompanies(stripped, add)
	e.extractPersons(stripped, companies, add)

	if len(result.Entities) > 0 {
		logging.ExtractDebug("Extracted %d entities from %s (%v)", len(result.Entities), pageURL, result.Counts)
	}
	return result
}

func (e *Extractor) extractCompanies(text string, add func(string, types.EntityType, float64, string)) []string {
	var names []string
	count := 0
	for _, loc := range companyPattern.FindAllStringSubmatchIndex(text, -1) {
		if count >= maxNamesPerPage {
			break
		}
		start, end := loc[2], loc[3]
		name := strings.TrimRight(strings.TrimSpace(text[start:end]), ".")
		names = append(names, name)
		add(name, types.EntityCompany, ConfidenceCompany, snippet(text, start, end))
		count++
	}
	return names
}

func (e *Extractor) extractPersons(text string, companies []string, add func(string, types.EntityType, float64, string)) {
	count := 0
	for _, loc := range personPattern.FindAllStringIndex(text, -1) {
		if count >= maxNamesPerPage {
			break
		}
		candidate := stripLeadingStopwords(text[loc[0]:loc[1]])
		if candidate == "" || personPattern.FindString(candidate) != candidate {
			continue
		}
		if insideCompanyName(candidate, companies) {
			continue
		}
		add(candidate, types.EntityPerson, ConfidencePerson, snippet(text, loc[0], loc[1]))
		count++
	}
}

// stripLeadingStopwords drops page furniture and role words from the front
// of a candidate, so "Director Viktor Petrov" yields the name, not the
// title. Returns "" when nothing name-like remains.
func stripLeadingStopwords(candidate string) string {
	for {
		first, rest, ok := strings.Cut(candidate, " ")
		if !ok {
			return ""
		}
		if personStopwords[first] {
			candidate = rest
			continue
		}
		return candidate
	}
}

func insideCompanyName(candidate string, companies []string) bool {
	for _, c := range companies {
		if strings.Contains(c, candidate) {
			return true
		}
	}
	return false
}

// snippet returns the match with up to 40 characters of context each side.
func snippet(text string, start, end int) string {
	s := start - 40
	if s < 0 {
		s = 0
	}
	e := end + 40
	if e > len(text) {
		e = len(text)
	}
	return text[s:e]
}
