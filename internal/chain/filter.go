package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"submarine/internal/types"
)

// freeMailDomains are generic mail providers. Their hosts never identify an
// organisation, so domain reasoning excludes them.
var freeMailDomains = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"hotmail.com": true,
	"outlook.com": true,
}

// EntityFilter decides whether a candidate entity enters the discovery queue.
// threshold is the run's minimum relevance; backends may apply their own bar
// on top of it.
type EntityFilter interface {
	Admit(ctx context.Context, value string, entityType types.EntityType, relevance, threshold float64) (bool, error)
}

// HeuristicFilter is the zero-cost default: machine-verifiable identifiers
// always pass, free-mail hosts never do, people need a higher bar.
type HeuristicFilter struct{}

func (HeuristicFilter) Admit(_ context.Context, value string, entityType types.EntityType, relevance, threshold float64) (bool, error) {
	switch entityType {
	case types.EntityEmail, types.EntityUsername:
		return true, nil
	case types.EntityDomain:
		if freeMailDomains[types.NormalizeDomain(value)] {
			return false, nil
		}
		return relevance >= threshold, nil
	case types.EntityPerson:
		return relevance >= 0.6, nil
	default:
		return relevance >= threshold, nil
	}
}

// =============================================================================
// GENAI FILTER
// =============================================================================

// GenAIFilter asks a Gemini model whether a candidate plausibly belongs to
// the investigation. Callers fall back to the heuristic on error.
type GenAIFilter struct {
	client              *genai.Client
	model               string
	confidenceThreshold float64
}

// NewGenAIFilter creates a Gemini-backed entity filter.
func NewGenAIFilter(ctx context.Context, apiKey, model string) (*GenAIFilter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIFilter{
		client:              client,
		model:               model,
		confidenceThreshold: 0.5,
	}, nil
}

// SetConfidenceThreshold overrides the 0.5 default. Call before the filter
// is shared across runs.
func (f *GenAIFilter) SetConfidenceThreshold(v float64) {
	if v > 0 && v <= 1 {
		f.confidenceThreshold = v
	}
}

func (f *GenAIFilter) Admit(ctx context.Context, value string, entityType types.EntityType, relevance, _ float64) (bool, error) {
	prompt := fmt.Sprintf(
		"You screen leads for an investigation. The candidate below was found "+
			"while expanding from a known subject. Judge whether it plausibly "+
			"identifies a specific person or organisation rather than a generic, "+
			"placeholder or unrelated value.\n\n"+
			"Candidate: %s\nType: %s\nHeuristic relevance: %.2f\n\n"+
			"Reply with a single line: yes or no, then a confidence between 0 and 1. "+
			"Example: yes 0.8",
		value, entityType, relevance,
	)
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := f.client.Models.GenerateContent(ctx, f.model, contents, nil)
	if err != nil {
		return false, fmt.Errorf("GenAI filter call failed: %w", err)
	}

	admitted, confidence, err := parseFilterVerdict(resp.Text())
	if err != nil {
		return false, err
	}
	return admitted && confidence >= f.confidenceThreshold, nil
}

// parseFilterVerdict reads a "yes 0.8" style reply. A missing confidence
// counts as full confidence.
func parseFilterVerdict(reply string) (bool, float64, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(reply)))
	if len(fields) == 0 {
		return false, 0, fmt.Errorf("empty filter verdict")
	}

	var admitted bool
	switch {
	case strings.HasPrefix(fields[0], "yes"):
		admitted = true
	case strings.HasPrefix(fields[0], "no"):
		admitted = false
	default:
		return false, 0, fmt.Errorf("unparseable filter verdict %q", reply)
	}

	confidence := 1.0
	if len(fields) > 1 {
		if v, err := strconv.ParseFloat(strings.Trim(fields[1], ".,"), 64); err == nil && v >= 0 && v <= 1 {
			confidence = v
		}
	}
	return admitted, confidence, nil
}
