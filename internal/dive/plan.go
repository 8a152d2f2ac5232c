// Package dive plans and tracks archive acquisition. A DivePlan binds the
// domains worth fetching to the exact WARC byte ranges that hold their
// pages; the plan file doubles as the resume checkpoint.
package dive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"submarine/internal/logging"
	"submarine/internal/types"
)

// ErrPlanInvalid marks a plan that parsed but cannot be executed. Callers
// distinguish it from IO failures when deciding whether retrying makes sense.
var ErrPlanInvalid = errors.New("invalid dive plan")

// DiveTarget is one domain inside a plan.
type DiveTarget struct {
	Domain    string           `json:"domain"`
	Priority  int              `json:"priority"` // 1 best .. 5 worst
	Source    string           `json:"source"`
	CCRecords []types.CCRecord `json:"cc_records"`
}

// DivePlan is the unit of acquisition work.
type DivePlan struct {
	ID               string       `json:"id"`
	Query            string       `json:"query"`
	CreatedAt        time.Time    `json:"created_at"`
	Archives         []string     `json:"archives"`
	Targets          []DiveTarget `json:"targets"`
	CompletedDomains []string     `json:"completed_domains"`
	TotalDomains     int          `json:"total_domains"`
	TotalPages       int          `json:"total_pages"`
	EstimatedBytes   int64        `json:"estimated_bytes"`
	EstimatedSeconds float64      `json:"estimated_seconds"`
}

// recomputeTotals keeps the derived fields consistent with Targets.
func (p *DivePlan) recomputeTotals() {
	p.TotalDomains = len(p.Targets)
	p.TotalPages = 0
	p.EstimatedBytes = 0
	for _, t := range p.Targets {
		p.TotalPages += len(t.CCRecords)
		for _, r := range t.CCRecords {
			p.EstimatedBytes += r.Length
		}
	}
	p.EstimatedSeconds = float64(p.TotalPages) * 0.1
}

// IsCompleted reports whether a domain has been fully fetched.
func (p *DivePlan) IsCompleted(domain string) bool {
	for _, d := range p.CompletedDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// MarkCompleted records a fully fetched domain. Idempotent.
func (p *DivePlan) MarkCompleted(domain string) {
	if p.IsCompleted(domain) {
		return
	}
	p.CompletedDomains = append(p.CompletedDomains, domain)
}

// RemainingTargets returns the targets not yet completed.
func (p *DivePlan) RemainingTargets() []DiveTarget {
	var out []DiveTarget
	for _, t := range p.Targets {
		if !p.IsCompleted(t.Domain) {
			out = append(out, t)
		}
	}
	return out
}

// ExpectedByDomain maps each incomplete domain to its record count.
func (p *DivePlan) ExpectedByDomain() map[string]int {
	out := make(map[string]int)
	for _, t := range p.Targets {
		if !p.IsCompleted(t.Domain) {
			out[t.Domain] = len(t.CCRecords)
		}
	}
	return out
}

// Summary returns the plan without per-record detail, for display and the
// submarine:plan event.
func (p *DivePlan) Summary() map[string]any {
	domains := make([]map[string]any, 0, len(p.Targets))
	for _, t := range p.Targets {
		domains = append(domains, map[string]any{
			"domain":   t.Domain,
			"priority": t.Priority,
			"source":   t.Source,
			"pages":    len(t.CCRecords),
		})
	}
	return map[string]any{
		"id":                p.ID,
		"query":             p.Query,
		"created_at":        p.CreatedAt.Format(time.RFC3339),
		"archives":          p.Archives,
		"domains":           domains,
		"total_domains":     p.TotalDomains,
		"total_pages":       p.TotalPages,
		"estimated_bytes":   p.EstimatedBytes,
		"estimated_seconds": p.EstimatedSeconds,
		"completed_domains": len(p.CompletedDomains),
	}
}

// Full returns the plan with per-record detail as a JSON-shaped map. Only
// this form carries enough to resume; Summary drops the records.
func (p *DivePlan) Full() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("reshape plan: %w", err)
	}
	return out, nil
}

// Save writes the full plan atomically so a crash mid-checkpoint can never
// corrupt the resume file.
func (p *DivePlan) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plan directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit plan: %w", err)
	}

	logging.PlannerDebug("Plan %s saved to %s (%d bytes)", p.ID, path, len(data))
	return nil
}

// LoadPlan restores a plan with full record detail from a checkpoint file.
func LoadPlan(path string) (*DivePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var plan DivePlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if plan.ID == "" || len(plan.Targets) == 0 {
		return nil, fmt.Errorf("plan %s is empty: %w", path, ErrPlanInvalid)
	}

	plan.recomputeTotals()
	logging.Planner("Loaded plan %s: %d domains, %d pages, %d completed",
		plan.ID, plan.TotalDomains, plan.TotalPages, len(plan.CompletedDomains))
	return &plan, nil
}
