package dive

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"submarine/internal/ccindex"
	"submarine/internal/config"
	"submarine/internal/events"
	"submarine/internal/logging"
	"submarine/internal/sonar"
	"submarine/internal/types"
)

// SonarScanner is the slice of the sonar API the planner needs.
type SonarScanner interface {
	ScanAll(ctx context.Context, query string, limit int) (*sonar.ScanResult, error)
}

// IndexClient is the slice of the cc index API the planner needs.
type IndexClient interface {
	LookupDomain(ctx context.Context, domain string, opts ccindex.QueryOptions) ([]types.CCRecord, error)
	Search(ctx context.Context, pattern string, opts ccindex.QueryOptions) ([]types.CCRecord, error)
	Archives() []string
}

// PlanRequest carries the create-plan parameters. Zero values take the
// configured defaults.
type PlanRequest struct {
	Query                 string `validate:"required"`
	MaxDomains            int    `validate:"min=0"`
	MaxPagesPerDomain     int    `validate:"min=0"`
	MaxTotalPages         int    `validate:"min=0"`
	CCArchives            []string
	FilterStatus          int
	FilterMIME            string
	FilterLanguages       []string
	FromTS                string
	ToTS                  string
	URLContains           string
	Filters               DomainFilters
	EnableKeywordFallback bool
}

// NewPlanRequest returns a request with the standard defaults.
func NewPlanRequest(query string) PlanRequest {
	return PlanRequest{
		Query:                 query,
		FilterStatus:          200,
		EnableKeywordFallback: true,
	}
}

// Planner composes sonar and cc index results into a DivePlan.
type Planner struct {
	sonar     SonarScanner
	periscope IndexClient
	cfg       *config.Config
	sink      types.EventSink
}

// NewPlanner builds a planner. sink may be nil.
func NewPlanner(scanner SonarScanner, index IndexClient, cfg *config.Config, sink types.EventSink) *Planner {
	return &Planner{sonar: scanner, periscope: index, cfg: cfg, sink: sink}
}

// normalize applies defaults and clamps the caps.
func (pl *Planner) normalize(req *PlanRequest) error {
	if err := config.GetValidator().Struct(req); err != nil {
		return fmt.Errorf("invalid plan request: %w", err)
	}

	if req.MaxDomains <= 0 || req.MaxDomains > pl.cfg.Dive.MaxDomains {
		req.MaxDomains = pl.cfg.Dive.MaxDomains
	}
	if req.MaxPagesPerDomain <= 0 {
		req.MaxPagesPerDomain = pl.cfg.Dive.MaxPagesPerDomain
	}
	if req.MaxPagesPerDomain > config.MaxPagesCap {
		req.MaxPagesPerDomain = config.MaxPagesCap
	}
	if req.MaxTotalPages <= 0 {
		req.MaxTotalPages = pl.cfg.Dive.MaxTotalPages
	}
	if req.FilterStatus == 0 {
		req.FilterStatus = 200
	}
	if len(req.CCArchives) == 0 {
		req.CCArchives = pl.periscope.Archives()
	}
	return nil
}

// CreatePlan runs the full pipeline: sonar seed, filters, keyword fallback,
// prioritization, and the cc index fan-out. Per-domain failures are skipped;
// only a malformed request fails the call.
func (pl *Planner) CreatePlan(ctx context.Context, req PlanRequest) (*DivePlan, error) {
	if err := pl.normalize(&req); err != nil {
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryPlanner, "create_plan")
	defer timer.Stop()

	scan := pl.seedScan(ctx, req.Query)
	source := "sonar"
	if len(scan.Domains) == 0 {
		source = "query"
	}
	seeds := pl.applyFilters(pl.seedDomains(req.Query, scan), req.Filters)

	if len(seeds) == 0 && req.EnableKeywordFallback {
		if pattern := keywordPattern(req); pattern != "" {
			logging.Planner("No seed domains for %q; trying index keyword fallback %q", req.Query, pattern)
			return pl.planFromKeyword(ctx, req, pattern)
		}
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seed domains for query %q", req.Query)
	}

	if len(seeds) > req.MaxDomains {
		seeds = pl.rankSeeds(seeds, scan, req.Query)[:req.MaxDomains]
	}

	targets := pl.fanOut(ctx, seeds, scan, req, source)
	return pl.finish(req, targets)
}

// PlanFromDomains builds a plan for callers that already hold a domain list.
func (pl *Planner) PlanFromDomains(ctx context.Context, domains []string, req PlanRequest) (*DivePlan, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains given")
	}
	if req.Query == "" {
		req.Query = domains[0]
	}
	if err := pl.normalize(&req); err != nil {
		return nil, err
	}

	seeds := pl.applyFilters(domains, req.Filters)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("all %d domains were filtered out", len(domains))
	}
	if len(seeds) > req.MaxDomains {
		seeds = seeds[:req.MaxDomains]
	}

	targets := pl.fanOut(ctx, seeds, nil, req, "caller")
	return pl.finish(req, targets)
}

// seedScan queries sonar; a failed scan degrades to no seeds.
func (pl *Planner) seedScan(ctx context.Context, query string) *sonar.ScanResult {
	scan, err := pl.sonar.ScanAll(ctx, query, pl.cfg.Sonar.Limit)
	if err != nil {
		logging.PlannerWarn("Sonar scan failed for %q: %v", query, err)
		return &sonar.ScanResult{Query: query, QueryType: sonar.Classify(query)}
	}
	return scan
}

// seedDomains starts from sonar's domains and falls back to parsing the
// query itself as a URL, domain, or email.
func (pl *Planner) seedDomains(query string, scan *sonar.ScanResult) []string {
	if len(scan.Domains) > 0 {
		return scan.Domains
	}

	q := strings.TrimSpace(query)
	switch scan.QueryType {
	case sonar.QueryURL:
		if parsed, err := url.Parse(q); err == nil && parsed.Hostname() != "" {
			return []string{parsed.Hostname()}
		}
	case sonar.QueryDomain:
		return []string{q}
	case sonar.QueryEmail:
		if addr, err := mail.ParseAddress(q); err == nil {
			if _, host, ok := strings.Cut(addr.Address, "@"); ok {
				return []string{host}
			}
		}
		if _, host, ok := strings.Cut(q, "@"); ok {
			return []string{host}
		}
	}
	return nil
}

func (pl *Planner) applyFilters(domains []string, filters DomainFilters) []string {
	var out []string
	seen := make(map[string]bool)
	for _, d := range domains {
		n := types.NormalizeDomain(d)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if filters.Allows(n) {
			out = append(out, n)
		}
	}
	return out
}

// rankSeeds orders seeds by priority before truncation, so a domain cap
// drops the weakest seeds first.
func (pl *Planner) rankSeeds(seeds []string, scan *sonar.ScanResult, query string) []string {
	ranked := make([]string, len(seeds))
	copy(ranked, seeds)
	sort.SliceStable(ranked, func(i, j int) bool {
		return prioritize(ranked[i], scan, query) < prioritize(ranked[j], scan, query)
	})
	return ranked
}

// prioritize maps a domain to a priority class, 1 best.
func prioritize(domain string, scan *sonar.ScanResult, query string) int {
	if scan == nil {
		return 2
	}

	queryDomain := ""
	if scan.QueryType == sonar.QueryDomain {
		queryDomain = types.NormalizeDomain(query)
	}
	if queryDomain != "" {
		if domain == queryDomain || strings.HasSuffix(domain, "."+queryDomain) {
			return 1
		}
	}

	best := 5
	for _, h := range scan.Hits {
		if types.NormalizeDomain(h.Domain) != domain {
			continue
		}
		var p int
		switch h.MatchType {
		case "phone", "email", "breach":
			p = 1
		case "entity":
			p = 2
		case "graph":
			p = 3
		default:
			p = 4
		}
		if p < best {
			best = p
		}
	}
	return best
}

// fanOut resolves every (domain, archive) pair against the cc index under a
// bounded errgroup, then merges and dedupes per domain.
func (pl *Planner) fanOut(ctx context.Context, seeds []string, scan *sonar.ScanResult, req PlanRequest, source string) []DiveTarget {
	var mu sync.Mutex
	recordsByDomain := make(map[string][]types.CCRecord)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(pl.cfg.CCIndex.Concurrency)

	for _, domain := range seeds {
		for _, archive := range req.CCArchives {
			domain, archive := domain, archive
			eg.Go(func() error {
				records, err := pl.periscope.LookupDomain(egCtx, domain, ccindex.QueryOptions{
					Archive:         archive,
					Limit:           req.MaxPagesPerDomain,
					FilterStatus:    req.FilterStatus,
					FilterMIME:      req.FilterMIME,
					FilterLanguages: req.FilterLanguages,
					FromTS:          req.FromTS,
					ToTS:            req.ToTS,
					URLContains:     req.URLContains,
				})
				if err != nil {
					logging.PlannerDebug("Lookup %s on %s failed: %v", domain, archive, err)
					return nil
				}
				mu.Lock()
				recordsByDomain[domain] = append(recordsByDomain[domain], records...)
				mu.Unlock()
				return nil
			})
		}
	}
	// Lookup closures always return nil; failures are logged and skipped.
	_ = eg.Wait()

	var targets []DiveTarget
	for _, domain := range seeds {
		records := dedupeRecords(recordsByDomain[domain])
		if len(records) == 0 {
			continue
		}
		if len(records) > req.MaxPagesPerDomain {
			records = records[:req.MaxPagesPerDomain]
		}
		targets = append(targets, DiveTarget{
			Domain:    domain,
			Priority:  prioritize(domain, scan, req.Query),
			Source:    source,
			CCRecords: records,
		})
	}
	return targets
}

// planFromKeyword searches the index for a URL pattern, buckets hits by
// domain, and keeps the biggest buckets.
func (pl *Planner) planFromKeyword(ctx context.Context, req PlanRequest, pattern string) (*DivePlan, error) {
	seen := make(map[string]bool)
	buckets := make(map[string][]types.CCRecord)

	for _, archive := range req.CCArchives {
		records, err := pl.periscope.Search(ctx, pattern, ccindex.QueryOptions{
			Archive:         archive,
			Limit:           pl.cfg.CCIndex.PageLimit,
			FilterStatus:    req.FilterStatus,
			FilterMIME:      req.FilterMIME,
			FilterLanguages: req.FilterLanguages,
			FromTS:          req.FromTS,
			ToTS:            req.ToTS,
		})
		if err != nil {
			logging.PlannerDebug("Keyword search on %s failed: %v", archive, err)
			continue
		}
		for _, r := range records {
			if seen[r.Key()] {
				continue
			}
			seen[r.Key()] = true
			domain := domainOfRecord(r)
			if domain == "" || !req.Filters.Allows(domain) {
				continue
			}
			buckets[domain] = append(buckets[domain], r)
		}
	}

	if len(buckets) == 0 {
		return nil, fmt.Errorf("keyword fallback found no domains for %q", pattern)
	}

	domains := make([]string, 0, len(buckets))
	for d := range buckets {
		domains = append(domains, d)
	}
	sort.SliceStable(domains, func(i, j int) bool {
		if len(buckets[domains[i]]) != len(buckets[domains[j]]) {
			return len(buckets[domains[i]]) > len(buckets[domains[j]])
		}
		return domains[i] < domains[j]
	})
	if len(domains) > req.MaxDomains {
		domains = domains[:req.MaxDomains]
	}

	targets := make([]DiveTarget, 0, len(domains))
	for rank, d := range domains {
		records := buckets[d]
		if len(records) > req.MaxPagesPerDomain {
			records = records[:req.MaxPagesPerDomain]
		}
		targets = append(targets, DiveTarget{
			Domain:    d,
			Priority:  rankToPriority(rank, len(domains)),
			Source:    "periscope_keyword",
			CCRecords: records,
		})
	}
	return pl.finish(req, targets)
}

// rankToPriority spreads count-ranked domains across the 1..5 bands.
func rankToPriority(rank, total int) int {
	if total <= 0 {
		return 5
	}
	p := rank*5/total + 1
	if p > 5 {
		p = 5
	}
	return p
}

func domainOfRecord(r types.CCRecord) string {
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return types.NormalizeDomain(parsed.Hostname())
}

func dedupeRecords(records []types.CCRecord) []types.CCRecord {
	seen := make(map[string]bool)
	var out []types.CCRecord
	for _, r := range records {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}

// finish sorts targets, applies the total-page cap, computes totals, and
// emits the plan event.
func (pl *Planner) finish(req PlanRequest, targets []DiveTarget) (*DivePlan, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no reachable pages for query %q", req.Query)
	}

	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Priority != targets[j].Priority {
			return targets[i].Priority < targets[j].Priority
		}
		if len(targets[i].CCRecords) != len(targets[j].CCRecords) {
			return len(targets[i].CCRecords) > len(targets[j].CCRecords)
		}
		return targets[i].Domain < targets[j].Domain
	})

	targets = applyTotalCap(targets, req.MaxTotalPages)

	plan := &DivePlan{
		ID:        uuid.NewString(),
		Query:     req.Query,
		CreatedAt: time.Now().UTC(),
		Archives:  req.CCArchives,
		Targets:   targets,
	}
	plan.recomputeTotals()

	logging.Planner("Plan %s: %d domains, %d pages, ~%d bytes",
		plan.ID, plan.TotalDomains, plan.TotalPages, plan.EstimatedBytes)
	logging.Audit().PlanCreated(plan.ID, plan.Query, plan.TotalDomains, plan.TotalPages)
	if pl.sink != nil {
		pl.sink.Emit(events.SubmarinePlan, plan.Summary())
	}
	return plan, nil
}

// applyTotalCap trims the lowest-priority tail so the plan never exceeds the
// overall page budget.
func applyTotalCap(targets []DiveTarget, maxTotal int) []DiveTarget {
	if maxTotal <= 0 {
		return targets
	}
	total := 0
	for i := range targets {
		n := len(targets[i].CCRecords)
		if total+n <= maxTotal {
			total += n
			continue
		}
		keep := maxTotal - total
		if keep > 0 {
			targets[i].CCRecords = targets[i].CCRecords[:keep]
			return targets[:i+1]
		}
		return targets[:i]
	}
	return targets
}

// keywordPattern derives the index search pattern for the fallback path.
func keywordPattern(req PlanRequest) string {
	if req.URLContains != "" {
		return "*" + strings.Trim(req.URLContains, "*") + "*"
	}
	qt := sonar.Classify(req.Query)
	if qt != sonar.QueryPerson && qt != sonar.QueryCompany && qt != sonar.QueryGeneric {
		return ""
	}
	words := strings.Fields(strings.ToLower(req.Query))
	if len(words) == 0 {
		return ""
	}
	return "*" + strings.Join(words, "*") + "*"
}
