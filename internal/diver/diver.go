package diver

import (
	"context"
	"fmt"
	"time"

	"submarine/internal/ccindex"
	"submarine/internal/config"
	"submarine/internal/dive"
	"submarine/internal/events"
	"submarine/internal/logging"
	"submarine/internal/types"
)

// PageHandler consumes pages in completion order. Returning ErrStop ends
// the stream cleanly; any other error aborts and is returned to the caller.
type PageHandler func(page types.PageRecord) error

// IndexClient is the slice of the cc index API the diver needs.
type IndexClient interface {
	LookupDomain(ctx context.Context, domain string, opts ccindex.QueryOptions) ([]types.CCRecord, error)
}

// DiveStats summarizes one fetch run.
type DiveStats struct {
	PagesProduced    int
	PagesFailed      int
	DomainsCompleted int
	Elapsed          time.Duration
}

// Diver executes dive plans against the range-fetch layer.
type Diver struct {
	fetcher Fetcher
	index   IndexClient
	cfg     *config.Config
	sink    types.EventSink
}

// New picks the fetch layer from config: the external binary when one is
// configured, the in-process range fetcher otherwise. index and sink may
// be nil.
func New(cfg *config.Config, index IndexClient, sink types.EventSink) *Diver {
	var fetcher Fetcher
	if cfg.Dive.FetcherBin != "" {
		fetcher = NewSubprocessFetcher(cfg.Dive.FetcherBin, cfg.Dive.Threads, cfg.GetFetchTimeout())
	} else {
		fetcher = NewRangeFetcher(cfg.CCIndex.MirrorURL, cfg.Dive.Threads, cfg.GetFetchTimeout())
	}
	return &Diver{fetcher: fetcher, index: index, cfg: cfg, sink: sink}
}

// NewWithFetcher injects a fetch layer directly.
func NewWithFetcher(fetcher Fetcher, cfg *config.Config, index IndexClient, sink types.EventSink) *Diver {
	return &Diver{fetcher: fetcher, index: index, cfg: cfg, sink: sink}
}

// ExecutePlan streams every remaining page of the plan through handler.
// A domain is marked complete when its last record arrives, failures
// included; with a checkpoint path the plan file is then rewritten
// atomically, so a killed run resumes exactly where it stopped.
func (d *Diver) ExecutePlan(ctx context.Context, plan *dive.DivePlan, checkpointPath string, handler PageHandler) (DiveStats, error) {
	var stats DiveStats
	start := time.Now()

	expected := plan.ExpectedByDomain()
	var records []types.CCRecord
	for _, t := range plan.RemainingTargets() {
		records = append(records, t.CCRecords...)
	}
	if len(records) == 0 {
		logging.Diver("Plan %s has no remaining work", plan.ID)
		return stats, nil
	}

	logging.Diver("Plan %s: fetching %d pages across %d domains, estimate %s",
		plan.ID, len(records), len(expected), EstimateTime(len(records), d.cfg.Dive.Threads))
	audit := logging.AuditWithRun(plan.ID)
	audit.Log(logging.AuditEvent{
		EventType: logging.AuditFetchStart,
		Category:  string(logging.CategoryDiver),
		Target:    plan.Query,
		Success:   true,
		Fields:    map[string]any{"domains": len(expected), "pages": len(records)},
	})

	processed := make(map[string]int)
	domainStart := make(map[string]time.Time)

	err := d.fetcher.Fetch(ctx, records, func(page FetchedPage) error {
		if page.Failed() {
			stats.PagesFailed++
			logging.DiverDebug("Fetch failed for %s: %s", page.URL, page.Error)
		} else {
			stats.PagesProduced++
			if handler != nil {
				if err := handler(page.PageRecord()); err != nil {
					return err
				}
			}
		}

		domain := page.Domain
		if domain == "" {
			domain = domainOf(page.URL)
		}
		domain = types.NormalizeDomain(domain)
		if domain == "" {
			return nil
		}

		// Failed pages advance the count too; a domain with one dead
		// record must still complete.
		if _, ok := domainStart[domain]; !ok {
			domainStart[domain] = time.Now()
		}
		processed[domain]++

		want, tracked := expected[domain]
		if !tracked || processed[domain] < want || plan.IsCompleted(domain) {
			return nil
		}

		plan.MarkCompleted(domain)
		stats.DomainsCompleted++
		audit.FetchDomain(domain, processed[domain], time.Since(domainStart[domain]).Milliseconds())
		if d.sink != nil {
			d.sink.Emit(events.SubmarineFetch, map[string]any{
				"plan_id": plan.ID,
				"domain":  domain,
				"pages":   processed[domain],
			})
		}
		if checkpointPath != "" {
			if err := plan.Save(checkpointPath); err != nil {
				logging.DiverWarn("Checkpoint write failed for plan %s: %v", plan.ID, err)
			}
		}
		return nil
	})
	stats.Elapsed = time.Since(start)

	logging.Diver("Plan %s: %d pages, %d failed, %d domains completed in %s",
		plan.ID, stats.PagesProduced, stats.PagesFailed, stats.DomainsCompleted, stats.Elapsed.Round(time.Millisecond))
	audit.Log(logging.AuditEvent{
		EventType:  logging.AuditFetchComplete,
		Category:   string(logging.CategoryDiver),
		Success:    err == nil,
		DurationMs: stats.Elapsed.Milliseconds(),
		Fields: map[string]any{
			"pages":   stats.PagesProduced,
			"failed":  stats.PagesFailed,
			"domains": stats.DomainsCompleted,
		},
	})
	return stats, err
}

// FetchRecords streams pages for raw index records, no plan tracking.
func (d *Diver) FetchRecords(ctx context.Context, records []types.CCRecord, handler PageHandler) (DiveStats, error) {
	var stats DiveStats
	start := time.Now()

	err := d.fetcher.Fetch(ctx, records, func(page FetchedPage) error {
		if page.Failed() {
			stats.PagesFailed++
			logging.DiverDebug("Fetch failed for %s: %s", page.URL, page.Error)
			return nil
		}
		stats.PagesProduced++
		if handler == nil {
			return nil
		}
		return handler(page.PageRecord())
	})

	stats.Elapsed = time.Since(start)
	return stats, err
}

// FetchDomains looks the domains up in one archive and fetches everything
// found. Lookup failures skip the domain.
func (d *Diver) FetchDomains(ctx context.Context, domains []string, archive string, handler PageHandler) (DiveStats, error) {
	if d.index == nil {
		return DiveStats{}, fmt.Errorf("no index client configured")
	}

	seen := make(map[string]bool)
	var records []types.CCRecord
	for _, domain := range domains {
		recs, err := d.index.LookupDomain(ctx, domain, ccindex.QueryOptions{
			Archive:      archive,
			Limit:        d.cfg.Dive.MaxPagesPerDomain,
			FilterStatus: 200,
		})
		if err != nil {
			logging.DiverWarn("Index lookup failed for %s on %s: %v", domain, archive, err)
			continue
		}
		for _, r := range recs {
			if !seen[r.Key()] {
				seen[r.Key()] = true
				records = append(records, r)
			}
		}
	}
	if len(records) == 0 {
		return DiveStats{}, fmt.Errorf("no index records for %d domains in %s", len(domains), archive)
	}

	logging.Diver("Fetching %d records across %d domains from %s", len(records), len(domains), archive)
	return d.FetchRecords(ctx, records, handler)
}
