package diver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"

	"submarine/internal/ccindex"
	"submarine/internal/config"
	"submarine/internal/dive"
	"submarine/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedFetcher replays canned pages and records what it was asked for.
type scriptedFetcher struct {
	pages  []FetchedPage
	err    error
	called bool
	got    []types.CCRecord
}

func (s *scriptedFetcher) Fetch(_ context.Context, records []types.CCRecord, emit EmitFunc) error {
	s.called = true
	s.got = records
	for _, p := range s.pages {
		if err := emit(p); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return s.err
}

func planWithTwoDomains() *dive.DivePlan {
	return &dive.DivePlan{
		ID:    "plan-dive-1",
		Query: "meridian",
		Targets: []dive.DiveTarget{
			{
				Domain:   "a.com",
				Priority: 1,
				Source:   "sonar",
				CCRecords: []types.CCRecord{
					{URL: "https://a.com/", Filename: "a.warc.gz", Offset: 0, Length: 100},
					{URL: "https://a.com/x", Filename: "a.warc.gz", Offset: 100, Length: 100},
				},
			},
			{
				Domain:   "b.com",
				Priority: 2,
				Source:   "sonar",
				CCRecords: []types.CCRecord{
					{URL: "https://b.com/", Filename: "b.warc.gz", Offset: 0, Length: 100},
				},
			},
		},
	}
}

func TestExecutePlanCompletionAndCheckpoint(t *testing.T) {
	plan := planWithTwoDomains()
	fetcher := &scriptedFetcher{pages: []FetchedPage{
		{URL: "https://a.com/", Domain: "a.com", Status: 200, Content: "<html>one</html>"},
		{URL: "https://b.com/", Domain: "b.com", Status: 200, Content: "<html>two</html>"},
		{URL: "https://a.com/x", Domain: "a.com", Error: "connection reset"},
	}}
	d := NewWithFetcher(fetcher, config.DefaultConfig(), nil, nil)

	checkpoint := filepath.Join(t.TempDir(), "plan.json")
	var handled []types.PageRecord
	stats, err := d.ExecutePlan(context.Background(), plan, checkpoint, func(p types.PageRecord) error {
		handled = append(handled, p)
		return nil
	})
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}

	if stats.PagesProduced != 2 || stats.PagesFailed != 1 {
		t.Errorf("stats = %+v, want 2 produced 1 failed", stats)
	}
	if stats.DomainsCompleted != 2 {
		t.Errorf("DomainsCompleted = %d, want 2 (failures count toward completion)", stats.DomainsCompleted)
	}
	if len(handled) != 2 {
		t.Errorf("handler saw %d pages, want 2; failed pages stay internal", len(handled))
	}
	if !plan.IsCompleted("a.com") || !plan.IsCompleted("b.com") {
		t.Error("both domains should be marked complete")
	}
	if len(fetcher.got) != 3 {
		t.Errorf("fetcher was handed %d records, want 3", len(fetcher.got))
	}

	restored, err := dive.LoadPlan(checkpoint)
	if err != nil {
		t.Fatalf("checkpoint unreadable: %v", err)
	}
	if !restored.IsCompleted("a.com") || !restored.IsCompleted("b.com") {
		t.Error("checkpoint should carry the completion state")
	}
}

func TestExecutePlanSkipsCompletedDomains(t *testing.T) {
	plan := planWithTwoDomains()
	plan.MarkCompleted("a.com")

	fetcher := &scriptedFetcher{pages: []FetchedPage{
		{URL: "https://b.com/", Domain: "b.com", Status: 200, Content: "x"},
	}}
	d := NewWithFetcher(fetcher, config.DefaultConfig(), nil, nil)

	stats, err := d.ExecutePlan(context.Background(), plan, "", nil)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if len(fetcher.got) != 1 || fetcher.got[0].URL != "https://b.com/" {
		t.Errorf("fetcher should only see b.com records, got %+v", fetcher.got)
	}
	if stats.DomainsCompleted != 1 {
		t.Errorf("DomainsCompleted = %d, want 1", stats.DomainsCompleted)
	}
}

func TestExecutePlanNothingRemaining(t *testing.T) {
	plan := planWithTwoDomains()
	plan.MarkCompleted("a.com")
	plan.MarkCompleted("b.com")

	fetcher := &scriptedFetcher{}
	d := NewWithFetcher(fetcher, config.DefaultConfig(), nil, nil)

	stats, err := d.ExecutePlan(context.Background(), plan, "", nil)
	if err != nil {
		t.Fatalf("ExecutePlan failed: %v", err)
	}
	if fetcher.called {
		t.Error("fetcher should not run when nothing remains")
	}
	if stats.PagesProduced != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
}

func TestExecutePlanHandlerError(t *testing.T) {
	plan := planWithTwoDomains()
	fetcher := &scriptedFetcher{pages: []FetchedPage{
		{URL: "https://a.com/", Domain: "a.com", Status: 200, Content: "x"},
		{URL: "https://a.com/x", Domain: "a.com", Status: 200, Content: "y"},
	}}
	d := NewWithFetcher(fetcher, config.DefaultConfig(), nil, nil)

	wantErr := errors.New("store unavailable")
	_, err := d.ExecutePlan(context.Background(), plan, "", func(types.PageRecord) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("handler error should surface, got %v", err)
	}
}

func TestExecutePlanHandlerStop(t *testing.T) {
	plan := planWithTwoDomains()
	fetcher := &scriptedFetcher{pages: []FetchedPage{
		{URL: "https://a.com/", Domain: "a.com", Status: 200, Content: "x"},
		{URL: "https://a.com/x", Domain: "a.com", Status: 200, Content: "y"},
	}}
	d := NewWithFetcher(fetcher, config.DefaultConfig(), nil, nil)

	seen := 0
	stats, err := d.ExecutePlan(context.Background(), plan, "", func(types.PageRecord) error {
		seen++
		return ErrStop
	})
	if err != nil {
		t.Fatalf("ErrStop should end the run cleanly, got %v", err)
	}
	if seen != 1 || stats.PagesProduced != 1 {
		t.Errorf("saw %d pages with %+v, want exactly 1", seen, stats)
	}
}

func TestFetchRecords(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []FetchedPage{
		{URL: "https://a.com/", Domain: "a.com", Status: 200, Content: "x"},
		{URL: "https://a.com/x", Domain: "a.com", Error: "timeout"},
	}}
	d := NewWithFetcher(fetcher, config.DefaultConfig(), nil, nil)

	var handled int
	stats, err := d.FetchRecords(context.Background(), []types.CCRecord{{URL: "https://a.com/", Filename: "a.warc.gz", Length: 1}},
		func(types.PageRecord) error {
			handled++
			return nil
		})
	if err != nil {
		t.Fatalf("FetchRecords failed: %v", err)
	}
	if stats.PagesProduced != 1 || stats.PagesFailed != 1 || handled != 1 {
		t.Errorf("stats = %+v handled = %d", stats, handled)
	}
}

type lookupIndex struct {
	records map[string][]types.CCRecord
	fail    map[string]bool
}

func (l *lookupIndex) LookupDomain(_ context.Context, domain string, _ ccindex.QueryOptions) ([]types.CCRecord, error) {
	if l.fail[domain] {
		return nil, fmt.Errorf("index down")
	}
	return l.records[domain], nil
}

func TestFetchDomains(t *testing.T) {
	index := &lookupIndex{
		records: map[string][]types.CCRecord{
			"a.com": {{URL: "https://a.com/", Filename: "a.warc.gz", Offset: 0, Length: 100}},
		},
		fail: map[string]bool{"down.com": true},
	}
	fetcher := &scriptedFetcher{pages: []FetchedPage{
		{URL: "https://a.com/", Domain: "a.com", Status: 200, Content: "x"},
	}}
	d := NewWithFetcher(fetcher, config.DefaultConfig(), index, nil)

	stats, err := d.FetchDomains(context.Background(), []string{"a.com", "down.com"}, "CC-MAIN-2025-08", nil)
	if err != nil {
		t.Fatalf("one failing lookup should not fail the fetch: %v", err)
	}
	if stats.PagesProduced != 1 {
		t.Errorf("stats = %+v, want 1 page", stats)
	}
	if len(fetcher.got) != 1 {
		t.Errorf("fetcher got %d records, want 1", len(fetcher.got))
	}

	if _, err := d.FetchDomains(context.Background(), []string{"down.com"}, "CC-MAIN-2025-08", nil); err == nil {
		t.Error("no records at all should error")
	}

	noIndex := NewWithFetcher(fetcher, config.DefaultConfig(), nil, nil)
	if _, err := noIndex.FetchDomains(context.Background(), []string{"a.com"}, "CC-MAIN-2025-08", nil); err == nil {
		t.Error("missing index client should error")
	}
}
