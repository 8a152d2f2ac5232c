package diver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"submarine/internal/types"
)

// LiveFetcher ignores the archive offsets and fetches each record's URL
// straight from the live site. Scrape mode for when the operator wants the
// page as it is today rather than as it was crawled.
type LiveFetcher struct {
	threads int
	client  *http.Client
}

// NewLiveFetcher builds a live fetcher.
func NewLiveFetcher(threads int, timeout time.Duration) *LiveFetcher {
	if threads < 1 {
		threads = 1
	}
	return &LiveFetcher{
		threads: threads,
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch requests every record URL concurrently and emits pages in
// completion order. Emit calls are serialized; an emit error cancels the
// remaining work.
func (f *LiveFetcher) Fetch(ctx context.Context, records []types.CCRecord, emit EmitFunc) error {
	if len(records) == 0 {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(f.threads)

	var mu sync.Mutex
	var stopErr error

	for _, rec := range records {
		rec := rec
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return nil
			}
			page := f.fetchOne(egCtx, rec)

			mu.Lock()
			defer mu.Unlock()
			if stopErr != nil {
				return nil
			}
			if err := emit(page); err != nil {
				stopErr = err
				return err
			}
			return nil
		})
	}
	_ = eg.Wait()

	if stopErr != nil {
		if errors.Is(stopErr, ErrStop) {
			return nil
		}
		return stopErr
	}
	return ctx.Err()
}

// fetchOne never fails the run; errors ride back inside the page. The
// timestamp is the fetch moment, not the record's crawl date, because the
// content is whatever the site serves now.
func (f *LiveFetcher) fetchOne(ctx context.Context, rec types.CCRecord) FetchedPage {
	page := FetchedPage{
		URL:       rec.URL,
		Domain:    domainOf(rec.URL),
		Timestamp: types.Timestamp14(time.Now()),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.URL, nil)
	if err != nil {
		page.Error = fmt.Sprintf("build request: %v", err)
		return page
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		page.Error = fmt.Sprintf("live fetch: %v", err)
		return page
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordBytes))
	if err != nil {
		page.Error = fmt.Sprintf("read body: %v", err)
		return page
	}

	page.Status = resp.StatusCode
	page.ContentType = resp.Header.Get("Content-Type")
	page.Content = string(body)
	return page
}
