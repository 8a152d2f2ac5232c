// Package diver executes dive plans. It feeds WARC byte ranges to a
// range-fetch layer, an external fetcher binary when configured or an
// in-process HTTP range fetcher otherwise, streams parsed pages back in
// completion order, and checkpoints domain completion as it goes.
package diver

import (
	"context"
	"errors"
	"net/url"
	"time"

	"submarine/internal/types"
)

// FetchedPage is one unit of range-fetch output. A failed fetch carries an
// Error and no Content; it still counts toward domain completion.
type FetchedPage struct {
	URL         string `json:"url"`
	Domain      string `json:"domain"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Content     string `json:"content,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	WARCFile    string `json:"warc_file,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Failed reports whether the fetch produced no usable content.
func (p FetchedPage) Failed() bool { return p.Error != "" }

// PageRecord converts a successful fetch to the shared page shape.
func (p FetchedPage) PageRecord() types.PageRecord {
	domain := p.Domain
	if domain == "" {
		domain = domainOf(p.URL)
	}
	return types.PageRecord{
		URL:        p.URL,
		Domain:     types.NormalizeDomain(domain),
		Content:    p.Content,
		HTTPStatus: p.Status,
		CrawlDate:  p.Timestamp,
		WARCFile:   p.WARCFile,
	}
}

// EmitFunc receives pages one at a time. Fetchers never call it from two
// goroutines at once; returning an error stops the stream.
type EmitFunc func(page FetchedPage) error

// ErrStop tells the fetch layer to stop streaming without reporting a
// failure. Partial output already emitted stays valid.
var ErrStop = errors.New("stop streaming")

// Fetcher turns CC index records into fetched pages.
type Fetcher interface {
	Fetch(ctx context.Context, records []types.CCRecord, emit EmitFunc) error
}

// EstimateTime predicts wall time for fetching n records at the given
// concurrency: one tenth of a second per wave.
func EstimateTime(n, threads int) time.Duration {
	if n <= 0 {
		return 0
	}
	if threads < 1 {
		threads = 1
	}
	waves := (n + threads - 1) / threads
	return time.Duration(waves) * 100 * time.Millisecond
}

func domainOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return types.NormalizeDomain(parsed.Hostname())
}
