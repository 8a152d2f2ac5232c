package diver

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"submarine/internal/types"
)

const (
	userAgent = "submarine/1.0 (archive research; contact: ops@localhost)"

	// maxRecordBytes bounds one decompressed WARC record.
	maxRecordBytes = 5 << 20
)

// RangeFetcher pulls WARC byte ranges straight from the public mirror when
// no external fetcher binary is configured. Each record is one HTTP range
// request; Common Crawl stores records as independent gzip members, so a
// range decompresses on its own.
type RangeFetcher struct {
	mirror  string
	threads int
	client  *http.Client
}

// NewRangeFetcher builds an in-process fetcher against the given mirror.
func NewRangeFetcher(mirror string, threads int, timeout time.Duration) *RangeFetcher {
	if threads < 1 {
		threads = 1
	}
	return &RangeFetcher{
		mirror:  strings.TrimRight(mirror, "/"),
		threads: threads,
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch resolves records concurrently and emits pages in completion order.
// Emit calls are serialized; an emit error cancels the remaining work.
func (f *RangeFetcher) Fetch(ctx context.Context, records []types.CCRecord, emit EmitFunc) error {
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
	// Errors surface through stopErr; lookup failures travel inside pages.
	_ = eg.Wait()

	if stopErr != nil {
		if errors.Is(stopErr, ErrStop) {
			return nil
		}
		return stopErr
	}
	return ctx.Err()
}

// fetchOne never fails the run: errors ride back inside the page so the
// consumer can count the record toward domain completion.
func (f *RangeFetcher) fetchOne(ctx context.Context, rec types.CCRecord) FetchedPage {
	page := FetchedPage{
		URL:       rec.URL,
		Domain:    domainOf(rec.URL),
		Timestamp: rec.Timestamp,
		WARCFile:  rec.Filename,
	}

	raw, err := f.readRange(ctx, rec)
	if err != nil {
		page.Error = err.Error()
		return page
	}
	parseWARCRecord(raw, &page)
	return page
}

// readRange issues the byte-range request and decompresses the member.
func (f *RangeFetcher) readRange(ctx context.Context, rec types.CCRecord) ([]byte, error) {
	target := f.mirror + "/" + strings.TrimLeft(rec.Filename, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build range request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", rec.Offset, rec.Offset+rec.Length-1))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A 200 means the server ignored the range; decompressing from byte
	// zero would yield some other record, so treat it as a failure.
	if resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("range request returned %d", resp.StatusCode)
	}

	gz, err := gzip.NewReader(io.LimitReader(resp.Body, rec.Length))
	if err != nil {
		return nil, fmt.Errorf("decompress record: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(io.LimitReader(gz, maxRecordBytes))
	if err != nil {
		return nil, fmt.Errorf("decompress record: %w", err)
	}
	return raw, nil
}

// parseWARCRecord splits a decompressed record into its WARC header block,
// HTTP header block, and payload. Blocks are separated by CRLF pairs.
func parseWARCRecord(raw []byte, page *FetchedPage) {
	warcHead, rest, ok := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !ok || !bytes.HasPrefix(warcHead, []byte("WARC/")) {
		page.Error = "malformed warc record"
		return
	}

	for _, line := range strings.Split(string(warcHead), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "warc-target-uri":
			page.URL = value
			page.Domain = domainOf(value)
		case "warc-date":
			if page.Timestamp == "" {
				page.Timestamp = value
			}
		}
	}

	httpHead, body, ok := bytes.Cut(rest, []byte("\r\n\r\n"))
	if !ok || !bytes.HasPrefix(httpHead, []byte("HTTP/")) {
		// No HTTP envelope. Metadata records carry their payload directly.
		page.Content = string(bytes.TrimSpace(rest))
		return
	}

	lines := strings.Split(string(httpHead), "\r\n")
	if fields := strings.Fields(lines[0]); len(fields) >= 2 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			page.Status = n
		}
	}
	for _, h := range lines[1:] {
		name, value, found := strings.Cut(h, ":")
		if found && strings.EqualFold(strings.TrimSpace(name), "Content-Type") {
			page.ContentType = strings.TrimSpace(value)
		}
	}
	page.Content = string(body)
}
