// Package ccindex queries the Common Crawl URL index for WARC byte-range
// records. Lookups are cached, retried with backoff, and guarded by a
// per-archive circuit breaker so a dead index endpoint cannot stall a whole
// plan.
package ccindex

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"submarine/internal/config"
	"submarine/internal/logging"
	"submarine/internal/types"
)

const userAgent = "submarine/1.0 (archive research; contact: ops@localhost)"

// ErrBadStatus marks a non-2xx index response.
var ErrBadStatus = errors.New("cc index returned non-2xx status")

// CCIndexError carries the archive and HTTP status of a failed lookup.
// Callers treat it as "no records for that archive" and continue.
type CCIndexError struct {
	Archive    string
	Pattern    string
	StatusCode int
	Err        error
}

func (e *CCIndexError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("cc index %s: %q: HTTP %d", e.Archive, e.Pattern, e.StatusCode)
	}
	return fmt.Sprintf("cc index %s: %q: %v", e.Archive, e.Pattern, e.Err)
}

func (e *CCIndexError) Unwrap() error { return e.Err }

// AsCCIndexError unwraps err to a *CCIndexError if one is in the chain.
func AsCCIndexError(err error) (*CCIndexError, bool) {
	var ce *CCIndexError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// QueryOptions carries the optional filters of a lookup. The zero value
// means "no filters, default limit, first configured archive".
type QueryOptions struct {
	Limit           int
	FilterStatus    int
	FilterMIME      string
	FilterLanguages []string
	FromTS          string
	ToTS            string
	URLContains     string
	Archive         string
}

type retryConfig struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Client is a CC Index client. Safe for concurrent use; the cache and
// breakers are shared across planner runs.
type Client struct {
	endpoint   string
	archives   []string
	limit      int
	httpClient *http.Client
	cache      Cache
	retry      retryConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds a client from config. When SUBMARINE_REDIS_ADDR is set the
// query cache is shared through Redis; otherwise it is in-process.
func New(cfg *config.Config) *Client {
	var cache Cache
	if cfg.CCIndex.RedisAddr != "" {
		cache = NewRedisCache(cfg.CCIndex.RedisAddr, cfg.GetCacheTTL())
		logging.Periscope("Using Redis query cache at %s", cfg.CCIndex.RedisAddr)
	} else {
		cache = NewMemoryCache(cfg.CCIndex.CacheSize, cfg.GetCacheTTL())
	}

	return &Client{
		endpoint:   strings.TrimRight(cfg.CCIndex.Endpoint, "/"),
		archives:   cfg.CCIndex.Archives,
		limit:      cfg.CCIndex.PageLimit,
		httpClient: &http.Client{Timeout: cfg.GetCCTimeout()},
		cache:      cache,
		retry: retryConfig{
			maxRetries:     cfg.CCIndex.Retries,
			initialBackoff: 500 * time.Millisecond,
			maxBackoff:     4 * time.Second,
		},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Archives returns the configured archive IDs, newest first.
func (c *Client) Archives() []string {
	out := make([]string, len(c.archives))
	copy(out, c.archives)
	return out
}

// LookupDomain returns the index records for every capture under domain.
func (c *Client) LookupDomain(ctx context.Context, domain string, opts QueryOptions) ([]types.CCRecord, error) {
	pattern := types.NormalizeDomain(domain) + "/*"
	return c.query(ctx, pattern, opts)
}

// Search returns the index records matching an arbitrary URL pattern,
// e.g. "*panama*papers*".
func (c *Client) Search(ctx context.Context, pattern string, opts QueryOptions) ([]types.CCRecord, error) {
	return c.query(ctx, pattern, opts)
}

func (c *Client) query(ctx context.Context, pattern string, opts QueryOptions) ([]types.CCRecord, error) {
	archive := opts.Archive
	if archive == "" {
		if len(c.archives) == 0 {
			return nil, fmt.Errorf("no cc archives configured")
		}
		archive = c.archives[0]
	}

	qs, err := c.buildQuery(pattern, opts)
	if err != nil {
		return nil, err
	}

	key := cacheKey(archive, qs)
	if records, ok := c.cache.Get(ctx, key); ok {
		logging.PeriscopeDebug("Cache hit for %s on %s (%d records)", pattern, archive, len(records))
		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditIndexCacheHit,
			Category:  "periscope",
			Target:    pattern,
			Success:   true,
			Fields:    map[string]any{"archive": archive, "records": len(records)},
		})
		return records, nil
	}

	breaker := c.breakerFor(archive)
	start := time.Now()
	result, err := breaker.Execute(func() (any, error) {
		return c.fetchWithRetry(ctx, archive, pattern, qs)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.PeriscopeError("Breaker open for %s, skipping %s", archive, pattern)
			logging.Audit().Log(logging.AuditEvent{
				EventType: logging.AuditIndexBreakerOpen,
				Category:  "periscope",
				Target:    pattern,
				Success:   false,
				Error:     err.Error(),
				Fields:    map[string]any{"archive": archive},
			})
			return nil, &CCIndexError{Archive: archive, Pattern: pattern, Err: err}
		}
		return nil, err
	}

	records := result.([]types.CCRecord)
	c.cache.Set(ctx, key, records)

	logging.Periscope("Index %s: %q -> %d records in %v", archive, pattern, len(records), time.Since(start).Round(time.Millisecond))
	logging.Audit().Log(logging.AuditEvent{
		EventType:  logging.AuditIndexQuery,
		Category:   "periscope",
		Target:     pattern,
		Success:    true,
		DurationMs: time.Since(start).Milliseconds(),
		Fields:     map[string]any{"archive": archive, "records": len(records)},
	})
	return records, nil
}

// buildQuery renders the querystring. url.Values.Encode sorts keys, which
// keeps cache keys stable across runs.
func (c *Client) buildQuery(pattern string, opts QueryOptions) (string, error) {
	v := url.Values{}
	v.Set("url", pattern)
	v.Set("output", "json")

	limit := opts.Limit
	if limit <= 0 {
		limit = c.limit
	}
	v.Set("limit", strconv.Itoa(limit))

	if opts.FromTS != "" {
		ts, err := NormalizeTimestamp(opts.FromTS, false)
		if err != nil {
			return "", err
		}
		v.Set("fromTimestamp", ts)
	}
	if opts.ToTS != "" {
		ts, err := NormalizeTimestamp(opts.ToTS, true)
		if err != nil {
			return "", err
		}
		v.Set("toTimestamp", ts)
	}
	if opts.FilterStatus > 0 {
		v.Add("filter", "status:"+strconv.Itoa(opts.FilterStatus))
	}
	if opts.URLContains != "" {
		v.Add("filter", "url:.*"+regexp.QuoteMeta(opts.URLContains)+".*")
	}
	if opts.FilterMIME != "" {
		v.Set("mimetype", NormalizeMIME(opts.FilterMIME))
	}
	if langs := NormalizeLanguages(opts.FilterLanguages); len(langs) > 0 {
		v.Set("languages", strings.Join(langs, ","))
	}
	return v.Encode(), nil
}

// fetchWithRetry retries transport errors and 5xx responses with exponential
// backoff. 4xx responses fail immediately; the index answers 404 for
// patterns with no captures.
func (c *Client) fetchWithRetry(ctx context.Context, archive, pattern, qs string) ([]types.CCRecord, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		records, retryable, err := c.doRequest(ctx, archive, pattern, qs)
		if err == nil {
			if attempt > 0 {
				logging.Periscope("Retry succeeded for %q on attempt %d", pattern, attempt+1)
			}
			return records, nil
		}

		lastErr = err
		if !retryable {
			return nil, err
		}
		logging.PeriscopeDebug("Attempt %d/%d for %q failed: %v", attempt+1, c.retry.maxRetries+1, pattern, err)

		if attempt < c.retry.maxRetries {
			backoff := c.backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	if _, ok := AsCCIndexError(lastErr); ok {
		return nil, lastErr
	}
	return nil, &CCIndexError{Archive: archive, Pattern: pattern, Err: lastErr}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.retry.initialBackoff) * math.Pow(2, float64(attempt))
	if d > float64(c.retry.maxBackoff) {
		d = float64(c.retry.maxBackoff)
	}
	return time.Duration(d)
}

// doRequest performs one HTTP round trip. The second return reports whether
// the failure is worth retrying.
func (c *Client) doRequest(ctx context.Context, archive, pattern, qs string) ([]types.CCRecord, bool, error) {
	endpoint := fmt.Sprintf("%s/%s-index?%s", c.endpoint, archive, qs)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		retryable := resp.StatusCode >= 500
		return nil, retryable, &CCIndexError{
			Archive:    archive,
			Pattern:    pattern,
			StatusCode: resp.StatusCode,
			Err:        ErrBadStatus,
		}
	}

	records, err := parseNDJSON(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return records, false, nil
}

// rawRecord matches the index's NDJSON lines. Numeric fields arrive as JSON
// strings; flexInt64 tolerates both encodings.
type rawRecord struct {
	URL          string    `json:"url"`
	Filename     string    `json:"filename"`
	Offset       flexInt64 `json:"offset"`
	Length       flexInt64 `json:"length"`
	Status       flexInt64 `json:"status"`
	MIME         string    `json:"mime"`
	MIMEDetected string    `json:"mime-detected"`
	Timestamp    string    `json:"timestamp"`
	Digest       string    `json:"digest"`
	Languages    string    `json:"languages"`
}

type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %q as int: %w", s, err)
	}
	*f = flexInt64(n)
	return nil
}

func (r rawRecord) toCCRecord() types.CCRecord {
	mime := r.MIMEDetected
	if mime == "" {
		mime = r.MIME
	}
	return types.CCRecord{
		URL:       r.URL,
		Filename:  r.Filename,
		Offset:    int64(r.Offset),
		Length:    int64(r.Length),
		Status:    int(r.Status),
		MIME:      mime,
		Timestamp: r.Timestamp,
		Digest:    r.Digest,
		Languages: r.Languages,
	}
}

// parseNDJSON reads one record per line, dropping corrupt lines with a log.
func parseNDJSON(r io.Reader) ([]types.CCRecord, error) {
	var records []types.CCRecord

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			logging.PeriscopeDebug("Dropping corrupt index line: %v", err)
			continue
		}
		records = append(records, raw.toCCRecord())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read index response: %w", err)
	}
	return records, nil
}

// breakerFor returns the archive's circuit breaker, creating it on first
// use. Five consecutive failures open it; it half-opens after 30 s.
func (c *Client) breakerFor(archive string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[archive]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ccindex-" + archive,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Periscope("Breaker %s: %s -> %s", name, from, to)
		},
	})
	c.breakers[archive] = cb
	return cb
}
