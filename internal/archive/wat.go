package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"submarine/internal/types"
)

const (
	userAgent = "submarine/1.0 (archive research; contact: ops@localhost)"

	// maxWATBytes bounds one downloaded WAT file.
	maxWATBytes = 512 << 20

	// maxRecordBytes bounds one WAT record during the split.
	maxRecordBytes = 64 << 20
)

var watDelim = []byte("WARC/1.0\r\n")

// watPaths downloads and decompresses the archive's WAT path index.
func (p *Processor) watPaths(ctx context.Context) ([]string, error) {
	target := fmt.Sprintf("%s/crawl-data/%s/wat.paths.gz", p.mirror, p.archive)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch WAT index for %s: %w", p.archive, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("WAT index for %s returned %d", p.archive, resp.StatusCode)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decompress WAT index: %w", err)
	}
	defer gz.Close()

	var paths []string
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			paths = append(paths, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read WAT index: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("WAT index for %s is empty", p.archive)
	}
	return paths, nil
}

// downloadWAT fetches one WAT file, still compressed. Decompression happens
// under the process semaphore.
func (p *Processor) downloadWAT(ctx context.Context, path string) ([]byte, error) {
	target := p.mirror + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("WAT download returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxWATBytes))
}

// splitWATRecords is a bufio.SplitFunc yielding one WARC record per token.
// A record runs from one "WARC/1.0" marker to the next. Raw CRLF bytes
// cannot occur inside the JSON payload, so the marker never false-matches.
func splitWATRecords(data []byte, atEOF bool) (int, []byte, error) {
	if len(data) == 0 && atEOF {
		return 0, nil, nil
	}
	start := bytes.Index(data, watDelim)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	if start > 0 {
		// Discard preamble bytes before the first record.
		return start, nil, nil
	}
	next := bytes.Index(data[len(watDelim):], watDelim)
	if next < 0 {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	end := len(watDelim) + next
	return end, data[:end], nil
}

// parseWATRecord turns one WAT record into a PageRecord. Returns false for
// records without a target URI (warcinfo etc.) or with unparsable payloads.
func parseWATRecord(raw []byte, anchorCap int) (types.PageRecord, bool) {
	head, payload, ok := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !ok {
		return types.PageRecord{}, false
	}

	var uri, date string
	for _, line := range strings.Split(string(head), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "warc-target-uri":
			uri = value
		case "warc-date":
			date = value
		}
	}
	if uri == "" {
		return types.PageRecord{}, false
	}

	// The payload is one JSON object; trailing record padding sits after
	// its last closing brace.
	if i := bytes.LastIndexByte(payload, '}'); i >= 0 {
		payload = payload[:i+1]
	}
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return types.PageRecord{}, false
	}

	rec := types.PageRecord{
		URL:       uri,
		Domain:    normalizeHost(uri),
		CrawlDate: date,
	}

	httpMeta, _ := dig(envelope, "Envelope", "Payload-Metadata", "HTTP-Response-Metadata").(map[string]any)
	if httpMeta == nil {
		return rec, true
	}

	if status := dig(httpMeta, "Response-Message", "Status"); status != nil {
		switch v := status.(type) {
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				rec.HTTPStatus = n
			}
		case float64:
			rec.HTTPStatus = int(v)
		}
	}

	if title, ok := dig(httpMeta, "HTML-Metadata", "Head", "Title").(string); ok {
		rec.Title = strings.TrimSpace(title)
	}

	if scripts, ok := dig(httpMeta, "HTML-Metadata", "Head", "Scripts").([]any); ok {
		for _, s := range scripts {
			script, ok := s.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := script["type"].(string)
			if !strings.Contains(strings.ToLower(typ), "ld+json") {
				continue
			}
			content, ok := script["content"].(string)
			if !ok {
				continue
			}
			var schema map[string]any
			if err := json.Unmarshal([]byte(content), &schema); err == nil {
				rec.Schemas = append(rec.Schemas, schema)
			}
		}
	}

	if links, ok := dig(httpMeta, "HTML-Metadata", "Links").([]any); ok {
		var texts []string
		for _, l := range links {
			link, ok := l.(map[string]any)
			if !ok {
				continue
			}
			if href, ok := link["url"].(string); ok && href != "" && len(rec.Links) < anchorCap {
				rec.Links = append(rec.Links, href)
			}
			if text, ok := link["text"].(string); ok {
				if text = strings.TrimSpace(text); text != "" && len(texts) < anchorCap {
					texts = append(texts, text)
				}
			}
		}
		// WAT files carry no page body; the anchor texts are the text
		// surface downstream extraction works from.
		rec.Content = strings.Join(texts, "\n")
	}
	return rec, true
}

// dig walks nested JSON maps, returning nil when any key is missing.
func dig(m map[string]any, keys ...string) any {
	cur := any(m)
	for _, k := range keys {
		mp, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mp[k]
	}
	return cur
}

// matchesSchema reports whether any JSON-LD block has the wanted @type and
// satisfies every filter.
func matchesSchema(schemas []map[string]any, schemaType string, filters map[string]string) bool {
	for _, schema := range schemas {
		if !typeMatches(schema["@type"], schemaType) {
			continue
		}
		if schemaFiltersMatch(schema, filters) {
			return true
		}
	}
	return false
}

func typeMatches(declared any, want string) bool {
	switch v := declared.(type) {
	case string:
		return strings.EqualFold(v, want)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

// schemaFiltersMatch applies case-insensitive substring filters, looking
// one level into nested objects for the field.
func schemaFiltersMatch(schema map[string]any, filters map[string]string) bool {
	for field, want := range filters {
		got, ok := lookupField(schema, field)
		if !ok {
			return false
		}
		if !strings.Contains(strings.ToLower(fmt.Sprint(got)), strings.ToLower(want)) {
			return false
		}
	}
	return true
}

func lookupField(schema map[string]any, field string) (any, bool) {
	for k, v := range schema {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	for _, v := range schema {
		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for k, nv := range nested {
			if strings.EqualFold(k, field) {
				return nv, true
			}
		}
	}
	return nil, false
}

func normalizeHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return types.NormalizeDomain(parsed.Hostname())
}
