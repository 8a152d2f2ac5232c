// Package archive bulk-processes Common Crawl WAT metadata files: no
// pre-known byte ranges, just every page the archive saw, filtered by
// domain or Schema.org type on the way out.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"submarine/internal/config"
	"submarine/internal/logging"
	"submarine/internal/types"
)

// Processor traverses one archive's WAT files in bounded batches.
type Processor struct {
	mirror       string
	archive      string
	httpClient   *http.Client
	maxDownloads int
	maxProcess   int
	maxWATFiles  int
	anchorCap    int

	stats statsCollector
}

// New builds a processor for one archive. Aggressive mode widens both
// semaphores for unattended bulk runs.
func New(cfg *config.Config, archiveID string, aggressive bool) *Processor {
	return &Processor{
		mirror:       cfg.CCIndex.MirrorURL,
		archive:      archiveID,
		httpClient:   &http.Client{Timeout: cfg.GetCCTimeout()},
		maxDownloads: cfg.Archive.DownloadSlots(aggressive),
		maxProcess:   cfg.Archive.ProcessSlots(aggressive),
		maxWATFiles:  cfg.Archive.MaxWATFiles,
		anchorCap:    cfg.Archive.AnchorCap,
	}
}

// Archive returns the archive ID this processor is bound to.
func (p *Processor) Archive() string { return p.archive }

// FetchDomains streams records for the target domains. An empty target list
// streams everything. The channel closes when the traversal finishes or the
// context ends; per-file failures are counted and skipped.
func (p *Processor) FetchDomains(ctx context.Context, targets []string, maxWATFiles int) (<-chan types.PageRecord, error) {
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		if n := types.NormalizeDomain(t); n != "" {
			targetSet[n] = true
		}
	}
	keep := func(rec *types.PageRecord) bool {
		return len(targetSet) == 0 || targetSet[rec.Domain]
	}
	return p.start(ctx, maxWATFiles, keep)
}

// FetchBySchema streams records carrying at least one JSON-LD block whose
// @type matches and whose fields satisfy every filter as a case-insensitive
// substring, one nesting level deep.
func (p *Processor) FetchBySchema(ctx context.Context, schemaType string, filters map[string]string, maxWATFiles int) (<-chan types.PageRecord, error) {
	keep := func(rec *types.PageRecord) bool {
		return matchesSchema(rec.Schemas, schemaType, filters)
	}
	return p.start(ctx, maxWATFiles, keep)
}

func (p *Processor) start(ctx context.Context, maxWATFiles int, keep func(*types.PageRecord) bool) (<-chan types.PageRecord, error) {
	paths, err := p.watPaths(ctx)
	if err != nil {
		return nil, err
	}
	if maxWATFiles <= 0 {
		maxWATFiles = p.maxWATFiles
	}
	if len(paths) > maxWATFiles {
		paths = paths[:maxWATFiles]
	}

	logging.Trawler("Trawling %s: %d WAT files in batches of %d", p.archive, len(paths), p.maxDownloads)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditTrawlStart,
		Category:  string(logging.CategoryTrawler),
		Target:    p.archive,
		Success:   true,
		Fields:    map[string]any{"files": len(paths)},
	})

	out := make(chan types.PageRecord)
	go p.run(ctx, paths, out, keep)
	return out, nil
}

// run processes paths in batches. Downloads run under the download
// semaphore, parses under the process semaphore, and every record send
// honors the context so a dropped consumer ends the traversal.
func (p *Processor) run(ctx context.Context, paths []string, out chan<- types.PageRecord, keep func(*types.PageRecord) bool) {
	defer close(out)

	downloadSem := semaphore.NewWeighted(int64(p.maxDownloads))
	processSem := semaphore.NewWeighted(int64(p.maxProcess))

	start := time.Now()
	for batchStart := 0; batchStart < len(paths); batchStart += p.maxDownloads {
		batchEnd := batchStart + p.maxDownloads
		if batchEnd > len(paths) {
			batchEnd = len(paths)
		}
		batch := paths[batchStart:batchEnd]

		eg, egCtx := errgroup.WithContext(ctx)
		for _, path := range batch {
			path := path
			eg.Go(func() error {
				return p.processFile(egCtx, path, out, keep, downloadSem, processSem)
			})
		}
		if err := eg.Wait(); err != nil {
			logging.Trawler("Trawl of %s stopped: %v", p.archive, err)
			return
		}

		logging.Audit().Log(logging.AuditEvent{
			EventType: logging.AuditTrawlBatch,
			Category:  string(logging.CategoryTrawler),
			Target:    p.archive,
			Success:   true,
			Fields:    map[string]any{"from": batchStart, "to": batchEnd, "total": len(paths)},
		})
	}

	s := p.Stats()
	logging.Trawler("Trawl of %s complete: %d files, %d records parsed, %d yielded in %s",
		p.archive, s.FilesProcessed, s.RecordsParsed, s.RecordsYielded, time.Since(start).Round(time.Second))
	logging.Audit().Log(logging.AuditEvent{
		EventType:  logging.AuditTrawlComplete,
		Category:   string(logging.CategoryTrawler),
		Target:     p.archive,
		Success:    true,
		DurationMs: time.Since(start).Milliseconds(),
		Fields:     map[string]any{"files": s.FilesProcessed, "yielded": s.RecordsYielded},
	})
}

// processFile downloads and parses one WAT file. Download failures are
// counted and skipped; only a dead context stops the batch.
func (p *Processor) processFile(ctx context.Context, path string, out chan<- types.PageRecord, keep func(*types.PageRecord) bool, downloadSem, processSem *semaphore.Weighted) error {
	if err := downloadSem.Acquire(ctx, 1); err != nil {
		return err
	}
	fileStart := time.Now()
	data, err := p.downloadWAT(ctx, path)
	downloadSem.Release(1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.stats.noteFileFailed()
		logging.TrawlerDebug("WAT download failed for %s: %v", path, err)
		return nil
	}
	p.stats.noteDownload(int64(len(data)))

	if err := processSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer processSem.Release(1)

	if err := p.parseWAT(ctx, data, out, keep); err != nil {
		return err
	}
	p.stats.noteFileDone(time.Since(fileStart))
	return nil
}

// parseWAT splits a compressed WAT into records and sends the keepers.
func (p *Processor) parseWAT(ctx context.Context, data []byte, out chan<- types.PageRecord, keep func(*types.PageRecord) bool) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		p.stats.noteFileFailed()
		logging.TrawlerDebug("WAT decompress failed: %v", err)
		return nil
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 1<<20), maxRecordBytes)
	scanner.Split(splitWATRecords)

	for scanner.Scan() {
		rec, ok := parseWATRecord(scanner.Bytes(), p.anchorCap)
		if !ok {
			p.stats.noteSkipped()
			continue
		}
		p.stats.noteParsed()
		if !keep(&rec) {
			continue
		}
		select {
		case out <- rec:
			p.stats.noteYielded()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		p.stats.noteFileFailed()
		logging.TrawlerDebug("WAT record scan failed: %v", err)
	}
	return nil
}
