package archive

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// Stats is a snapshot of trawl progress.
type Stats struct {
	FilesProcessed  int64   `json:"files_processed"`
	FilesFailed     int64   `json:"files_failed"`
	RecordsParsed   int64   `json:"records_parsed"`
	RecordsYielded  int64   `json:"records_yielded"`
	RecordsSkipped  int64   `json:"records_skipped"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	FileMeanMs      float64 `json:"file_mean_ms"`
	FileMedianMs    float64 `json:"file_median_ms"`
	FileP90Ms       float64 `json:"file_p90_ms"`
}

type statsCollector struct {
	mu              sync.Mutex
	filesProcessed  int64
	filesFailed     int64
	recordsParsed   int64
	recordsYielded  int64
	recordsSkipped  int64
	bytesDownloaded int64
	fileMs          []float64
}

func (c *statsCollector) noteDownload(n int64) {
	c.mu.Lock()
	c.bytesDownloaded += n
	c.mu.Unlock()
}

func (c *statsCollector) noteFileDone(d time.Duration) {
	c.mu.Lock()
	c.filesProcessed++
	c.fileMs = append(c.fileMs, float64(d.Milliseconds()))
	c.mu.Unlock()
}

func (c *statsCollector) noteFileFailed() {
	c.mu.Lock()
	c.filesFailed++
	c.mu.Unlock()
}

func (c *statsCollector) noteParsed() {
	c.mu.Lock()
	c.recordsParsed++
	c.mu.Unlock()
}

func (c *statsCollector) noteYielded() {
	c.mu.Lock()
	c.recordsYielded++
	c.mu.Unlock()
}

func (c *statsCollector) noteSkipped() {
	c.mu.Lock()
	c.recordsSkipped++
	c.mu.Unlock()
}

// Stats returns a snapshot with per-file timing percentiles.
func (p *Processor) Stats() Stats {
	c := &p.stats
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		FilesProcessed:  c.filesProcessed,
		FilesFailed:     c.filesFailed,
		RecordsParsed:   c.recordsParsed,
		RecordsYielded:  c.recordsYielded,
		RecordsSkipped:  c.recordsSkipped,
		BytesDownloaded: c.bytesDownloaded,
	}
	if len(c.fileMs) > 0 {
		s.FileMeanMs, _ = stats.Mean(c.fileMs)
		s.FileMedianMs, _ = stats.Median(c.fileMs)
		s.FileP90Ms, _ = stats.Percentile(c.fileMs, 90)
	}
	return s
}

// ResetStats clears all counters and timings.
func (p *Processor) ResetStats() {
	c := &p.stats
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filesProcessed = 0
	c.filesFailed = 0
	c.recordsParsed = 0
	c.recordsYielded = 0
	c.recordsSkipped = 0
	c.bytesDownloaded = 0
	c.fileMs = nil
}
