package diver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"submarine/internal/logging"
	"submarine/internal/types"
)

const (
	// killGrace is the window between SIGTERM and SIGKILL when the stream
	// stops early. Long enough for the fetcher to flush its current line.
	killGrace = 2 * time.Second

	// maxLineBytes bounds one NDJSON output line; page content is inlined,
	// so lines run far past the scanner default.
	maxLineBytes = 16 << 20
)

// SubprocessFetcher drives an external range-fetch binary. The binary reads
// an NDJSON record file and writes one NDJSON page per line to stdout;
// stderr is held until exit and logged as diagnostics.
type SubprocessFetcher struct {
	bin     string
	threads int
	timeout time.Duration
	grace   time.Duration
}

// NewSubprocessFetcher builds a fetcher around the given binary.
func NewSubprocessFetcher(bin string, threads int, timeout time.Duration) *SubprocessFetcher {
	if threads < 1 {
		threads = 1
	}
	return &SubprocessFetcher{bin: bin, threads: threads, timeout: timeout, grace: killGrace}
}

// Fetch streams the fetcher's stdout through emit. A non-zero exit keeps
// the partial output already delivered and is not reported as an error;
// only a failure to launch or an emit error fails the call.
func (f *SubprocessFetcher) Fetch(ctx context.Context, records []types.CCRecord, emit EmitFunc) error {
	if len(records) == 0 {
		return nil
	}

	recFile, err := writeRecordsFile(records)
	if err != nil {
		return err
	}
	defer os.Remove(recFile)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(fetchCtx, f.bin,
		"fetch",
		"--records="+recFile,
		fmt.Sprintf("--threads=%d", f.threads),
		fmt.Sprintf("--timeout=%d", int(f.timeout.Seconds())),
	)
	// SIGTERM first so the fetcher can finish its current line; the exec
	// machinery escalates to SIGKILL after the grace window.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = f.grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("fetcher stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start fetcher %s: %w", f.bin, err)
	}
	logging.DiverDebug("Fetcher started: %s with %d records, %d threads", f.bin, len(records), f.threads)

	var emitErr error
	dropped := 0
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var page FetchedPage
		if err := json.Unmarshal(line, &page); err != nil {
			dropped++
			logging.DiverDebug("Dropping corrupt fetcher line (%d bytes): %v", len(line), err)
			continue
		}
		if emitErr = emit(page); emitErr != nil {
			cancel()
			break
		}
	}
	if scanErr := scanner.Err(); scanErr != nil && emitErr == nil && fetchCtx.Err() == nil {
		logging.DiverWarn("Fetcher stdout read aborted: %v", scanErr)
	}

	// Drain whatever is left so the child never blocks on a full pipe,
	// then reap it.
	io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if dropped > 0 {
		logging.DiverWarn("Dropped %d corrupt fetcher lines", dropped)
	}
	if emitErr != nil {
		if errors.Is(emitErr, ErrStop) {
			return nil
		}
		return emitErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		// Partial output already consumed is kept; stderr is diagnostic.
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			logging.DiverWarn("Fetcher exited with error: %v (stderr: %s)", waitErr, truncateForLog(msg, 500))
		} else {
			logging.DiverWarn("Fetcher exited with error: %v", waitErr)
		}
	}
	return nil
}

// writeRecordsFile writes the records as NDJSON to a temp file the fetcher
// binary reads. The caller removes it.
func writeRecordsFile(records []types.CCRecord) (string, error) {
	f, err := os.CreateTemp("", "dive-records-*.ndjson")
	if err != nil {
		return "", fmt.Errorf("create records file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write records file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close records file: %w", err)
	}
	return f.Name(), nil
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
