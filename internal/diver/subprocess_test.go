package diver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"submarine/internal/types"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetcher.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSubprocessFetcherStreamsLines(t *testing.T) {
	// Emits two valid lines, one corrupt line, a stderr diagnostic, and a
	// non-zero exit. The corrupt line is dropped and the exit code is not
	// an error: partial output stays valid.
	script := writeScript(t, `
printf '%s\n' '{"url":"https://a.com/","domain":"a.com","status":200,"content_type":"text/html","content":"<html>A</html>"}'
printf '%s\n' 'not json at all'
printf '%s\n' '{"url":"https://a.com/x","domain":"a.com","status":404,"error":"not found"}'
echo "mirror throttled us" >&2
exit 3
`)

	f := NewSubprocessFetcher(script, 4, 30*time.Second)
	var pages []FetchedPage
	err := f.Fetch(context.Background(), []types.CCRecord{{URL: "https://a.com/", Filename: "a.warc.gz", Length: 10}},
		func(p FetchedPage) error {
			pages = append(pages, p)
			return nil
		})
	if err != nil {
		t.Fatalf("non-zero exit should not fail the fetch: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2 (corrupt line dropped)", len(pages))
	}
	if pages[0].Content != "<html>A</html>" || pages[0].Status != 200 {
		t.Errorf("first page = %+v", pages[0])
	}
	if !pages[1].Failed() || pages[1].Error != "not found" {
		t.Errorf("second page should carry the fetch error, got %+v", pages[1])
	}
}

func TestSubprocessFetcherPassesRecordsFile(t *testing.T) {
	// The script reports how many NDJSON records it was handed.
	script := writeScript(t, `
rf="${2#--records=}"
n=$(wc -l < "$rf" | tr -d ' \t')
printf '{"url":"https://count.test/","domain":"count.test","status":200,"content":"%s"}\n' "$n"
`)

	records := []types.CCRecord{
		{URL: "https://a.com/", Filename: "a.warc.gz", Offset: 0, Length: 10},
		{URL: "https://a.com/x", Filename: "a.warc.gz", Offset: 10, Length: 10},
		{URL: "https://b.com/", Filename: "b.warc.gz", Offset: 0, Length: 10},
	}

	f := NewSubprocessFetcher(script, 2, 30*time.Second)
	var got string
	err := f.Fetch(context.Background(), records, func(p FetchedPage) error {
		got = p.Content
		return nil
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got != "3" {
		t.Errorf("fetcher saw %q records, want 3", got)
	}
}

func TestSubprocessFetcherEarlyStopTerminates(t *testing.T) {
	// One line, then a long sleep. Stopping after the first page must
	// SIGTERM the child instead of waiting out the sleep.
	script := writeScript(t, `
printf '{"url":"https://a.com/","domain":"a.com","status":200,"content":"x"}\n'
sleep 30 >/dev/null 2>&1
printf '{"url":"https://a.com/late","domain":"a.com","status":200,"content":"y"}\n'
`)

	f := NewSubprocessFetcher(script, 1, 60*time.Second)
	start := time.Now()
	emitted := 0
	err := f.Fetch(context.Background(), []types.CCRecord{{URL: "https://a.com/", Filename: "a.warc.gz", Length: 10}},
		func(FetchedPage) error {
			emitted++
			return ErrStop
		})
	if err != nil {
		t.Fatalf("ErrStop should end the stream cleanly, got %v", err)
	}
	if emitted != 1 {
		t.Errorf("emitted %d pages, want 1", emitted)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("early stop took %v, the child was not terminated", elapsed)
	}
}

func TestSubprocessFetcherMissingBinary(t *testing.T) {
	f := NewSubprocessFetcher(filepath.Join(t.TempDir(), "does-not-exist"), 1, time.Second)
	err := f.Fetch(context.Background(), []types.CCRecord{{URL: "https://a.com/", Filename: "a.warc.gz", Length: 1}},
		func(FetchedPage) error { return nil })
	if err == nil {
		t.Fatal("missing binary should fail the fetch")
	}
}

func TestSubprocessFetcherContextCancel(t *testing.T) {
	script := writeScript(t, `
sleep 30 >/dev/null 2>&1
`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	f := NewSubprocessFetcher(script, 1, 60*time.Second)
	start := time.Now()
	err := f.Fetch(ctx, []types.CCRecord{{URL: "https://a.com/", Filename: "a.warc.gz", Length: 1}},
		func(FetchedPage) error { return nil })
	if err == nil {
		t.Fatal("canceled context should surface as an error")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("cancellation took %v, the child was not terminated", elapsed)
	}
}

func TestWriteRecordsFile(t *testing.T) {
	path, err := writeRecordsFile([]types.CCRecord{
		{URL: "https://a.com/", Filename: "a.warc.gz", Offset: 5, Length: 10},
	})
	if err != nil {
		t.Fatalf("writeRecordsFile failed: %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if line[len(line)-1] != '\n' {
		t.Error("records file must be newline-terminated NDJSON")
	}
}
