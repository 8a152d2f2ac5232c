package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"submarine/internal/archive"
	"submarine/internal/chain"
	"submarine/internal/dive"
	"submarine/internal/diver"
	"submarine/internal/events"
	"submarine/internal/extract"
	"submarine/internal/rules"
	"submarine/internal/sonar"
	"submarine/internal/types"
)

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	good    = color.New(color.FgGreen).SprintFunc()
	bad     = color.New(color.FgRed).SprintFunc()
	warn    = color.New(color.FgYellow).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
)

// maxPlanTargetLines bounds the target listing; full detail lives in the
// plan JSON.
const maxPlanTargetLines = 10

// watchEvents mirrors bus traffic onto stderr while verbose is set. Call the
// returned function after the bus is closed so the drain goroutine finishes
// before the command returns.
func watchEvents(bus *events.Bus) func() {
	if !verbose {
		return func() {}
	}
	ch := bus.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range ch {
			renderEvent(os.Stderr, ev)
		}
	}()
	return wg.Wait
}

func renderEvent(w io.Writer, ev events.Event) {
	line := ev.Type
	if len(ev.Data) > 0 {
		if raw, err := json.Marshal(ev.Data); err == nil {
			line += " " + string(raw)
		}
	}
	fmt.Fprintf(w, "%s %s\n", dim(ev.At.Format("15:04:05")), dim(line))
}

func renderPlan(w io.Writer, p *dive.DivePlan) {
	fmt.Fprintf(w, "%s %s\n", heading("Plan"), p.ID)
	fmt.Fprintf(w, "  query:    %s\n", p.Query)
	fmt.Fprintf(w, "  archives: %s\n", strings.Join(p.Archives, ", "))
	fmt.Fprintf(w, "  domains:  %d   pages: %d   est: %s / %s\n",
		p.TotalDomains, p.TotalPages,
		humanBytes(p.EstimatedBytes),
		(time.Duration(p.EstimatedSeconds * float64(time.Second))).Round(time.Second))
	if len(p.CompletedDomains) > 0 {
		fmt.Fprintf(w, "  complete: %d domains\n", len(p.CompletedDomains))
	}
	for i, t := range p.Targets {
		if i == maxPlanTargetLines {
			fmt.Fprintf(w, "  %s\n", dim(fmt.Sprintf("... and %d more domains", len(p.Targets)-i)))
			break
		}
		fmt.Fprintf(w, "  P%d %-40s %4d pages  %s\n",
			t.Priority, t.Domain, len(t.CCRecords), dim(t.Source))
	}
}

func renderDiveStats(w io.Writer, s diver.DiveStats) {
	failed := fmt.Sprintf("%d failed", s.PagesFailed)
	if s.PagesFailed > 0 {
		failed = bad(failed)
	} else {
		failed = dim(failed)
	}
	fmt.Fprintf(w, "%s %s pages (%s), %d domains, %s\n",
		heading("Dive complete:"),
		good(fmt.Sprint(s.PagesProduced)), failed,
		s.DomainsCompleted, s.Elapsed.Round(time.Millisecond))
}

func renderChainResult(w io.Writer, res *chain.ChainResult) {
	status := good(res.Status)
	if res.Status != chain.StatusSuccess {
		status = bad(res.Status)
	}
	fmt.Fprintf(w, "%s %s %s %s\n",
		heading("Chain"), res.ChainID, dim(res.ChainType), status)
	if res.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", bad(res.Error))
	}
	fmt.Fprintf(w, "  entities: %d   steps: %d   graph: %d/%d   rule calls: %d",
		res.Counts.Entities, res.Counts.Results,
		res.Counts.Nodes, res.Counts.Edges, res.Counts.RuleCalls)
	if res.Counts.Persisted > 0 {
		fmt.Fprintf(w, "   persisted: %d", res.Counts.Persisted)
	}
	fmt.Fprintf(w, "   %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}

func renderTrawlStats(w io.Writer, yielded int, s archive.Stats) {
	files := fmt.Sprintf("%d files", s.FilesProcessed)
	if s.FilesFailed > 0 {
		files += ", " + bad(fmt.Sprintf("%d failed", s.FilesFailed))
	}
	fmt.Fprintf(w, "%s %s pages from %s (%s parsed, %d skipped, %s)\n",
		heading("Trawl complete:"),
		good(fmt.Sprint(yielded)), files,
		fmt.Sprint(s.RecordsParsed), s.RecordsSkipped, humanBytes(s.BytesDownloaded))
	if s.FilesProcessed > 0 {
		fmt.Fprintf(w, "  %s\n", dim(fmt.Sprintf("per file: mean %.0fms, median %.0fms, p90 %.0fms",
			s.FileMeanMs, s.FileMedianMs, s.FileP90Ms)))
	}
}

func renderRegistry(w io.Writer, r *rules.Registry) {
	nRules, nBooks, nChains, nLegend := r.Counts()
	fmt.Fprintf(w, "%s %s\n", heading("Rule tables"), dim(r.Dir()))
	fmt.Fprintf(w, "  rules: %d   playbooks: %d   chain rules: %d   legend: %d\n",
		nRules, nBooks, nChains, nLegend)

	if ids := r.ChainRuleIDs(); len(ids) > 0 {
		fmt.Fprintf(w, "%s\n", heading("Chain rules"))
		for _, id := range ids {
			label := ""
			if cr, ok := r.ChainRule(id); ok {
				label = cr.Label
			}
			fmt.Fprintf(w, "  %-36s %s\n", id, dim(label))
		}
	}
	if ids := r.PlaybookIDs(); len(ids) > 0 {
		fmt.Fprintf(w, "%s\n", heading("Playbooks"))
		for _, id := range ids {
			label := ""
			if pb, ok := r.Playbook(id); ok {
				label = pb.Label
			}
			fmt.Fprintf(w, "  %-36s %s\n", id, dim(label))
		}
	}
}

func renderScan(w io.Writer, res *sonar.ScanResult) {
	fmt.Fprintf(w, "%s %q %s\n",
		heading("Sonar"), res.Query, dim(fmt.Sprintf("(%s)", res.QueryType)))
	fmt.Fprintf(w, "  indices: %s\n", strings.Join(res.IndicesScanned, ", "))
	if len(res.Domains) == 0 {
		fmt.Fprintf(w, "  %s\n", dim("no hits"))
		return
	}
	byDomain := make(map[string][]sonar.Hit)
	for _, h := range res.Hits {
		byDomain[h.Domain] = append(byDomain[h.Domain], h)
	}
	for _, d := range res.Domains {
		kinds := make([]string, 0, len(byDomain[d]))
		for _, h := range byDomain[d] {
			kinds = append(kinds, h.MatchType)
		}
		sort.Strings(kinds)
		fmt.Fprintf(w, "  %s %-40s %s\n", good("*"), d, dim(strings.Join(kinds, ",")))
	}
}

func renderPage(w io.Writer, page types.PageRecord, ext *extract.ExtractionResult) {
	status := fmt.Sprintf("%3d", page.HTTPStatus)
	switch {
	case page.HTTPStatus >= 200 && page.HTTPStatus < 300:
		status = good(status)
	case page.HTTPStatus == 0:
		status = bad("ERR")
	default:
		status = warn(status)
	}
	line := fmt.Sprintf("%s %s %s", status, page.URL, dim(humanBytes(int64(len(page.Content)))))
	if ext != nil && len(ext.Entities) > 0 {
		parts := make([]string, 0, len(ext.Counts))
		for _, k := range sortedCountKeys(ext.Counts) {
			parts = append(parts, fmt.Sprintf("%s:%d", k, ext.Counts[k]))
		}
		line += " " + good(strings.Join(parts, " "))
	}
	fmt.Fprintln(w, line)
}

func sortedCountKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
