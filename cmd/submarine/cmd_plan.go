package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"submarine/internal/ccindex"
	"submarine/internal/dive"
	"submarine/internal/diver"
	"submarine/internal/events"
	"submarine/internal/extract"
	"submarine/internal/order"
	"submarine/internal/types"
)

var (
	planOut        string
	diveCheckpoint string
	diveExtract    bool
	resumeExtract  bool
)

var planCmd = &cobra.Command{
	Use:   "plan <order>",
	Short: "Resolve an order into a dive plan without fetching anything",
	Long: `Plan runs the acquisition pipeline up to the point of fetching: sonar
lookup, domain expansion, cc index resolution, and cost estimation. The
resulting plan lists every WARC record a dive would fetch.

The order uses the console grammar, so directives work here too:

  submarine plan "meridian shipping" depth(2) tld_include(pa)
  submarine plan panama registry /news --save plan.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ord, err := order.Parse(strings.Join(args, " "))
		if err != nil {
			return err
		}

		bus := events.New()
		drained := watchEvents(bus)
		defer drained()
		defer bus.Close()

		plan, err := newPlanner(bus).CreatePlan(ctx, orderRequest(ord))
		if err != nil {
			return err
		}
		renderPlan(os.Stdout, plan)

		if planOut != "" {
			if err := plan.Save(planOut); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Plan written to %s\n", planOut)
		}
		return nil
	},
}

var diveCmd = &cobra.Command{
	Use:   "dive <order>",
	Short: "Plan and execute an archive dive, streaming pages as NDJSON",
	Long: `Dive builds a plan for the order and fetches every resolved record from
the archive, one JSON page per stdout line. Progress goes to stderr. The plan
is checkpointed before fetching starts and updated after each completed
domain, so an interrupted dive resumes with "submarine resume".

  submarine dive "meridian shipping" depth(2) expanse(3)
  submarine dive harbor permits /index        (resolve records, never fetch)
  submarine dive harbor permits /scrape       (fetch live instead of archived)`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ord, err := order.Parse(strings.Join(args, " "))
		if err != nil {
			return err
		}

		bus := events.New()
		drained := watchEvents(bus)
		defer drained()
		defer bus.Close()

		plan, err := newPlanner(bus).CreatePlan(ctx, orderRequest(ord))
		if err != nil {
			return err
		}
		renderPlan(os.Stderr, plan)

		if ord.Mode == order.ModeIndex {
			// Index mode stops at resolution: print the records, skip the fetch.
			enc := json.NewEncoder(os.Stdout)
			for _, t := range plan.Targets {
				for _, rec := range t.CCRecords {
					if err := enc.Encode(rec); err != nil {
						return err
					}
				}
			}
			return nil
		}

		checkpoint := diveCheckpoint
		if checkpoint == "" {
			checkpoint = statePath("plans", plan.ID+".json")
		}
		if err := plan.Save(checkpoint); err != nil {
			return fmt.Errorf("failed to checkpoint plan: %w", err)
		}
		logger.Info("Plan checkpointed",
			zap.String("plan", plan.ID),
			zap.String("path", checkpoint))

		var ex *extract.Extractor
		if diveExtract {
			ex = extract.New()
		}
		stats, err := newDiver(ord, bus).ExecutePlan(ctx, plan, checkpoint, pageEmitter(os.Stdout, ex, bus))
		renderDiveStats(os.Stderr, stats)
		return err
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <plan-file>",
	Short: "Resume an interrupted dive from its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		plan, err := dive.LoadPlan(args[0])
		if err != nil {
			return err
		}
		remaining := len(plan.RemainingTargets())
		logger.Info("Resuming plan",
			zap.String("plan", plan.ID),
			zap.Int("completed_domains", len(plan.CompletedDomains)),
			zap.Int("remaining_domains", remaining))
		if remaining == 0 {
			fmt.Fprintf(os.Stderr, "Plan %s is already complete\n", plan.ID)
			return nil
		}

		bus := events.New()
		drained := watchEvents(bus)
		defer drained()
		defer bus.Close()

		var ex *extract.Extractor
		if resumeExtract {
			ex = extract.New()
		}
		d := diver.New(cfg, ccindex.New(cfg), bus)
		stats, err := d.ExecutePlan(ctx, plan, args[0], pageEmitter(os.Stdout, ex, bus))
		renderDiveStats(os.Stderr, stats)
		return err
	},
}

func init() {
	planCmd.Flags().StringVar(&planOut, "save", "", "Write the plan JSON to this file")
	diveCmd.Flags().StringVar(&diveCheckpoint, "checkpoint", "", "Checkpoint file (default <workspace>/.submarine/plans/<id>.json)")
	diveCmd.Flags().BoolVar(&diveExtract, "extract", false, "Extract entities from each fetched page")
	resumeCmd.Flags().BoolVar(&resumeExtract, "extract", false, "Extract entities from each fetched page")
}

// orderRequest builds the plan request for an order. An entity reference
// with no query text investigates the entity by name.
func orderRequest(ord *order.Order) dive.PlanRequest {
	req := ord.ToPlanRequest(cfg)
	if req.Query == "" && ord.Entity != "" {
		req.Query = ord.Entity
	}
	return req
}

// newDiver picks the fetch layer the order asked for. Scrape mode requests
// record URLs from the live site instead of the archive mirror.
func newDiver(ord *order.Order, bus *events.Bus) *diver.Diver {
	index := ccindex.New(cfg)
	if ord != nil && ord.Mode == order.ModeScrape {
		live := diver.NewLiveFetcher(cfg.Dive.Threads, cfg.GetFetchTimeout())
		return diver.NewWithFetcher(live, cfg, index, bus)
	}
	return diver.New(cfg, index, bus)
}

// emittedPage is one stdout line of a dive: the page plus whatever the
// extractor found in it.
type emittedPage struct {
	types.PageRecord
	Entities []types.ExtractedEntity `json:"entities,omitempty"`
}

// pageEmitter writes one JSON object per page to w. With an extractor
// attached, each page's text is mined and the findings ride on the same
// line; a submarine:extract event carries the per-page counts.
func pageEmitter(w io.Writer, ex *extract.Extractor, bus *events.Bus) diver.PageHandler {
	enc := json.NewEncoder(w)
	return func(page types.PageRecord) error {
		out := emittedPage{PageRecord: page}
		if ex != nil && page.Content != "" {
			res := ex.Extract(page.Content, page.URL, page.Domain)
			out.Entities = res.Entities
			emitExtract(bus, page, res)
		}
		return enc.Encode(out)
	}
}

// emitExtract publishes what the extractor found on one page.
func emitExtract(bus *events.Bus, page types.PageRecord, res *extract.ExtractionResult) {
	if bus == nil || len(res.Entities) == 0 {
		return
	}
	bus.Emit(events.SubmarineExtract, map[string]any{
		"url":      page.URL,
		"domain":   page.Domain,
		"entities": len(res.Entities),
		"counts":   res.Counts,
	})
}
