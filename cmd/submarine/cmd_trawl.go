package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"submarine/internal/archive"
	"submarine/internal/types"
)

var (
	trawlArchive    string
	trawlDomains    []string
	trawlSchema     string
	trawlFilters    []string
	trawlMaxFiles   int
	trawlAggressive bool
)

var trawlCmd = &cobra.Command{
	Use:   "trawl",
	Short: "Stream pages out of raw WAT metadata archives",
	Long: `Trawl bypasses the cc index and reads an archive's WAT metadata files
directly, streaming every matching page as NDJSON. Use it when the index
cannot answer the question: schema.org sweeps across the whole crawl, or
domains whose pages never surface in an index lookup.

  submarine trawl --domains meridian-shipping.com,ualpine-corp.pa
  submarine trawl --schema Organization --filter addressCountry=PA
  submarine trawl --schema Person --max-files 500 --aggressive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (len(trawlDomains) == 0) == (trawlSchema == "") {
			return fmt.Errorf("trawl wants exactly one of --domains or --schema")
		}

		ctx, cancel := signalContext()
		defer cancel()

		archiveID := trawlArchive
		if archiveID == "" {
			if len(cfg.CCIndex.Archives) == 0 {
				return fmt.Errorf("no archive configured: set cc_index.archives or pass --archive")
			}
			archiveID = cfg.CCIndex.Archives[0]
		}
		maxFiles := trawlMaxFiles
		if maxFiles <= 0 {
			maxFiles = cfg.Archive.MaxWATFiles
		}

		proc := archive.New(cfg, archiveID, trawlAggressive)
		logger.Info("Starting trawl",
			zap.String("archive", archiveID),
			zap.Int("max_wat_files", maxFiles),
			zap.Bool("aggressive", trawlAggressive))

		var (
			pages <-chan types.PageRecord
			err   error
		)
		if trawlSchema != "" {
			filters, ferr := parseFilterPairs(trawlFilters)
			if ferr != nil {
				return ferr
			}
			pages, err = proc.FetchBySchema(ctx, trawlSchema, filters, maxFiles)
		} else {
			pages, err = proc.FetchDomains(ctx, trawlDomains, maxFiles)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		yielded := 0
		for page := range pages {
			if err := enc.Encode(page); err != nil {
				return err
			}
			yielded++
		}
		renderTrawlStats(os.Stderr, yielded, proc.Stats())
		return ctx.Err()
	},
}

func init() {
	trawlCmd.Flags().StringVar(&trawlArchive, "archive", "", "Archive ID (default: first configured)")
	trawlCmd.Flags().StringSliceVar(&trawlDomains, "domains", nil, "Domains to keep")
	trawlCmd.Flags().StringVar(&trawlSchema, "schema", "", "schema.org @type to match")
	trawlCmd.Flags().StringArrayVar(&trawlFilters, "filter", nil, "Schema field filter key=value (repeatable)")
	trawlCmd.Flags().IntVar(&trawlMaxFiles, "max-files", 0, "WAT file cap (default from config)")
	trawlCmd.Flags().BoolVar(&trawlAggressive, "aggressive", false, "Raise download and parse concurrency")
}

// parseFilterPairs turns repeated key=value flags into the schema filter map.
func parseFilterPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad --filter %q, want key=value", p)
		}
		m[k] = v
	}
	return m, nil
}
