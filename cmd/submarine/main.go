package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"submarine/internal/ccindex"
	"submarine/internal/config"
	"submarine/internal/dive"
	"submarine/internal/events"
	"submarine/internal/logging"
	"submarine/internal/sonar"
)

var (
	// Global flags
	cfgPath   string
	workspace string
	verbose   bool
	timeout   time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "submarine",
	Short: "submarine - archive-first OSINT acquisition engine",
	Long: `submarine investigates entities through web archives instead of live
crawling. It locates candidate domains in pre-built entity indices (sonar),
resolves their pages to exact WARC byte ranges in the Common Crawl index
(periscope), fetches only those ranges (dive), and expands findings into an
entity graph through rule-table chains.

Typical session:
  submarine plan "meridian shipping" tld_include(pa)
  submarine dive "meridian shipping" depth(2) /news
  submarine chain CHAIN_CASCADE ops@meridian-shipping.com
  submarine console`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		if err := logging.Initialize(cfg.Workspace); err != nil {
			logger.Warn("File logging disabled", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("Audit trail disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// .env first, so the config layer's env overrides can see it.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default <workspace>/.submarine/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Overall operation timeout (0 = none)")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(diveCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(trawlCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(consoleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path against the workspace flag, then
// layers defaults, the file, environment overrides and the hard caps.
func loadConfig() (*config.Config, error) {
	ws := workspace
	if ws == "" {
		ws = "."
	}
	path := cfgPath
	if path == "" {
		path = filepath.Join(ws, ".submarine", "config.yaml")
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		c.Workspace = workspace
	}
	return c, nil
}

// signalContext derives the command context: optional overall timeout,
// cancelled on SIGINT/SIGTERM so the fetch layer can shut down cleanly and
// checkpoints stay consistent.
func signalContext() (context.Context, context.CancelFunc) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

// rulesDir resolves the rule table directory against the workspace.
func rulesDir() string {
	if filepath.IsAbs(cfg.Rules.Dir) {
		return cfg.Rules.Dir
	}
	return filepath.Join(cfg.Workspace, cfg.Rules.Dir)
}

// statePath joins a path under the workspace .submarine directory.
func statePath(parts ...string) string {
	return filepath.Join(append([]string{cfg.Workspace, ".submarine"}, parts...)...)
}

// storePath resolves the entity store location against the workspace.
func storePath() string {
	if filepath.IsAbs(cfg.Store.Path) {
		return cfg.Store.Path
	}
	return filepath.Join(cfg.Workspace, cfg.Store.Path)
}

// newPlanner wires the sonar and index clients into a planner.
func newPlanner(bus *events.Bus) *dive.Planner {
	return dive.NewPlanner(sonar.New(cfg), ccindex.New(cfg), cfg, bus)
}
