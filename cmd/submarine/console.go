package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"submarine/internal/chain"
	"submarine/internal/events"
	"submarine/internal/extract"
	"submarine/internal/order"
	"submarine/internal/rules"
	"submarine/internal/sonar"
	"submarine/internal/store"
	"submarine/internal/types"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive operator console",
	Long: `Console is the interactive surface: type orders and watch them run.
Lines are parsed with the order grammar; a handful of builtins sit on top.

  meridian shipping depth(2) /news      dive, pages printed as they land
  harbor permits /index                 resolve records without fetching
  @meridian-shipping.com                look an entity up in the indices
  chain CHAIN_CASCADE ops@acme.pa       run an expansion chain
  help                                  grammar and builtins`,
	RunE: runConsole,
}

// console holds one interactive session.
type console struct {
	rl       *readline.Instance
	bus      *events.Bus
	registry *rules.Registry
	exec     *chain.Executor
	scanner  *sonar.Scanner
	ex       *extract.Extractor
	st       *store.LocalStore
	watcher  *rules.TableWatcher

	showEvents atomic.Bool
	sigCh      chan os.Signal
}

func runConsole(cmd *cobra.Command, args []string) error {
	histPath := statePath("console_history")
	if err := os.MkdirAll(filepath.Dir(histPath), 0o755); err != nil {
		return err
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sub> ",
		HistoryFile:     histPath,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	c := &console{
		rl:      rl,
		bus:     events.New(),
		scanner: sonar.New(cfg),
		ex:      extract.New(),
		sigCh:   make(chan os.Signal, 1),
	}
	c.showEvents.Store(true)

	signal.Notify(c.sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c.sigCh)

	// Bus traffic repaints through the readline writer so the prompt
	// survives output from background goroutines.
	evCh := c.bus.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range evCh {
			if c.showEvents.Load() {
				renderEvent(rl.Stderr(), ev)
			}
		}
	}()
	defer wg.Wait()
	defer c.bus.Close()

	if err := c.loadTables(); err != nil {
		fmt.Fprintf(rl.Stderr(), "%s %v\n", warn("rule tables unavailable:"), err)
	} else if cfg.Rules.Watch {
		c.watcher = rules.NewTableWatcher(rulesDir(), c.bus)
		if werr := c.watcher.Start(context.Background()); werr != nil {
			logger.Warn("Table watcher failed to start", zap.Error(werr))
			c.watcher = nil
		} else {
			defer c.watcher.Stop()
		}
	}

	if cfg.Store.Enabled {
		st, serr := store.Open(storePath())
		if serr != nil {
			fmt.Fprintf(rl.Stderr(), "%s %v\n", warn("entity store unavailable:"), serr)
		} else {
			c.st = st
			defer st.Close()
			if c.exec != nil {
				c.exec.SetStore(st)
			}
		}
	}

	fmt.Fprintf(rl.Stdout(), "%s workspace %s. Type %s for the order grammar.\n",
		heading("submarine console:"), cfg.Workspace, good("help"))
	c.loop()
	return nil
}

// loadTables reads the rule tables and rebuilds the chain executor on top of
// them. Called at startup and by the reload builtin.
func (c *console) loadTables() error {
	registry, err := rules.Load(rulesDir())
	if err != nil {
		return err
	}
	exec := chain.NewExecutor(cfg, registry, &sonarExecutor{scanner: c.scanner, limit: cfg.Sonar.Limit}, c.bus)
	if c.st != nil {
		exec.SetStore(c.st)
	}
	if cfg.Chain.AIFilter && cfg.Chain.GenAIAPIKey != "" {
		filter, ferr := chain.NewGenAIFilter(context.Background(), cfg.Chain.GenAIAPIKey, cfg.Chain.GenAIModel)
		if ferr != nil {
			logger.Warn("GenAI filter unavailable, keeping heuristics", zap.Error(ferr))
		} else {
			exec.SetEntityFilter(filter)
		}
	}
	c.registry = registry
	c.exec = exec
	return nil
}

func (c *console) loop() {
	for {
		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "exit", "quit":
			return
		case "help":
			c.printHelp()
		case "rules":
			c.printRules()
		case "reload":
			c.reload()
		case "stats":
			c.printStats()
		case "chain":
			c.runChain(fields[1:])
		case "plan":
			c.runOrder(strings.TrimSpace(line[len("plan"):]), true)
		default:
			c.runOrder(line, false)
		}
	}
}

// runContext derives the context for one order. Ctrl-C during execution
// cancels the run and drops back to the prompt.
func (c *console) runContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		select {
		case <-c.sigCh:
			fmt.Fprintln(c.rl.Stderr(), warn("interrupted"))
			cancel()
		case <-done:
		}
	}()
	return ctx, func() {
		close(done)
		cancel()
	}
}

func (c *console) runOrder(line string, planOnly bool) {
	ord, err := order.Parse(line)
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "%s %v\n", bad("bad order:"), err)
		return
	}
	c.showEvents.Store(ord.Watch)

	ctx, cancel := c.runContext()
	defer cancel()

	// An entity reference with no query or keyword is a lookup, not a dive.
	if ord.Entity != "" && ord.Query == "" && ord.Keyword == "" {
		c.lookup(ctx, ord)
		return
	}

	plan, err := newPlanner(c.bus).CreatePlan(ctx, orderRequest(ord))
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "%s %v\n", bad("plan failed:"), err)
		return
	}
	renderPlan(c.rl.Stdout(), plan)
	if planOnly || ord.Mode == order.ModeIndex {
		return
	}

	checkpoint := statePath("plans", plan.ID+".json")
	if err := plan.Save(checkpoint); err != nil {
		fmt.Fprintf(c.rl.Stderr(), "%s %v\n", warn("checkpoint failed:"), err)
		checkpoint = ""
	}

	stats, err := newDiver(ord, c.bus).ExecutePlan(ctx, plan, checkpoint, func(page types.PageRecord) error {
		res := c.ex.Extract(page.Content, page.URL, page.Domain)
		emitExtract(c.bus, page, res)
		renderPage(c.rl.Stdout(), page, res)
		return nil
	})
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "%s %v\n", bad("dive failed:"), err)
	}
	renderDiveStats(c.rl.Stderr(), stats)
}

func (c *console) lookup(ctx context.Context, ord *order.Order) {
	res, err := c.scanner.ScanAll(ctx, ord.Entity, 0)
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "%s %v\n", bad("lookup failed:"), err)
		return
	}
	renderScan(c.rl.Stdout(), res)
	if c.st != nil {
		if node, nerr := c.st.GetNode(ctx, classifySeed(ord.Entity), ord.Entity); nerr == nil {
			fmt.Fprintf(c.rl.Stdout(), "  %s node %s from %s\n", good("stored:"), node.ID, node.Source)
		}
	}
	if ord.EntityTentative {
		fmt.Fprintln(c.rl.Stdout(), dim("tentative reference; confirm before chaining"))
	}
}

func (c *console) runChain(args []string) {
	if c.exec == nil {
		fmt.Fprintln(c.rl.Stderr(), bad("no rule tables loaded; fix the tables and run reload"))
		return
	}
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stderr(), "usage: chain <chain-rule-id> <seed> [:jurisdiction]")
		return
	}

	id := args[0]
	var jurisdiction string
	var seedParts []string
	for _, tok := range args[1:] {
		if len(tok) > 1 && strings.HasPrefix(tok, ":") {
			jurisdiction = strings.ToLower(tok[1:])
			continue
		}
		seedParts = append(seedParts, tok)
	}
	seed := strings.Join(seedParts, " ")

	ctx, cancel := c.runContext()
	defer cancel()

	res := c.exec.ExecuteByID(ctx, id, chain.ChainInput{
		Value:        seed,
		Type:         classifySeed(seed),
		Jurisdiction: jurisdiction,
	})
	renderChainResult(c.rl.Stdout(), res)
	for _, ent := range res.Entities {
		marker := good("*")
		if ent.NeedsVerification {
			marker = warn("?")
		}
		fmt.Fprintf(c.rl.Stdout(), "  %s %-10s %-40s %.2f d%d\n",
			marker, ent.Type, ent.Value, ent.Relevance, ent.Depth)
	}
}

func (c *console) printRules() {
	if c.registry == nil {
		fmt.Fprintln(c.rl.Stderr(), bad("no rule tables loaded; fix the tables and run reload"))
		return
	}
	renderRegistry(c.rl.Stdout(), c.registry)
}

// reload re-reads the rule tables. The watcher only warns on changes, so
// picking them up is an explicit operator action.
func (c *console) reload() {
	if err := c.loadTables(); err != nil {
		fmt.Fprintf(c.rl.Stderr(), "%s %v\n", bad("reload failed:"), err)
		return
	}
	nRules, nBooks, nChains, _ := c.registry.Counts()
	fmt.Fprintf(c.rl.Stdout(), "%s %d rules, %d playbooks, %d chain rules\n",
		good("reloaded:"), nRules, nBooks, nChains)
}

func (c *console) printStats() {
	s := c.bus.GetStats()
	fmt.Fprintf(c.rl.Stdout(), "%s emitted %d, dropped %d\n", heading("Events:"), s.Emitted, s.Dropped)
	if c.watcher != nil {
		ws := c.watcher.GetStats()
		line := fmt.Sprintf("%s %d file events, %d settled", heading("Watcher:"), ws.EventsReceived, ws.ChangesSettled)
		if ws.LastChangePath != "" {
			line += dim(fmt.Sprintf("  last %s at %s",
				filepath.Base(ws.LastChangePath), ws.LastChangeTime.Format("15:04:05")))
		}
		fmt.Fprintln(c.rl.Stdout(), line)
	}
	if c.st != nil {
		if n, err := c.st.CountNodes(context.Background()); err == nil {
			fmt.Fprintf(c.rl.Stdout(), "%s %d nodes %s\n", heading("Store:"), n, dim(c.st.Path()))
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprint(c.rl.Stdout(), `Orders are free text plus directives, in any position:

  depth(N) expanse(N)        link-follow depth, page budget multiplier
  status(200) mime(pdf)      filter archived records
  lang(en,de) from(2023) to(2024)
  archives(CC-MAIN-2024-10)  pin specific crawls
  keyword(pattern)           URL substring filter and index fallback
  tld_include(pa,vg) tld_exclude(com)
  minrel(0.5)                chain admission threshold
  /news /index /scrape       news allowlist, resolve-only, live fetch
  /nowatch                   silence events for this order
  token!                     shorthand: news! pdf! pa!
  :scope or :JU              scope tag, or 2-letter jurisdiction
  @entity or @entity?        entity reference (bare one runs a lookup)

Builtins:

  plan <order>               resolve and price an order, never fetch
  chain <id> <seed> [:ju]    run an expansion chain
  rules                      show the loaded tables
  reload                     re-read the rule tables
  stats                      bus, watcher and store counters
  exit                       leave
`)
}
