package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"submarine/internal/chain"
	"submarine/internal/events"
	"submarine/internal/rules"
	"submarine/internal/sonar"
	"submarine/internal/store"
	"submarine/internal/types"
)

var (
	chainSeedType     string
	chainJurisdiction string
	chainSonarExec    bool
)

var chainCmd = &cobra.Command{
	Use:   "chain <chain-rule-id> <seed>",
	Short: "Run an expansion chain from a seed entity",
	Long: `Chain expands a seed entity through the named chain rule and prints the
full result envelope as JSON: discovered entities, the relationship graph,
per-step provenance and counters.

Without a rule backend every lookup is declined, which still exercises the
chain tables end to end. --sonar-exec answers lookups from the local sonar
indices instead.

  submarine chain CHAIN_CASCADE ops@meridian-shipping.com
  submarine chain CHAIN_OWNERSHIP "Meridian Holdings" --jurisdiction pa --sonar-exec`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		registry, err := rules.Load(rulesDir())
		if err != nil {
			return err
		}

		bus := events.New()
		drained := watchEvents(bus)
		defer drained()
		defer bus.Close()

		var ruleExec types.RuleExecutor = stubExecutor{}
		if chainSonarExec {
			ruleExec = &sonarExecutor{scanner: sonar.New(cfg), limit: cfg.Sonar.Limit}
		}
		exec := chain.NewExecutor(cfg, registry, ruleExec, bus)

		if cfg.Store.Enabled {
			st, err := store.Open(storePath())
			if err != nil {
				return fmt.Errorf("failed to open entity store: %w", err)
			}
			defer st.Close()
			exec.SetStore(st)
		}

		if cfg.Chain.AIFilter && cfg.Chain.GenAIAPIKey != "" {
			filter, ferr := chain.NewGenAIFilter(ctx, cfg.Chain.GenAIAPIKey, cfg.Chain.GenAIModel)
			if ferr != nil {
				logger.Warn("GenAI filter unavailable, keeping heuristics", zap.Error(ferr))
			} else {
				exec.SetEntityFilter(filter)
			}
		}

		seed := args[1]
		seedT := types.EntityType(chainSeedType)
		if chainSeedType == "" {
			seedT = classifySeed(seed)
		}
		logger.Info("Running chain",
			zap.String("rule", args[0]),
			zap.String("seed", seed),
			zap.String("seed_type", string(seedT)))

		result := exec.ExecuteByID(ctx, args[0], chain.ChainInput{
			Value:        seed,
			Type:         seedT,
			Jurisdiction: chainJurisdiction,
		})

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		renderChainResult(os.Stderr, result)
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the loaded rule tables",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rule, playbook and chain rule IDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := rules.Load(rulesDir())
		if err != nil {
			return err
		}
		renderRegistry(os.Stdout, registry)
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one rule, playbook or chain rule definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := rules.Load(rulesDir())
		if err != nil {
			return err
		}

		var def any
		if r, ok := registry.Rule(args[0]); ok {
			def = r
		} else if p, ok := registry.Playbook(args[0]); ok {
			def = p
		} else if c, ok := registry.ChainRule(args[0]); ok {
			def = c
		} else {
			return fmt.Errorf("%q: %w", args[0], rules.ErrNotFound)
		}

		out, err := json.MarshalIndent(def, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	chainCmd.Flags().StringVar(&chainSeedType, "type", "", "Seed entity type (default: inferred from shape)")
	chainCmd.Flags().StringVar(&chainJurisdiction, "jurisdiction", "", "Jurisdiction hint for playbook resolution")
	chainCmd.Flags().BoolVar(&chainSonarExec, "sonar-exec", false, "Answer rule lookups from the sonar indices")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesShowCmd)
}

// classifySeed infers a chain seed's entity type from its shape.
func classifySeed(value string) types.EntityType {
	switch sonar.Classify(value) {
	case sonar.QueryEmail:
		return types.EntityEmail
	case sonar.QueryPhone:
		return types.EntityPhone
	case sonar.QueryDomain:
		return types.EntityDomain
	case sonar.QueryURL:
		return types.EntityURL
	case sonar.QueryPerson:
		return types.EntityPerson
	default:
		return types.EntityCompany
	}
}

// stubExecutor declines every rule call. Chains still run their full table
// logic; each step records a failed lookup.
type stubExecutor struct{}

func (stubExecutor) ExecuteRule(_ context.Context, ruleID, value, _ string) (*types.RuleResult, error) {
	return &types.RuleResult{
		RuleID: ruleID,
		Status: chain.StatusFailed,
		Error:  fmt.Sprintf("no rule backend configured for %s(%s)", ruleID, value),
	}, nil
}

// sonarExecutor answers rule calls from the local sonar indices. Every rule
// maps to the same scan; hits come back as related domains, which is enough
// for domain pivots and seed expansion without any external provider.
type sonarExecutor struct {
	scanner *sonar.Scanner
	limit   int
}

func (s *sonarExecutor) ExecuteRule(ctx context.Context, ruleID, value, _ string) (*types.RuleResult, error) {
	res, err := s.scanner.ScanAll(ctx, value, s.limit)
	if err != nil {
		return nil, err
	}
	if len(res.Domains) == 0 {
		return &types.RuleResult{RuleID: ruleID, Status: chain.StatusFailed, Error: "no index hits"}, nil
	}
	return &types.RuleResult{
		RuleID: ruleID,
		Status: chain.StatusSuccess,
		Data: map[string]any{
			"domains":    res.Domains,
			"query_type": string(res.QueryType),
			"indices":    res.IndicesScanned,
		},
	}, nil
}
