// Package chain executes the typed discovery strategies declared in the
// chain-rule tables: ownership trees, officer networks, breach walks, and
// the recursive OSINT cascade. A chain run never returns an error; every
// execution produces an envelope with status success or failed, and partial
// findings survive whatever went wrong along the way.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"submarine/internal/config"
	"submarine/internal/events"
	"submarine/internal/logging"
	"submarine/internal/rules"
	"submarine/internal/types"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrNoSeed reports an empty initial value.
var ErrNoSeed = errors.New("empty seed value")

// Strategy defaults, used when neither the chain rule nor the engine config
// sets a value.
const (
	defaultMaxDepth           = 3
	defaultOwnershipThreshold = 25.0
	defaultControlThreshold   = 50.0
	defaultPortfolioThreshold = 5.0
	defaultClusterThreshold   = 2
	defaultNetworkThreshold   = 2
	defaultMaxEntities        = 500
	defaultMinRelevance       = 0.3
	defaultDecayPerStep       = 0.15

	mediaItemCap        = 100
	playbookConcurrency = 5
)

// ChainInput is the seed of a chain run.
type ChainInput struct {
	Value        string
	Type         types.EntityType
	Jurisdiction string
}

// ChainResult is the envelope every chain run returns.
type ChainResult struct {
	ChainID   string           `json:"chain_id"`
	ChainType string           `json:"chain_type"`
	Status    string           `json:"status"` // success | failed
	Error     string           `json:"error,omitempty"`
	Seed      string           `json:"seed"`
	SeedType  types.EntityType `json:"seed_type,omitempty"`

	Results  []StepResult       `json:"results,omitempty"`
	Entities []types.EntityNode `json:"entities,omitempty"`
	Graph    *types.EntityGraph `json:"graph,omitempty"`
	Tree     *OwnershipNode     `json:"tree,omitempty"`
	Clusters []Cluster          `json:"clusters,omitempty"`
	Metrics  map[string]any     `json:"metrics,omitempty"`
	Media    []types.MediaItem  `json:"media,omitempty"`

	Counts     ResultCounts `json:"counts"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Executor runs chain rules against the external rule engine. The registry
// must be non-nil; store and filter are optional extras.
type Executor struct {
	cfg      *config.Config
	registry *rules.Registry
	ruleExec types.RuleExecutor
	bus      types.EventSink
	store    types.EntityStore
	filter   EntityFilter
}

func NewExecutor(cfg *config.Config, registry *rules.Registry, ruleExec types.RuleExecutor, bus types.EventSink) *Executor {
	return &Executor{
		cfg:      cfg,
		registry: registry,
		ruleExec: ruleExec,
		bus:      bus,
		filter:   HeuristicFilter{},
	}
}

// SetStore enables best-effort entity persistence.
func (e *Executor) SetStore(s types.EntityStore) {
	e.store = s
}

// SetEntityFilter swaps the admission filter, e.g. for the GenAI backend.
func (e *Executor) SetEntityFilter(f EntityFilter) {
	if f != nil {
		e.filter = f
	}
}

// ExecuteByID looks a chain rule up and runs it. An unknown ID yields a
// failed envelope, not an error.
func (e *Executor) ExecuteByID(ctx context.Context, chainRuleID string, input ChainInput) *ChainResult {
	rule, ok := e.registry.ChainRule(chainRuleID)
	if !ok {
		r := e.newRun(rules.ChainRule{ID: chainRuleID}, input)
		return e.finish(r, StatusFailed, fmt.Sprintf("unknown chain rule %q", chainRuleID))
	}
	return e.Execute(ctx, rule, input)
}

// Execute runs one chain rule to completion. Individual step failures are
// recorded and skipped; only context termination fails the run early, and
// even then the partial findings are kept in the envelope.
func (e *Executor) Execute(ctx context.Context, rule rules.ChainRule, input ChainInput) *ChainResult {
	timer := logging.StartTimer(logging.CategoryChain, "Execute")
	defer timer.Stop()

	input.Value = strings.TrimSpace(input.Value)
	r := e.newRun(rule, input)

	if input.Value == "" {
		return e.finish(r, StatusFailed, ErrNoSeed.Error())
	}
	if !rules.KnownType(r.cfg.Type) {
		return e.finish(r, StatusFailed, fmt.Sprintf("unknown chain type %q", r.cfg.Type))
	}

	logging.Chain("Chain %s (%s) starting from %s", r.id, r.cfg.Type, input.Value)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditChainStart,
		Category:  string(logging.CategoryChain),
		RunID:     r.id,
		Target:    input.Value,
		Action:    r.cfg.Type,
		Success:   true,
	})
	e.emit(events.ChainStart, map[string]any{
		"chain_id":   r.id,
		"chain_type": r.cfg.Type,
		"seed":       input.Value,
		"seed_type":  string(input.Type),
	})

	var err error
	switch r.cfg.Type {
	case rules.TypeRecursiveExpansion:
		err = e.runRecursiveExpansion(ctx, r)
	case rules.TypeCascadingOwnership:
		err = e.runOwnership(ctx, r, e.ownershipThreshold(r.cfg, false))
	case rules.TypeHierarchicalExpansion:
		err = e.runOwnership(ctx, r, e.ownershipThreshold(r.cfg, true))
	case rules.TypeClusteringNetwork:
		err = e.runClustering(ctx, r)
	case rules.TypePortfolioExpansion:
		err = e.runPortfolio(ctx, r)
	case rules.TypeNetworkExpansion:
		err = e.runNetworkExpansion(ctx, r)
	case rules.TypeEntityNetworkExtraction:
		err = e.runEntityNetwork(ctx, r)
	case rules.TypePlaybookCascade, rules.TypeComplianceStack:
		err = e.runPlaybookSequence(ctx, r)
	case rules.TypeMultiJurisdictionSweep:
		err = e.runJurisdictionSweep(ctx, r)
	case rules.TypeDomainToCorporatePivot:
		err = e.runDomainPivot(ctx, r)
	case rules.TypeMediaAggregation:
		err = e.runMediaAggregation(ctx, r)
	case rules.TypeOSINTCascade:
		err = e.runCascade(ctx, r)
	case rules.TypeOSINTBreachNetwork:
		err = e.runBreachNetwork(ctx, r)
	case rules.TypeOSINTPersonWeb:
		err = e.runPersonWeb(ctx, r)
	}
	if err != nil {
		return e.finish(r, StatusFailed, err.Error())
	}
	return e.finish(r, StatusSuccess, "")
}

func (e *Executor) newRun(rule rules.ChainRule, input ChainInput) *run {
	return &run{
		id:        uuid.NewString(),
		ruleID:    rule.ID,
		cfg:       rule.ChainConfig,
		seed:      input,
		scorer:    NewScorer(rule.ChainConfig),
		processed: map[string]bool{},
		seen:      map[string]bool{},
		nodeIndex: map[string]int{},
		edgeSeen:  map[string]bool{},
		graph:     types.EntityGraph{Root: types.DedupKey(input.Type, input.Value)},
		lastHop:   -1,
		started:   time.Now(),
	}
}

func (e *Executor) finish(r *run, status, errMsg string) *ChainResult {
	results, ruleCalls := r.snapshotResults()
	res := &ChainResult{
		ChainID:   r.id,
		ChainType: r.cfg.Type,
		Status:    status,
		Error:     errMsg,
		Seed:      r.seed.Value,
		SeedType:  r.seed.Type,
		Results:   results,
		Entities:  r.entities,
		Tree:      r.tree,
		Clusters:  r.clusters,
		Metrics:   r.metrics,
		Media:     r.media,
		Counts: ResultCounts{
			Entities:  len(r.entities),
			Results:   len(results),
			Nodes:     len(r.graph.Nodes),
			Edges:     len(r.graph.Edges),
			RuleCalls: ruleCalls,
			Persisted: r.persisted,
		},
		StartedAt:  r.started,
		FinishedAt: time.Now(),
	}
	if len(r.graph.Nodes) > 0 || len(r.graph.Edges) > 0 {
		g := r.graph
		res.Graph = &g
	}

	e.emit(events.ChainComplete, map[string]any{
		"chain_id":   r.id,
		"chain_type": r.cfg.Type,
		"status":     status,
		"entities":   len(r.entities),
		"results":    len(results),
	})
	logging.Chain("Chain %s finished %s: %d entities, %d results, %d rule calls",
		r.id, status, len(r.entities), len(results), ruleCalls)
	logging.Audit().Log(logging.AuditEvent{
		EventType:  logging.AuditChainComplete,
		Category:   string(logging.CategoryChain),
		RunID:      r.id,
		Target:     r.seed.Value,
		Action:     r.cfg.Type,
		Success:    status == StatusSuccess,
		DurationMs: time.Since(r.started).Milliseconds(),
		Error:      errMsg,
		Fields:     map[string]any{"entities": len(r.entities), "rule_calls": ruleCalls},
	})
	return res
}

// =============================================================================
// SHARED STEP MACHINERY
// =============================================================================

// callRule invokes one rule and never returns nil. Transport errors become
// failed results.
func (e *Executor) callRule(ctx context.Context, r *run, ruleID, value string) *types.RuleResult {
	start := time.Now()
	r.noteRuleCall()

	res, err := e.ruleExec.ExecuteRule(ctx, ruleID, value, r.seed.Jurisdiction)
	if err != nil {
		logging.Audit().RuleComplete(ruleID, value, false, time.Since(start).Milliseconds(), err.Error())
		return &types.RuleResult{RuleID: ruleID, Status: StatusFailed, Error: err.Error()}
	}
	if res == nil {
		return &types.RuleResult{RuleID: ruleID, Status: StatusFailed, Error: "rule returned no result"}
	}
	if res.RuleID == "" {
		res.RuleID = ruleID
	}
	logging.Audit().RuleComplete(ruleID, value, res.Succeeded(), time.Since(start).Milliseconds(), res.Error)
	return res
}

// lookupEntity runs the fallback rule chain for an entity type. The first
// success wins; a failure moves on to the next rule. A nil result means the
// chain is exhausted or the type has no chain.
func (e *Executor) lookupEntity(ctx context.Context, r *run, value string, entityType types.EntityType) (*types.RuleResult, string) {
	for _, ruleID := range fallbackChains[entityType] {
		if ctx.Err() != nil {
			return nil, ""
		}
		res := e.callRule(ctx, r, ruleID, value)
		if res.Succeeded() {
			return res, ruleID
		}
		logging.ChainDebug("Rule %s failed for %s %q: %s", ruleID, entityType, value, res.Error)
	}
	return nil, ""
}

// executeStep resolves a step to one or more rule calls and returns the
// successful results. Playbook steps fan out to their child rules; a failed
// rule step falls back to the step's fallback pattern when one is declared.
func (e *Executor) executeStep(ctx context.Context, r *run, step rules.Step, value string, depth int) []*types.RuleResult {
	if step.IsPlaybook() {
		return e.executePlaybook(ctx, r, step.Action, value, depth)
	}

	res := e.callRule(ctx, r, step.Action, value)
	r.record(StepResult{
		Action: step.Action, RuleID: res.RuleID, Value: value, Depth: depth,
		Status: res.Status, Data: res.Data, Error: res.Error,
	})
	if res.Succeeded() {
		return []*types.RuleResult{res}
	}

	if step.FallbackPattern != "" && ctx.Err() == nil {
		if id, ok := e.registry.ResolvePlaybookID(step.FallbackPattern, r.seed.Jurisdiction); ok {
			if _, isBook := e.registry.Playbook(id); isBook {
				return e.executePlaybook(ctx, r, id, value, depth)
			}
			fb := e.callRule(ctx, r, id, value)
			r.record(StepResult{
				Action: id, RuleID: fb.RuleID, Value: value, Depth: depth,
				Status: fb.Status, Data: fb.Data, Error: fb.Error,
			})
			if fb.Succeeded() {
				return []*types.RuleResult{fb}
			}
		}
	}
	return nil
}

// executePlaybook fans a playbook's rules out concurrently and collects the
// successes. Individual failures are recorded and skipped.
func (e *Executor) executePlaybook(ctx context.Context, r *run, ref, value string, depth int) []*types.RuleResult {
	id, ok := e.registry.ResolvePlaybookID(ref, r.seed.Jurisdiction)
	if !ok {
		r.record(StepResult{
			Action: ref, Value: value, Depth: depth, Status: StatusFailed,
			Error: fmt.Sprintf("playbook reference %q did not resolve", ref),
		})
		return nil
	}
	book, ok := e.registry.Playbook(id)
	if !ok {
		// Pass-through references may name a plain rule.
		if _, isRule := e.registry.Rule(id); isRule {
			res := e.callRule(ctx, r, id, value)
			r.record(StepResult{
				Action: id, RuleID: res.RuleID, Value: value, Depth: depth,
				Status: res.Status, Data: res.Data, Error: res.Error,
			})
			if res.Succeeded() {
				return []*types.RuleResult{res}
			}
			return nil
		}
		r.record(StepResult{
			Action: id, Value: value, Depth: depth, Status: StatusFailed,
			Error: fmt.Sprintf("unknown playbook %q", id),
		})
		return nil
	}

	results := make([]*types.RuleResult, len(book.Rules))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(playbookConcurrency)
	for i, ruleID := range book.Rules {
		eg.Go(func() error {
			results[i] = e.callRule(egCtx, r, ruleID, value)
			return nil
		})
	}
	_ = eg.Wait()

	var successes []*types.RuleResult
	for i, res := range results {
		if res == nil {
			continue
		}
		r.record(StepResult{
			Action: id, RuleID: book.Rules[i], Value: value, Depth: depth,
			Status: res.Status, Data: res.Data, Error: res.Error,
		})
		if res.Succeeded() {
			successes = append(successes, res)
		}
	}
	return successes
}

// collectRelated turns a rule payload's related fields into discovered
// entities at the given depth, without enqueueing anything.
func (e *Executor) collectRelated(ctx context.Context, r *run, res *types.RuleResult, depth int, parent queueItem) {
	related, warns := extractRelated(res.Data)
	for _, w := range warns {
		e.warn(r, w)
	}
	parentKey := types.DedupKey(parent.entityType, parent.value)
	for _, rel := range related {
		key := makeDedupKey(rel.value, r.cfg.DeduplicationFields)
		if r.seen[key] {
			continue
		}
		r.seen[key] = true

		score := r.scorer.Score(rel.value, r.seed.Value, depth, res.RuleID, parent.sourceChain)
		node := types.EntityNode{
			Value:             rel.value,
			Type:              rel.entityType,
			Depth:             depth,
			Relevance:         score,
			NeedsVerification: score < 0.5,
			Parent:            parentKey,
		}
		if e.addEntity(ctx, r, node) {
			r.addEdge(parentKey, types.DedupKey(node.Type, node.Value), "related_to")
		}
	}
}

// addEntity registers a discovered node: entity list, graph, event, optional
// persistence. Returns false for duplicates.
func (e *Executor) addEntity(ctx context.Context, r *run, n types.EntityNode) bool {
	if !r.addNode(n) {
		return false
	}
	e.emit(events.ChainEntityDiscovered, map[string]any{
		"chain_id":  r.id,
		"value":     n.Value,
		"type":      string(n.Type),
		"depth":     n.Depth,
		"relevance": n.Relevance,
	})
	e.persistNode(ctx, r, n)
	return true
}

// persistNode writes one discovered entity through the store contract,
// best-effort. Failures emit cymonides:error and never block discovery.
func (e *Executor) persistNode(ctx context.Context, r *run, n types.EntityNode) {
	if e.store == nil {
		return
	}
	id, err := e.store.CreateNode(ctx, n.Type, n.Value, n.Data, "chain:"+r.ruleID)
	if err != nil {
		logging.Audit().StorePersist(string(n.Type), n.Value, false, err.Error())
		e.emit(events.CymonidesError, map[string]any{
			"chain_id": r.id, "value": n.Value, "error": err.Error(),
		})
		return
	}
	r.persisted++
	logging.Audit().StorePersist(string(n.Type), n.Value, true, "")
	e.emit(events.CymonidesPersisted, map[string]any{
		"chain_id": r.id, "value": n.Value, "node_id": id,
	})
}

// hop reports entry into a new depth layer. Repeat calls at the same depth
// are collapsed.
func (e *Executor) hop(r *run, depth, queued int) {
	if depth == r.lastHop {
		return
	}
	r.lastHop = depth
	e.emit(events.ChainHop, map[string]any{
		"chain_id":   r.id,
		"depth":      depth,
		"queued":     queued,
		"discovered": len(r.entities),
	})
	logging.Audit().ChainHop(r.id, depth, queued, len(r.entities))
}

func (e *Executor) emit(eventType string, data map[string]any) {
	if e.bus != nil {
		e.bus.Emit(eventType, data)
	}
}

// warn surfaces a swallowed oddity as an observable event.
func (e *Executor) warn(r *run, msg string) {
	logging.ChainWarn("Chain %s: %s", r.id, msg)
	e.emit(events.InternalWarning, map[string]any{"chain_id": r.id, "message": msg})
}

// =============================================================================
// THRESHOLD RESOLUTION
// =============================================================================

// Threshold priority: the chain rule's own config, then the engine config,
// then the strategy default.

func (e *Executor) maxDepth(cfg rules.ChainConfig) int {
	if cfg.MaxDepth > 0 {
		return cfg.MaxDepth
	}
	return defaultMaxDepth
}

func (e *Executor) maxEntities(cfg rules.ChainConfig) int {
	if cfg.MaxEntities > 0 {
		return cfg.MaxEntities
	}
	if e.cfg != nil && e.cfg.Chain.MaxEntities > 0 {
		return e.cfg.Chain.MaxEntities
	}
	return defaultMaxEntities
}

func (e *Executor) minRelevance(cfg rules.ChainConfig) float64 {
	if cfg.RelevanceThreshold > 0 {
		return cfg.RelevanceThreshold
	}
	if e.cfg != nil && e.cfg.Chain.MinRelevance > 0 {
		return e.cfg.Chain.MinRelevance
	}
	return defaultMinRelevance
}

func (e *Executor) ownershipThreshold(cfg rules.ChainConfig, control bool) float64 {
	if cfg.OwnershipThresholdPct > 0 {
		return cfg.OwnershipThresholdPct
	}
	if control {
		if e.cfg != nil && e.cfg.Chain.ControlThreshold > 0 {
			return e.cfg.Chain.ControlThreshold
		}
		return defaultControlThreshold
	}
	if e.cfg != nil && e.cfg.Chain.OwnershipThreshold > 0 {
		return e.cfg.Chain.OwnershipThreshold
	}
	return defaultOwnershipThreshold
}

func (e *Executor) portfolioThreshold(cfg rules.ChainConfig) float64 {
	if cfg.OwnershipThresholdPct > 0 {
		return cfg.OwnershipThresholdPct
	}
	if e.cfg != nil && e.cfg.Chain.PortfolioThreshold > 0 {
		return e.cfg.Chain.PortfolioThreshold
	}
	return defaultPortfolioThreshold
}

func (e *Executor) clusterThreshold(cfg rules.ChainConfig) int {
	if cfg.ClusterThreshold > 0 {
		return cfg.ClusterThreshold
	}
	if e.cfg != nil && e.cfg.Chain.ClusterThreshold > 0 {
		return e.cfg.Chain.ClusterThreshold
	}
	return defaultClusterThreshold
}

func (e *Executor) networkThreshold(cfg rules.ChainConfig) int {
	if cfg.NetworkThreshold > 0 {
		return cfg.NetworkThreshold
	}
	return defaultNetworkThreshold
}
