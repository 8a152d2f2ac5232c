package chain

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"submarine/internal/types"
)

// runPlaybookSequence executes the steps in order against the seed. Playbook
// steps fan their child rules out concurrently; related entities are
// collected from every success.
func (e *Executor) runPlaybookSequence(ctx context.Context, r *run) error {
	e.addEntity(ctx, r, types.EntityNode{Value: r.seed.Value, Type: r.seed.Type, Depth: 0, Relevance: 1})
	r.seen[makeDedupKey(r.seed.Value, r.cfg.DeduplicationFields)] = true
	seedItem := queueItem{value: r.seed.Value, entityType: r.seed.Type, relevance: 1}

	for _, step := range r.cfg.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, res := range e.executeStep(ctx, r, step, r.seed.Value, 0) {
			e.collectRelated(ctx, r, res, 1, seedItem)
		}
	}
	return nil
}

// runJurisdictionSweep fans every step out at once; each step is typically a
// jurisdiction-bound playbook reference. Findings merge in step order once
// all calls return.
func (e *Executor) runJurisdictionSweep(ctx context.Context, r *run) error {
	e.addEntity(ctx, r, types.EntityNode{Value: r.seed.Value, Type: r.seed.Type, Depth: 0, Relevance: 1})
	r.seen[makeDedupKey(r.seed.Value, r.cfg.DeduplicationFields)] = true
	seedItem := queueItem{value: r.seed.Value, entityType: r.seed.Type, relevance: 1}

	stepResults := make([][]*types.RuleResult, len(r.cfg.Steps))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(playbookConcurrency)
	for i, step := range r.cfg.Steps {
		eg.Go(func() error {
			stepResults[i] = e.executeStep(egCtx, r, step, r.seed.Value, 0)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, results := range stepResults {
		for _, res := range results {
			e.collectRelated(ctx, r, res, 1, seedItem)
		}
	}
	return nil
}

// runDomainPivot resolves the seed domain's registrant organisation, then
// points the remaining corporate steps at that organisation instead of the
// domain.
func (e *Executor) runDomainPivot(ctx context.Context, r *run) error {
	if len(r.cfg.Steps) == 0 {
		r.record(StepResult{Status: StatusFailed, Error: "domain pivot needs at least one step"})
		return nil
	}

	seedType := r.seed.Type
	if seedType == "" {
		seedType = types.EntityDomain
	}
	e.addEntity(ctx, r, types.EntityNode{Value: r.seed.Value, Type: seedType, Depth: 0, Relevance: 1})
	r.seen[makeDedupKey(r.seed.Value, r.cfg.DeduplicationFields)] = true
	seedItem := queueItem{value: r.seed.Value, entityType: seedType, relevance: 1}

	target := r.seed.Value
	pivoted := false
	for i, step := range r.cfg.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, res := range e.executeStep(ctx, r, step, target, i) {
			if i == 0 && !pivoted {
				if org := registrantOrg(res.Data); org != "" {
					target = org
					pivoted = true
					score := e.scoreFor(r, org, 1, res.RuleID)
					node := types.EntityNode{
						Value: org, Type: types.EntityCompany, Depth: 1,
						Relevance: score, NeedsVerification: score < 0.5,
						Parent: r.graph.Root,
						Data:   map[string]any{"registrant_of": r.seed.Value},
					}
					if e.addEntity(ctx, r, node) {
						r.addEdge(types.DedupKey(types.EntityCompany, org), r.graph.Root, "registrant_of")
					}
				}
			}
			e.collectRelated(ctx, r, res, i+1, seedItem)
		}
	}
	if !pivoted {
		e.warn(r, "domain pivot found no registrant organisation")
	}
	return nil
}

// runMediaAggregation fans the media steps out and merges their items,
// deduped by URL with the title as fallback, capped at 100.
func (e *Executor) runMediaAggregation(ctx context.Context, r *run) error {
	stepResults := make([][]*types.RuleResult, len(r.cfg.Steps))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(playbookConcurrency)
	for i, step := range r.cfg.Steps {
		eg.Go(func() error {
			stepResults[i] = e.executeStep(egCtx, r, step, r.seed.Value, 0)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	seen := map[string]bool{}
	for i, results := range stepResults {
		step := r.cfg.Steps[i]
		for _, res := range results {
			items, warns := types.DecodeMediaItems(payloadValue(res.Data, step, e.registry, "articles", "items", "media", "mentions", "results"))
			for _, w := range warns {
				e.warn(r, w)
			}
			for _, item := range items {
				key := strings.ToLower(strings.TrimSpace(item.URL))
				if key == "" {
					key = "title:" + strings.ToLower(strings.TrimSpace(item.Title))
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				if len(r.media) >= mediaItemCap {
					continue
				}
				r.media = append(r.media, item)
			}
		}
	}
	r.metrics = map[string]any{"media_items": len(r.media), "media_steps": len(r.cfg.Steps)}
	return nil
}
