package chain

import (
	"context"
	"fmt"

	"submarine/internal/rules"
	"submarine/internal/types"
)

// runRecursiveExpansion walks the configured steps breadth-first: every
// queued value runs every step, and values pulled from the step's declared
// output fields become nodes one level deeper. Children past max depth are
// suppressed entirely.
func (e *Executor) runRecursiveExpansion(ctx context.Context, r *run) error {
	maxDepth := e.maxDepth(r.cfg)
	maxEntities := e.maxEntities(r.cfg)

	e.addEntity(ctx, r, types.EntityNode{Value: r.seed.Value, Type: r.seed.Type, Depth: 0, Relevance: 1})
	r.seen[makeDedupKey(r.seed.Value, r.cfg.DeduplicationFields)] = true
	r.enqueue(queueItem{value: r.seed.Value, entityType: r.seed.Type, relevance: 1})

	for len(r.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(r.entities) >= maxEntities {
			break
		}

		item := r.popFront()
		key := types.DedupKey(item.entityType, item.value)
		if r.processed[key] {
			continue
		}
		r.processed[key] = true
		e.hop(r, item.depth, len(r.queue))

		for _, step := range r.cfg.Steps {
			for _, res := range e.executeStep(ctx, r, step, item.value, item.depth) {
				e.expandFromFields(ctx, r, step, res, item, maxDepth)
			}
		}
	}
	return nil
}

// expandFromFields turns a step's output fields into child entities and
// queue items. Steps without declared fields fall back to the declarative
// related-entity patterns.
func (e *Executor) expandFromFields(ctx context.Context, r *run, step rules.Step, res *types.RuleResult, parent queueItem, maxDepth int) {
	childDepth := parent.depth + 1
	parentKey := types.DedupKey(parent.entityType, parent.value)

	type candidate struct {
		value      string
		entityType types.EntityType
	}
	var candidates []candidate

	fields := e.registry.FieldNames(step.OutputFields)
	if len(fields) == 0 {
		related, warns := extractRelated(res.Data)
		for _, w := range warns {
			e.warn(r, w)
		}
		for _, rel := range related {
			candidates = append(candidates, candidate{rel.value, rel.entityType})
		}
	} else {
		for _, f := range fields {
			values, warns := types.AsStringList(res.Data[f])
			for _, w := range warns {
				e.warn(r, fmt.Sprintf("field %s: %s", f, w))
			}
			entityType := parent.entityType
			if t, ok := patternType(f); ok {
				entityType = t
			}
			for _, v := range values {
				candidates = append(candidates, candidate{v, entityType})
			}
		}
	}

	for _, cand := range candidates {
		key := makeDedupKey(cand.value, r.cfg.DeduplicationFields)
		if r.seen[key] {
			continue
		}
		r.seen[key] = true

		if childDepth > maxDepth {
			r.depthCapped = true
			continue
		}

		score := r.scorer.Score(cand.value, r.seed.Value, childDepth, res.RuleID, parent.sourceChain)
		node := types.EntityNode{
			Value:             cand.value,
			Type:              cand.entityType,
			Depth:             childDepth,
			Relevance:         score,
			NeedsVerification: score < 0.5,
			Parent:            parentKey,
		}
		if e.addEntity(ctx, r, node) {
			r.addEdge(parentKey, types.DedupKey(node.Type, node.Value), "expands_to")
		}
		r.enqueue(queueItem{
			value:       cand.value,
			entityType:  cand.entityType,
			depth:       childDepth,
			relevance:   score,
			parent:      parentKey,
			sourceChain: appendSource(parent.sourceChain, res.RuleID),
		})
	}
}

// appendSource copies the provenance path and adds one hop.
func appendSource(chain []string, source string) []string {
	out := make([]string, 0, len(chain)+1)
	out = append(out, chain...)
	return append(out, source)
}
