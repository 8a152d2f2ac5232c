package chain

import (
	"context"
	"fmt"
	"sort"

	"submarine/internal/events"
	"submarine/internal/logging"
	"submarine/internal/types"
)

// runCascade is the recursive OSINT discovery loop. Highest-relevance items
// are processed first; each runs its type's fallback rule chain, related
// entities are pulled out of the payload by the declarative patterns, scored,
// filtered, and enqueued one level deeper.
func (e *Executor) runCascade(ctx context.Context, r *run) error {
	maxDepth := e.maxDepth(r.cfg)
	maxEntities := e.maxEntities(r.cfg)
	minRelevance := e.minRelevance(r.cfg)

	if r.seed.Type == "" {
		return fmt.Errorf("cascade needs a typed seed")
	}

	r.seen[makeDedupKey(r.seed.Value, r.cfg.DeduplicationFields)] = true
	r.enqueue(queueItem{value: r.seed.Value, entityType: r.seed.Type, relevance: 1})

	for len(r.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(r.entities) >= maxEntities {
			e.cascadeStop(r, "max_entities_reached")
			return nil
		}

		// Highest relevance first; stable sort keeps FIFO among equals.
		sort.SliceStable(r.queue, func(i, j int) bool { return r.queue[i].relevance > r.queue[j].relevance })
		item := r.popFront()

		key := types.DedupKey(item.entityType, item.value)
		if r.processed[key] {
			continue
		}
		r.processed[key] = true
		e.hop(r, item.depth, len(r.queue))

		e.emit(events.CascadeEntityProcessing, map[string]any{
			"chain_id":  r.id,
			"value":     item.value,
			"type":      string(item.entityType),
			"depth":     item.depth,
			"relevance": item.relevance,
		})

		res, ruleID := e.lookupEntity(ctx, r, item.value, item.entityType)
		if res == nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.record(StepResult{
				Value: item.value, Type: item.entityType, Depth: item.depth,
				Status: StatusFailed, Error: fmt.Sprintf("no working rule for type %s", item.entityType),
			})
			continue
		}
		r.record(StepResult{
			RuleID: ruleID, Value: item.value, Type: item.entityType,
			Depth: item.depth, Status: StatusSuccess, Data: res.Data,
		})

		node := types.EntityNode{
			Value:             item.value,
			Type:              item.entityType,
			Depth:             item.depth,
			Relevance:         item.relevance,
			NeedsVerification: item.relevance < 0.5,
			Parent:            item.parent,
			Data:              res.Data,
		}
		if e.addEntity(ctx, r, node) {
			if item.parent != "" {
				r.addEdge(item.parent, key, "discovered")
			}
			e.emit(events.CascadeEntityDiscovered, map[string]any{
				"chain_id":  r.id,
				"value":     item.value,
				"type":      string(item.entityType),
				"depth":     item.depth,
				"relevance": item.relevance,
			})
		}

		if item.depth >= maxDepth {
			r.depthCapped = true
			continue
		}

		related, warns := extractRelated(res.Data)
		for _, w := range warns {
			e.warn(r, w)
		}
		for _, rel := range related {
			dedupKey := makeDedupKey(rel.value, r.cfg.DeduplicationFields)
			if r.seen[dedupKey] {
				continue
			}
			r.seen[dedupKey] = true

			score := r.scorer.Score(rel.value, r.seed.Value, item.depth+1, ruleID, item.sourceChain)
			if score < minRelevance {
				logging.ChainDebug("Dropping %s %q at relevance %.2f", rel.entityType, rel.value, score)
				continue
			}
			if r.cfg.AIFilterEnabled && !e.admit(ctx, r, rel.value, rel.entityType, score, minRelevance) {
				logging.ChainDebug("Filter rejected %s %q", rel.entityType, rel.value)
				continue
			}

			r.enqueue(queueItem{
				value:       rel.value,
				entityType:  rel.entityType,
				depth:       item.depth + 1,
				relevance:   score,
				parent:      key,
				sourceChain: appendSource(item.sourceChain, ruleID),
			})
		}
	}

	if r.depthCapped {
		e.cascadeStop(r, "max_depth_reached")
	} else {
		e.cascadeStop(r, "queue_exhausted")
	}
	return nil
}

// admit applies the configured filter, falling back to the heuristic when
// the backend errors.
func (e *Executor) admit(ctx context.Context, r *run, value string, entityType types.EntityType, relevance, threshold float64) bool {
	ok, err := e.filter.Admit(ctx, value, entityType, relevance, threshold)
	if err != nil {
		e.warn(r, fmt.Sprintf("entity filter failed for %s %q, using heuristic: %v", entityType, value, err))
		ok, _ = HeuristicFilter{}.Admit(ctx, value, entityType, relevance, threshold)
	}
	return ok
}

func (e *Executor) cascadeStop(r *run, reason string) {
	logging.Chain("Cascade %s stopped: %s", r.id, reason)
	e.emit(events.CascadeStopped, map[string]any{"chain_id": r.id, "reason": reason})
	e.emit(events.ChainStopped, map[string]any{"chain_id": r.id, "reason": reason})
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditChainStop,
		Category:  string(logging.CategoryChain),
		RunID:     r.id,
		Target:    r.seed.Value,
		Action:    reason,
		Success:   true,
	})
}
