package chain

import (
	"context"
	"strings"

	"submarine/internal/types"
)

// runOwnership builds the shareholder tree above or below the seed company.
// A holder is admitted when its stake meets the threshold; corporate holders
// recurse while depth allows. Steps conditioned on shareholder_type are
// skipped at the root, where no holder context exists yet.
func (e *Executor) runOwnership(ctx context.Context, r *run, threshold float64) error {
	maxDepth := e.maxDepth(r.cfg)

	r.tree = &OwnershipNode{Name: r.seed.Value, Type: "company", Depth: 0}
	e.addEntity(ctx, r, types.EntityNode{Value: r.seed.Value, Type: types.EntityCompany, Depth: 0, Relevance: 1})
	r.processed[strings.ToLower(strings.TrimSpace(r.seed.Value))] = true

	queue := []*OwnershipNode{r.tree}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := queue[0]
		queue = queue[1:]
		e.hop(r, cur.Depth, len(queue))

		for _, step := range r.cfg.Steps {
			if cur.Depth == 0 && strings.HasPrefix(step.Condition, "shareholder_type") {
				continue
			}
			for _, res := range e.executeStep(ctx, r, step, cur.Name, cur.Depth) {
				holders, warns := types.DecodeShareholders(payloadValue(res.Data, step, e.registry, "shareholders", "owners", "ownership"))
				for _, w := range warns {
					e.warn(r, w)
				}
				for _, sh := range holders {
					if sh.OwnershipPct < threshold {
						continue
					}
					key := strings.ToLower(strings.TrimSpace(sh.Name))
					if key == "" || r.processed[key] {
						continue
					}
					r.processed[key] = true

					holderType := normalizeHolderType(sh.Type, sh.Name)
					child := &OwnershipNode{
						Name:         sh.Name,
						Type:         holderType,
						OwnershipPct: sh.OwnershipPct,
						Depth:        cur.Depth + 1,
					}
					cur.Children = append(cur.Children, child)

					entityType := types.EntityPerson
					if holderType == "company" {
						entityType = types.EntityCompany
					}
					score := e.scoreFor(r, sh.Name, child.Depth, res.RuleID)
					node := types.EntityNode{
						Value:             sh.Name,
						Type:              entityType,
						Depth:             child.Depth,
						Relevance:         score,
						NeedsVerification: score < 0.5,
						Parent:            types.DedupKey(types.EntityCompany, cur.Name),
						Data:              map[string]any{"ownership_pct": sh.OwnershipPct},
					}
					if e.addEntity(ctx, r, node) {
						r.addEdge(types.DedupKey(entityType, sh.Name), types.DedupKey(types.EntityCompany, cur.Name), "shareholder_of")
					}

					if holderType == "company" && child.Depth < maxDepth {
						queue = append(queue, child)
					}
				}
			}
		}
	}
	return nil
}

// runPortfolio walks holdings downward from the seed. Corporate holdings
// recurse only when the step's condition asks for it.
func (e *Executor) runPortfolio(ctx context.Context, r *run) error {
	threshold := e.portfolioThreshold(r.cfg)
	maxDepth := e.maxDepth(r.cfg)

	r.tree = &OwnershipNode{Name: r.seed.Value, Type: "company", Depth: 0}
	e.addEntity(ctx, r, types.EntityNode{Value: r.seed.Value, Type: types.EntityCompany, Depth: 0, Relevance: 1})
	r.processed[strings.ToLower(strings.TrimSpace(r.seed.Value))] = true

	queue := []*OwnershipNode{r.tree}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := queue[0]
		queue = queue[1:]
		e.hop(r, cur.Depth, len(queue))

		for _, step := range r.cfg.Steps {
			follow := strings.Contains(step.Condition, "follow_corporate")
			for _, res := range e.executeStep(ctx, r, step, cur.Name, cur.Depth) {
				holdings, warns := types.DecodeHoldings(payloadValue(res.Data, step, e.registry, "holdings", "portfolio", "investments"))
				for _, w := range warns {
					e.warn(r, w)
				}
				for _, h := range holdings {
					if h.OwnershipPct < threshold {
						continue
					}
					key := strings.ToLower(strings.TrimSpace(h.Name))
					if key == "" || r.processed[key] {
						continue
					}
					r.processed[key] = true

					child := &OwnershipNode{
						Name:         h.Name,
						Type:         "company",
						OwnershipPct: h.OwnershipPct,
						Depth:        cur.Depth + 1,
					}
					cur.Children = append(cur.Children, child)

					score := e.scoreFor(r, h.Name, child.Depth, res.RuleID)
					data := map[string]any{"ownership_pct": h.OwnershipPct}
					if h.Jurisdiction != "" {
						data["jurisdiction"] = h.Jurisdiction
					}
					node := types.EntityNode{
						Value:             h.Name,
						Type:              types.EntityCompany,
						Depth:             child.Depth,
						Relevance:         score,
						NeedsVerification: score < 0.5,
						Parent:            types.DedupKey(types.EntityCompany, cur.Name),
						Data:              data,
					}
					if e.addEntity(ctx, r, node) {
						r.addEdge(types.DedupKey(types.EntityCompany, cur.Name), types.DedupKey(types.EntityCompany, h.Name), "holds")
					}

					if follow && child.Depth < maxDepth {
						queue = append(queue, child)
					}
				}
			}
		}
	}
	return nil
}

func (e *Executor) scoreFor(r *run, value string, depth int, source string) float64 {
	return r.scorer.Score(value, r.seed.Value, depth, source, nil)
}
