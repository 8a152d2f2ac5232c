package chain

import (
	"context"
	"strings"

	"submarine/internal/rules"
	"submarine/internal/types"
)

// runClustering seeds companies that share an attribute with the seed, walks
// their officers, and groups officers appearing across enough companies.
// CROSS_REFERENCE steps compute locally over what earlier steps gathered and
// never hit the rule engine.
func (e *Executor) runClustering(ctx context.Context, r *run) error {
	clusterThreshold := e.clusterThreshold(r.cfg)

	var companies []string
	companySeen := map[string]bool{}
	companiesResolved := false
	appointments := map[string]map[string]bool{} // officer name -> companies

	for _, step := range r.cfg.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		if strings.Contains(strings.ToUpper(step.Action), "CROSS_REFERENCE") {
			for _, officer := range sortedKeys(appointments) {
				comps := appointments[officer]
				if len(comps) < clusterThreshold {
					continue
				}
				r.clusters = append(r.clusters, Cluster{
					Kind:    "officer_overlap",
					Key:     officer,
					Members: sortedKeys(comps),
					Size:    len(comps),
				})
			}
			r.record(StepResult{
				Action: step.Action, Status: StatusSuccess,
				Data: map[string]any{"clusters": len(r.clusters)},
			})
			continue
		}

		if !companiesResolved {
			// First lookup runs on the shared seed attribute and yields the
			// companies carrying it.
			companiesResolved = true
			for _, res := range e.executeStep(ctx, r, step, r.seed.Value, 0) {
				names, warns := types.AsStringList(payloadValue(res.Data, step, e.registry, "companies", "entities", "results"))
				for _, w := range warns {
					e.warn(r, w)
				}
				for _, name := range names {
					key := strings.ToLower(strings.TrimSpace(name))
					if key == "" || companySeen[key] {
						continue
					}
					companySeen[key] = true
					companies = append(companies, name)

					score := e.scoreFor(r, name, 1, res.RuleID)
					node := types.EntityNode{
						Value: name, Type: types.EntityCompany, Depth: 1,
						Relevance: score, NeedsVerification: score < 0.5,
					}
					if e.addEntity(ctx, r, node) {
						r.addEdge(types.DedupKey(types.EntityCompany, name), r.graph.Root, "shares_attribute")
					}
				}
			}
			continue
		}

		for _, company := range companies {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, res := range e.executeStep(ctx, r, step, company, 1) {
				officers, warns := types.DecodeOfficers(payloadValue(res.Data, step, e.registry, "officers", "directors"))
				for _, w := range warns {
					e.warn(r, w)
				}
				for _, officer := range officers {
					if appointments[officer.Name] == nil {
						appointments[officer.Name] = map[string]bool{}
						score := e.scoreFor(r, officer.Name, 2, res.RuleID)
						e.addEntity(ctx, r, types.EntityNode{
							Value: officer.Name, Type: types.EntityPerson, Depth: 2,
							Relevance: score, NeedsVerification: score < 0.5,
						})
					}
					if !appointments[officer.Name][company] {
						appointments[officer.Name][company] = true
						r.addEdge(types.DedupKey(types.EntityPerson, officer.Name), types.DedupKey(types.EntityCompany, company), "officer_of")
					}
				}
			}
		}
	}
	return nil
}

// runNetworkExpansion walks the bipartite officer and company graph breadth
// first. Steps[0] resolves a company's officers, steps[1] an officer's other
// appointments. Metrics summarize the finished network.
func (e *Executor) runNetworkExpansion(ctx context.Context, r *run) error {
	if len(r.cfg.Steps) == 0 {
		r.record(StepResult{Status: StatusFailed, Error: "network expansion needs at least one step"})
		return nil
	}
	officerStep := r.cfg.Steps[0]
	var companyStep *rules.Step
	if len(r.cfg.Steps) > 1 {
		companyStep = &r.cfg.Steps[1]
	}

	maxDepth := e.maxDepth(r.cfg)
	networkThreshold := e.networkThreshold(r.cfg)

	appointments := map[string]map[string]bool{} // officer name -> companies
	companySeen := map[string]bool{strings.ToLower(strings.TrimSpace(r.seed.Value)): true}
	edgeCount := 0

	e.addEntity(ctx, r, types.EntityNode{Value: r.seed.Value, Type: types.EntityCompany, Depth: 0, Relevance: 1})
	queue := []queueItem{{value: r.seed.Value, entityType: types.EntityCompany}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := queue[0]
		queue = queue[1:]
		e.hop(r, item.depth, len(queue))

		switch item.entityType {
		case types.EntityCompany:
			for _, res := range e.executeStep(ctx, r, officerStep, item.value, item.depth) {
				officers, warns := types.DecodeOfficers(payloadValue(res.Data, officerStep, e.registry, "officers", "directors"))
				for _, w := range warns {
					e.warn(r, w)
				}
				for _, officer := range officers {
					if appointments[officer.Name] == nil {
						appointments[officer.Name] = map[string]bool{}
						score := e.scoreFor(r, officer.Name, item.depth+1, res.RuleID)
						e.addEntity(ctx, r, types.EntityNode{
							Value: officer.Name, Type: types.EntityPerson, Depth: item.depth + 1,
							Relevance: score, NeedsVerification: score < 0.5,
						})
						if companyStep != nil && item.depth+1 < maxDepth {
							queue = append(queue, queueItem{value: officer.Name, entityType: types.EntityPerson, depth: item.depth + 1})
						}
					}
					if !appointments[officer.Name][item.value] {
						appointments[officer.Name][item.value] = true
						r.addEdge(types.DedupKey(types.EntityPerson, officer.Name), types.DedupKey(types.EntityCompany, item.value), "appointment")
						edgeCount++
					}
				}
			}

		case types.EntityPerson:
			if companyStep == nil {
				continue
			}
			for _, res := range e.executeStep(ctx, r, *companyStep, item.value, item.depth) {
				names, warns := companyNames(payloadValue(res.Data, *companyStep, e.registry, "companies", "appointments", "results"))
				for _, w := range warns {
					e.warn(r, w)
				}
				for _, company := range names {
					key := strings.ToLower(strings.TrimSpace(company))
					if key == "" {
						continue
					}
					if appointments[item.value] == nil {
						appointments[item.value] = map[string]bool{}
					}
					if !appointments[item.value][company] {
						appointments[item.value][company] = true
						r.addEdge(types.DedupKey(types.EntityPerson, item.value), types.DedupKey(types.EntityCompany, company), "appointment")
						edgeCount++
					}
					if !companySeen[key] {
						companySeen[key] = true
						score := e.scoreFor(r, company, item.depth+1, res.RuleID)
						e.addEntity(ctx, r, types.EntityNode{
							Value: company, Type: types.EntityCompany, Depth: item.depth + 1,
							Relevance: score, NeedsVerification: score < 0.5,
						})
						if item.depth+1 < maxDepth {
							queue = append(queue, queueItem{value: company, entityType: types.EntityCompany, depth: item.depth + 1})
						}
					}
				}
			}
		}
	}

	totalAppointments := 0
	shared := 0
	for _, comps := range appointments {
		totalAppointments += len(comps)
		if len(comps) >= networkThreshold {
			shared++
		}
	}
	avg := 0.0
	if len(appointments) > 0 {
		avg = float64(totalAppointments) / float64(len(appointments))
	}
	r.metrics = map[string]any{
		"officers":                     len(appointments),
		"companies":                    len(companySeen),
		"edges":                        edgeCount,
		"avg_appointments_per_officer": avg,
		"shared_appointments":          shared,
	}
	return nil
}

// runEntityNetwork extracts the people around a center company, then their
// other appointments. The first three steps resolve persons of the center;
// the fourth, when present and depth allows, expands each person outward.
// Secondary companies never include the center itself.
func (e *Executor) runEntityNetwork(ctx context.Context, r *run) error {
	center := r.seed.Value
	centerKey := strings.ToLower(strings.TrimSpace(center))
	e.addEntity(ctx, r, types.EntityNode{Value: center, Type: types.EntityCompany, Depth: 0, Relevance: 1})

	personSteps := r.cfg.Steps
	var expandStep *rules.Step
	if len(personSteps) > 3 {
		expandStep = &r.cfg.Steps[3]
		personSteps = personSteps[:3]
	}

	var persons []string
	personSeen := map[string]bool{}
	for _, step := range personSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, res := range e.executeStep(ctx, r, step, center, 0) {
			names, warns := personsFromPayload(res.Data, step, e.registry)
			for _, w := range warns {
				e.warn(r, w)
			}
			for _, name := range names {
				key := strings.ToLower(strings.TrimSpace(name))
				if key == "" || personSeen[key] {
					continue
				}
				personSeen[key] = true
				persons = append(persons, name)

				score := e.scoreFor(r, name, 1, res.RuleID)
				node := types.EntityNode{
					Value: name, Type: types.EntityPerson, Depth: 1,
					Relevance: score, NeedsVerification: score < 0.5,
					Parent: r.graph.Root,
				}
				if e.addEntity(ctx, r, node) {
					r.addEdge(types.DedupKey(types.EntityPerson, name), r.graph.Root, "connected_to")
				}
			}
		}
	}

	if expandStep == nil || e.maxDepth(r.cfg) <= 1 {
		return nil
	}
	for _, person := range persons {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, res := range e.executeStep(ctx, r, *expandStep, person, 1) {
			names, warns := companyNames(payloadValue(res.Data, *expandStep, e.registry, "companies", "appointments", "results"))
			for _, w := range warns {
				e.warn(r, w)
			}
			for _, company := range names {
				if strings.ToLower(strings.TrimSpace(company)) == centerKey {
					continue
				}
				score := e.scoreFor(r, company, 2, res.RuleID)
				node := types.EntityNode{
					Value: company, Type: types.EntityCompany, Depth: 2,
					Relevance: score, NeedsVerification: score < 0.5,
					Parent: types.DedupKey(types.EntityPerson, person),
				}
				e.addEntity(ctx, r, node)
				r.addEdge(types.DedupKey(types.EntityPerson, person), types.DedupKey(types.EntityCompany, company), "appointment")
			}
		}
	}
	return nil
}

// personsFromPayload lists the person names in an officer, UBO or
// shareholder payload, dropping entries typed or suffixed as legal entities.
func personsFromPayload(data map[string]any, step rules.Step, reg *rules.Registry) ([]string, []string) {
	v := payloadValue(data, step, reg,
		"officers", "directors", "shareholders", "ubos", "beneficial_owners", "persons", "results")
	records, warns := types.DecodeShareholders(v)
	var out []string
	for _, rec := range records {
		if normalizeHolderType(rec.Type, rec.Name) == "company" {
			continue
		}
		out = append(out, rec.Name)
	}
	return out, warns
}
