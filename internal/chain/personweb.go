package chain

import (
	"context"
	"strings"

	"submarine/internal/types"
)

// personWebStage classifies a pipeline step by what it resolves.
type personWebStage int

const (
	stagePersonLookup personWebStage = iota
	stageSocial
	stageSocialExpansion
	stageBreach
	stageCorporate
	stageDomainOwnership
	stageIdentity
	stageUnknown
)

// stageFor reads the stage out of a step's action name. Checked in
// specificity order so SOCIAL_EXPANSION never lands on the plain social
// stage.
func stageFor(action string) personWebStage {
	a := strings.ToUpper(action)
	switch {
	case strings.Contains(a, "WHOIS") || strings.Contains(a, "DOMAIN"):
		return stageDomainOwnership
	case strings.Contains(a, "SOCIAL") && (strings.Contains(a, "EXPAN") || strings.Contains(a, "RECURS")):
		return stageSocialExpansion
	case strings.Contains(a, "SOCIAL"):
		return stageSocial
	case strings.Contains(a, "BREACH") || strings.Contains(a, "DEHASHED"):
		return stageBreach
	case strings.Contains(a, "CORP") || strings.Contains(a, "OFFICER") || strings.Contains(a, "COMPAN"):
		return stageCorporate
	case strings.Contains(a, "IDENTITY") || strings.Contains(a, "RESOLVE"):
		return stageIdentity
	case strings.Contains(a, "PERSON") || strings.Contains(a, "NAME"):
		return stagePersonLookup
	}
	return stageUnknown
}

// runPersonWeb is the sequential identity pipeline around one person: base
// lookups, social profiles, breach exposure of discovered mailboxes,
// corporate appointments, domain ownership checked against the person's
// names, and finally a second pass over discovered usernames. Stages feed on
// what earlier stages found, so order matters and nothing runs concurrently.
func (e *Executor) runPersonWeb(ctx context.Context, r *run) error {
	person := r.seed.Value
	personKey := types.DedupKey(types.EntityPerson, person)
	e.addEntity(ctx, r, types.EntityNode{Value: person, Type: types.EntityPerson, Depth: 0, Relevance: 1})
	r.seen[makeDedupKey(person, r.cfg.DeduplicationFields)] = true

	names := []string{person}
	nameSeen := map[string]bool{strings.ToLower(strings.TrimSpace(person)): true}
	var emails, usernames []string
	emailSeen := map[string]bool{}
	usernameSeen := map[string]bool{}

	// collect registers one payload's related values as entities and feeds
	// the per-type working lists later stages read.
	collect := func(res *types.RuleResult, depth int) {
		related, warns := extractRelated(res.Data)
		for _, w := range warns {
			e.warn(r, w)
		}
		for _, rel := range related {
			value := strings.TrimSpace(rel.value)
			lowered := strings.ToLower(value)
			switch rel.entityType {
			case types.EntityEmail:
				if !emailSeen[lowered] {
					emailSeen[lowered] = true
					emails = append(emails, value)
				}
			case types.EntityUsername:
				if !usernameSeen[lowered] {
					usernameSeen[lowered] = true
					usernames = append(usernames, value)
				}
			case types.EntityPerson:
				if !nameSeen[lowered] {
					nameSeen[lowered] = true
					names = append(names, value)
				}
			}

			key := makeDedupKey(value, r.cfg.DeduplicationFields)
			if r.seen[key] {
				continue
			}
			r.seen[key] = true
			score := r.scorer.Score(value, person, depth, res.RuleID, nil)
			node := types.EntityNode{
				Value: value, Type: rel.entityType, Depth: depth,
				Relevance: score, NeedsVerification: score < 0.5,
				Parent: personKey,
			}
			if e.addEntity(ctx, r, node) {
				r.addEdge(personKey, types.DedupKey(node.Type, node.Value), "identity_link")
			}
		}
	}

	for _, step := range r.cfg.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch stageFor(step.Action) {
		case stageBreach:
			for _, email := range append([]string(nil), emails...) {
				for _, res := range e.executeStep(ctx, r, step, email, 1) {
					accounts, warns := types.DecodeBreachAccounts(breachPayload(res.Data, step, e.registry))
					for _, w := range warns {
						e.warn(r, w)
					}
					for _, acct := range accounts {
						e.addPersonWebCredential(ctx, r, acct.Email, types.EntityEmail, email, res.RuleID, personKey,
							&emails, emailSeen)
						e.addPersonWebCredential(ctx, r, acct.Username, types.EntityUsername, email, res.RuleID, personKey,
							&usernames, usernameSeen)
					}
				}
			}

		case stageCorporate:
			for _, res := range e.executeStep(ctx, r, step, person, 1) {
				companies, warns := companyNames(payloadValue(res.Data, step, e.registry, "companies", "appointments", "officers", "results"))
				for _, w := range warns {
					e.warn(r, w)
				}
				for _, company := range companies {
					score := e.scoreFor(r, company, 2, res.RuleID)
					node := types.EntityNode{
						Value: company, Type: types.EntityCompany, Depth: 2,
						Relevance: score, NeedsVerification: score < 0.5,
						Parent: personKey,
					}
					if e.addEntity(ctx, r, node) {
						r.addEdge(personKey, types.DedupKey(types.EntityCompany, company), "appointment")
					}
				}
			}

		case stageDomainOwnership:
			for _, domain := range candidateDomains(emails) {
				for _, res := range e.executeStep(ctx, r, step, domain, 2) {
					registrant := registrantName(res.Data)
					if registrant == "" {
						e.warn(r, "whois payload for "+domain+" carries no registrant")
						continue
					}
					if !matchesAnyName(registrant, names) {
						continue
					}
					score := e.scoreFor(r, domain, 2, res.RuleID)
					node := types.EntityNode{
						Value: domain, Type: types.EntityDomain, Depth: 2,
						Relevance: score, NeedsVerification: score < 0.5,
						Parent: personKey,
						Data:   map[string]any{"registrant": registrant},
					}
					if e.addEntity(ctx, r, node) {
						r.addEdge(personKey, types.DedupKey(types.EntityDomain, domain), "owns_domain")
					}
				}
			}

		case stageSocialExpansion:
			if e.maxDepth(r.cfg) <= 1 {
				continue
			}
			for _, username := range append([]string(nil), usernames...) {
				res, ruleID := e.lookupEntity(ctx, r, username, types.EntityUsername)
				if res == nil {
					if err := ctx.Err(); err != nil {
						return err
					}
					r.record(StepResult{
						Value: username, Type: types.EntityUsername, Depth: 2,
						Status: StatusFailed, Error: "no working rule for type username",
					})
					continue
				}
				r.record(StepResult{
					RuleID: ruleID, Value: username, Type: types.EntityUsername,
					Depth: 2, Status: StatusSuccess, Data: res.Data,
				})
				collect(res, 2)
			}

		default:
			// Person, social and identity stages all run on the person and
			// harvest whatever identifiers fall out.
			for _, res := range e.executeStep(ctx, r, step, person, 0) {
				collect(res, 1)
			}
		}
	}

	r.metrics = map[string]any{
		"names":     len(names),
		"emails":    len(emails),
		"usernames": len(usernames),
	}
	return nil
}

// addPersonWebCredential registers one credential surfaced by a breach
// account and feeds the working list its stage maintains.
func (e *Executor) addPersonWebCredential(ctx context.Context, r *run, value string, entityType types.EntityType,
	current, ruleID, parentKey string, list *[]string, seen map[string]bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, current) {
		return
	}
	lowered := strings.ToLower(value)
	if !seen[lowered] {
		seen[lowered] = true
		*list = append(*list, value)
	}

	key := makeDedupKey(value, r.cfg.DeduplicationFields)
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	score := r.scorer.Score(value, r.seed.Value, 2, ruleID, nil)
	node := types.EntityNode{
		Value: value, Type: entityType, Depth: 2,
		Relevance: score, NeedsVerification: score < 0.5,
		Parent: parentKey,
	}
	if e.addEntity(ctx, r, node) {
		r.addEdge(parentKey, types.DedupKey(entityType, value), "identity_link")
	}
}

// matchesAnyName reports a case-insensitive substring match in either
// direction between the registrant and any discovered name.
func matchesAnyName(registrant string, names []string) bool {
	lr := strings.ToLower(strings.TrimSpace(registrant))
	if lr == "" {
		return false
	}
	for _, name := range names {
		ln := strings.ToLower(strings.TrimSpace(name))
		if ln == "" {
			continue
		}
		if strings.Contains(lr, ln) || strings.Contains(ln, lr) {
			return true
		}
	}
	return false
}

// candidateDomains lists the discovered mailbox hosts worth a WHOIS check,
// in first-seen order. Free-mail providers are excluded.
func candidateDomains(emails []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, email := range emails {
		_, host, ok := strings.Cut(email, "@")
		if !ok {
			continue
		}
		host = types.NormalizeDomain(host)
		if host == "" || freeMailDomains[host] || seen[host] {
			continue
		}
		seen[host] = true
		out = append(out, host)
	}
	return out
}
