package chain

import (
	"context"
	"fmt"
	"strings"

	"submarine/internal/rules"
	"submarine/internal/types"
)

// runBreachNetwork walks leaked credentials breadth-first: each processed
// credential's breach accounts surface further emails and usernames, which
// enqueue one level deeper. Clustering over the full account set runs once,
// at the end.
func (e *Executor) runBreachNetwork(ctx context.Context, r *run) error {
	maxDepth := e.maxDepth(r.cfg)
	maxEntities := e.maxEntities(r.cfg)

	seedType := r.seed.Type
	if seedType == "" {
		if strings.Contains(r.seed.Value, "@") {
			seedType = types.EntityEmail
		} else {
			seedType = types.EntityUsername
		}
	}

	var accounts []types.BreachAccount
	var step rules.Step
	if len(r.cfg.Steps) > 0 {
		step = r.cfg.Steps[0]
	}

	r.seen[types.DedupKey(seedType, r.seed.Value)] = true
	r.enqueue(queueItem{value: r.seed.Value, entityType: seedType, relevance: 1})

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
		}
		if e.addEntity(ctx, r, node) && item.parent != "" {
			r.addEdge(item.parent, key, "shares_breach")
		}

		found, warns := types.DecodeBreachAccounts(breachPayload(res.Data, step, e.registry))
		for _, w := range warns {
			e.warn(r, w)
		}
		for _, acct := range found {
			accounts = append(accounts, acct)
			if item.depth >= maxDepth {
				r.depthCapped = true
				continue
			}
			e.enqueueCredential(r, acct.Email, types.EntityEmail, item, ruleID)
			e.enqueueCredential(r, acct.Username, types.EntityUsername, item, ruleID)
		}
	}

	r.clusters = buildBreachClusters(accounts)
	r.metrics = map[string]any{
		"accounts": len(accounts),
		"clusters": len(r.clusters),
	}
	return nil
}

// enqueueCredential adds a credential surfaced by a breach account, skipping
// the credential currently being processed and anything already seen.
func (e *Executor) enqueueCredential(r *run, value string, entityType types.EntityType, item queueItem, ruleID string) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, item.value) {
		return
	}
	key := types.DedupKey(entityType, value)
	if r.seen[key] {
		return
	}
	r.seen[key] = true

	score := r.scorer.Score(value, r.seed.Value, item.depth+1, ruleID, item.sourceChain)
	r.enqueue(queueItem{
		value:       value,
		entityType:  entityType,
		depth:       item.depth + 1,
		relevance:   score,
		parent:      types.DedupKey(item.entityType, item.value),
		sourceChain: appendSource(item.sourceChain, ruleID),
	})
}

// buildBreachClusters groups the full account set three ways: identities
// sharing a password, identities inside one breach source, and emails whose
// credentials appear in at least two distinct breaches.
func buildBreachClusters(accounts []types.BreachAccount) []Cluster {
	byPassword := map[string][]string{}
	bySource := map[string][]string{}
	emailBreaches := map[string]map[string]bool{}

	for _, acct := range accounts {
		id := acct.Email
		if id == "" {
			id = acct.Username
		}
		if id == "" {
			continue
		}
		if acct.Password != "" {
			byPassword[acct.Password] = append(byPassword[acct.Password], id)
		}
		if acct.BreachSource != "" {
			bySource[acct.BreachSource] = append(bySource[acct.BreachSource], id)
		}
		if acct.Email != "" && acct.BreachSource != "" {
			if emailBreaches[acct.Email] == nil {
				emailBreaches[acct.Email] = map[string]bool{}
			}
			emailBreaches[acct.Email][acct.BreachSource] = true
		}
	}

	var clusters []Cluster
	for _, password := range sortedKeys(byPassword) {
		members := dedupeStrings(byPassword[password])
		if len(members) < 2 {
			continue
		}
		clusters = append(clusters, Cluster{Kind: "password", Key: password, Members: members, Size: len(members)})
	}
	for _, source := range sortedKeys(bySource) {
		members := dedupeStrings(bySource[source])
		clusters = append(clusters, Cluster{Kind: "breach_source", Key: source, Members: members, Size: len(members)})
	}
	for _, email := range sortedKeys(emailBreaches) {
		sources := sortedKeys(emailBreaches[email])
		if len(sources) < 2 {
			continue
		}
		clusters = append(clusters, Cluster{Kind: "credential_reuse", Key: email, Members: sources, Size: len(sources)})
	}
	return clusters
}
