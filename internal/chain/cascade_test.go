package chain

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"submarine/internal/rules"
	"submarine/internal/types"
)

// TestCascadeWalkthrough follows one seed through two hops: the seed email
// yields a person and a domain, the person yields a second email, and the
// second email has no working rule left.
func TestCascadeWalkthrough(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("OSINT_FROM_EMAIL", "ops@meridian-shipping.com", map[string]any{
		"name":    "Viktor Marlowe",
		"website": "meridian-shipping.com",
	})
	fake.respond("WHOIS_FROM_DOMAIN", "meridian-shipping.com", map[string]any{
		"registrant_org": "Meridian Holdings SA",
	})
	fake.respond("OSINT_FROM_PERSON", "Viktor Marlowe", map[string]any{
		"email": "v.marlowe@meridian-shipping.com",
	})
	e, sink := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID:          "CH_OSINT",
		ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTCascade, MaxDepth: 3},
	}, ChainInput{Value: "ops@meridian-shipping.com", Type: types.EntityEmail})

	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (error: %s)", res.Status, res.Error)
	}

	// The domain outranks the person (0.7875 vs 0.6375), so it is processed
	// first and lands first in the entity list after the seed.
	want := []string{"ops@meridian-shipping.com", "meridian-shipping.com", "Viktor Marlowe"}
	got := entityValues(res)
	if len(got) != len(want) {
		t.Fatalf("entities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entities[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	seed := res.Entities[0]
	if seed.Depth != 0 || !almost(seed.Relevance, 1) || seed.NeedsVerification {
		t.Errorf("seed node = %+v, want depth 0 relevance 1", seed)
	}
	if seed.Data["name"] != "Viktor Marlowe" {
		t.Errorf("seed data = %v, want the rule payload", seed.Data)
	}
	domain := res.Entities[1]
	if !almost(domain.Relevance, 0.7875) || domain.Parent != "email:ops@meridian-shipping.com" {
		t.Errorf("domain node = %+v, want relevance 0.7875 under the seed", domain)
	}
	if !almost(res.Entities[2].Relevance, 0.6375) {
		t.Errorf("person relevance = %v, want 0.6375", res.Entities[2].Relevance)
	}

	// v.marlowe@ passed the relevance gate but exhausted the email rule
	// chain, so it shows up as a failed record instead of a node.
	if res.Counts.Results != 4 {
		t.Fatalf("results = %d, want 4", res.Counts.Results)
	}
	last := res.Results[3]
	if last.Status != StatusFailed || last.Value != "v.marlowe@meridian-shipping.com" ||
		last.Depth != 2 || last.Error != "no working rule for type email" {
		t.Errorf("results[3] = %+v, want the exhausted second email", last)
	}
	if !fake.called("OSINT_INDUSTRIES_FROM_EMAIL", "v.marlowe@meridian-shipping.com") {
		t.Error("the full email fallback chain should have been tried")
	}

	if res.Counts.RuleCalls != 6 {
		t.Errorf("rule calls = %d, want 6", res.Counts.RuleCalls)
	}
	if res.Counts.Nodes != 3 || res.Counts.Edges != 2 {
		t.Errorf("graph counts = %d nodes %d edges, want 3 and 2", res.Counts.Nodes, res.Counts.Edges)
	}
	if res.Graph == nil || res.Graph.Root != "email:ops@meridian-shipping.com" {
		t.Fatalf("graph = %+v, want root at the seed key", res.Graph)
	}
	for _, edge := range res.Graph.Edges {
		if edge.Type != "discovered" {
			t.Errorf("edge %+v, want type discovered", edge)
		}
	}

	// One hop event per depth layer actually entered.
	hops := sink.ofType("chain:hop")
	if len(hops) != 3 {
		t.Fatalf("hop events = %d, want 3", len(hops))
	}
	for i, wantDepth := range []int{0, 1, 2} {
		if hops[i].data["depth"] != wantDepth {
			t.Errorf("hop[%d] depth = %v, want %d", i, hops[i].data["depth"], wantDepth)
		}
	}

	stops := sink.ofType("osint_cascade:stopped")
	if len(stops) != 1 || stops[0].data["reason"] != "queue_exhausted" {
		t.Errorf("stop events = %+v, want one queue_exhausted", stops)
	}
	all := sink.all()
	if all[0].eventType != "chain:start" || all[len(all)-1].eventType != "chain:complete" {
		t.Errorf("event envelope = %s ... %s, want chain:start ... chain:complete",
			all[0].eventType, all[len(all)-1].eventType)
	}
	if discovered := sink.ofType("osint_cascade:entity_discovered"); len(discovered) != 3 {
		t.Errorf("discovered events = %d, want 3", len(discovered))
	}
}

func TestCascadePersistence(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("OSINT_FROM_EMAIL", "", map[string]any{"note": "done"})

	t.Run("stores every discovered node", func(t *testing.T) {
		e, sink := newChainExecutor(t, fake)
		store := &memStore{}
		e.SetStore(store)

		res := e.Execute(context.Background(), rules.ChainRule{
			ID:          "CH_PERSIST",
			ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTCascade},
		}, ChainInput{Value: "solo@harbor.tld", Type: types.EntityEmail})

		if res.Counts.Persisted != 1 {
			t.Errorf("persisted = %d, want 1", res.Counts.Persisted)
		}
		if len(store.nodes) != 1 || store.nodes[0].source != "chain:CH_PERSIST" {
			t.Errorf("stored = %+v, want one node tagged with the chain rule", store.nodes)
		}
		persisted := sink.ofType("cymonides:persisted")
		if len(persisted) != 1 || persisted[0].data["node_id"] != "node-1" {
			t.Errorf("persisted events = %+v, want one with the store's node id", persisted)
		}
	})

	t.Run("store failure never blocks discovery", func(t *testing.T) {
		e, sink := newChainExecutor(t, fake)
		e.SetStore(&memStore{fail: true})

		res := e.Execute(context.Background(), rules.ChainRule{
			ID:          "CH_PERSIST",
			ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTCascade},
		}, ChainInput{Value: "solo@harbor.tld", Type: types.EntityEmail})

		if res.Status != StatusSuccess {
			t.Fatalf("status = %q, want success despite the store", res.Status)
		}
		if res.Counts.Persisted != 0 {
			t.Errorf("persisted = %d, want 0", res.Counts.Persisted)
		}
		if errs := sink.ofType("cymonides:error"); len(errs) != 1 {
			t.Errorf("error events = %d, want 1", len(errs))
		}
	})
}

func TestCascadeMaxEntities(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("OSINT_FROM_EMAIL", "hub@x.io", map[string]any{
		"emails": []any{"a@x.io", "b@x.io", "c@x.io"},
	})
	fake.respond("OSINT_FROM_EMAIL", "", map[string]any{"note": "end"})
	e, sink := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID:          "CH_CAP",
		ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTCascade, MaxEntities: 2},
	}, ChainInput{Value: "hub@x.io", Type: types.EntityEmail})

	if res.Counts.Entities != 2 {
		t.Fatalf("entities = %v, want the cap to hold at 2", entityValues(res))
	}
	stops := sink.ofType("chain:stopped")
	if len(stops) != 1 || stops[0].data["reason"] != "max_entities_reached" {
		t.Errorf("stop events = %+v, want max_entities_reached", stops)
	}
	if fake.called("OSINT_FROM_EMAIL", "b@x.io") || fake.called("OSINT_FROM_EMAIL", "c@x.io") {
		t.Error("queued items past the cap should never be looked up")
	}
	if res.Counts.RuleCalls != 2 {
		t.Errorf("rule calls = %d, want 2", res.Counts.RuleCalls)
	}
}

func TestCascadeMaxDepth(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("OSINT_FROM_EMAIL", "root@dive.io", map[string]any{"email": "next@hop.tld"})
	fake.respond("OSINT_FROM_EMAIL", "", map[string]any{"email": "third@hop.tld"})
	e, sink := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID:          "CH_DEPTH",
		ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTCascade, MaxDepth: 1},
	}, ChainInput{Value: "root@dive.io", Type: types.EntityEmail})

	// next@hop.tld is processed at the cap, so its own finding is never
	// extracted.
	if res.Counts.Entities != 2 {
		t.Fatalf("entities = %v, want seed plus one hop", entityValues(res))
	}
	if hasEntity(res, "third@hop.tld") {
		t.Error("payload past the depth cap should not be expanded")
	}
	if fake.called("OSINT_FROM_EMAIL", "third@hop.tld") {
		t.Error("no lookup beyond the depth cap")
	}
	stops := sink.ofType("osint_cascade:stopped")
	if len(stops) != 1 || stops[0].data["reason"] != "max_depth_reached" {
		t.Errorf("stop events = %+v, want max_depth_reached", stops)
	}
}

func TestCascadeRelevanceThreshold(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("OSINT_FROM_EMAIL", "ops@meridian-shipping.com", map[string]any{
		"name": "Viktor Marlowe",
	})
	e, _ := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID:          "CH_STRICT",
		ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTCascade, RelevanceThreshold: 0.99},
	}, ChainInput{Value: "ops@meridian-shipping.com", Type: types.EntityEmail})

	// Below-threshold findings drop silently: no node, no failed record.
	if res.Counts.Entities != 1 {
		t.Errorf("entities = %v, want only the seed", entityValues(res))
	}
	if res.Counts.Results != 1 {
		t.Errorf("results = %d, want 1", res.Counts.Results)
	}
	if fake.callCount() != 1 {
		t.Errorf("rule calls = %d, want 1", fake.callCount())
	}
}

// failingFilter simulates an unreachable filter backend.
type failingFilter struct{}

func (failingFilter) Admit(context.Context, string, types.EntityType, float64, float64) (bool, error) {
	return false, fmt.Errorf("backend unreachable")
}

func TestCascadeEntityFilter(t *testing.T) {
	t.Run("heuristic rejects weak person names", func(t *testing.T) {
		fake := newFakeRuleExec()
		fake.respond("OSINT_FROM_EMAIL", "ops@harbor.io", map[string]any{
			"name":  "John Smith",
			"email": "john@harbor.io",
		})
		fake.respond("OSINT_FROM_EMAIL", "", map[string]any{"status": "ok"})
		e, _ := newChainExecutor(t, fake)

		res := e.Execute(context.Background(), rules.ChainRule{
			ID:          "CH_FILTER",
			ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTCascade, AIFilterEnabled: true},
		}, ChainInput{Value: "ops@harbor.io", Type: types.EntityEmail})

		// The email is machine-verifiable and passes; the common person
		// name scores 0.48 and falls under the 0.6 person floor.
		if !hasEntity(res, "john@harbor.io") {
			t.Errorf("entities = %v, want the email admitted", entityValues(res))
		}
		if hasEntity(res, "John Smith") || fake.called("OSINT_FROM_PERSON", "John Smith") {
			t.Error("the filtered person should never be expanded")
		}
	})

	t.Run("filter errors fall back to the heuristic", func(t *testing.T) {
		fake := newFakeRuleExec()
		fake.respond("OSINT_FROM_EMAIL", "ops@harbor.io", map[string]any{
			"email": "crew@harbor.io",
		})
		fake.respond("OSINT_FROM_EMAIL", "", map[string]any{"status": "ok"})
		e, sink := newChainExecutor(t, fake)
		e.SetEntityFilter(failingFilter{})

		res := e.Execute(context.Background(), rules.ChainRule{
			ID:          "CH_FILTER",
			ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTCascade, AIFilterEnabled: true},
		}, ChainInput{Value: "ops@harbor.io", Type: types.EntityEmail})

		if !hasEntity(res, "crew@harbor.io") {
			t.Errorf("entities = %v, want the heuristic fallback to admit the email", entityValues(res))
		}
		warned := false
		for _, ev := range sink.ofType("internal:warning") {
			if msg, _ := ev.data["message"].(string); strings.Contains(msg, "entity filter failed") {
				warned = true
			}
		}
		if !warned {
			t.Error("expected a warning event about the failing filter")
		}
	})
}
