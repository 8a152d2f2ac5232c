package chain

import (
	"context"
	"strings"
	"testing"

	"submarine/internal/rules"
	"submarine/internal/types"
)

func TestStageFor(t *testing.T) {
	tests := []struct {
		action string
		want   personWebStage
	}{
		{"OSINT_FROM_PERSON", stagePersonLookup},
		{"FULL_NAME_SEARCH", stagePersonLookup},
		{"SOCIAL_PROFILES", stageSocial},
		{"SOCIAL_EXPANSION", stageSocialExpansion},
		{"RECURSIVE_SOCIAL_SWEEP", stageSocialExpansion},
		{"BREACH_CHECK", stageBreach},
		{"DEHASHED_SWEEP", stageBreach},
		{"CORPORATE_APPOINTMENTS", stageCorporate},
		{"GET_OFFICERS", stageCorporate},
		{"WHOIS_DOMAINS", stageDomainOwnership},
		{"DOMAIN_PORTFOLIO", stageDomainOwnership},
		{"IDENTITY_RESOLVE", stageIdentity},
		{"FETCH_RECORDS", stageUnknown},
	}
	for _, tt := range tests {
		if got := stageFor(tt.action); got != tt.want {
			t.Errorf("stageFor(%q) = %d, want %d", tt.action, got, tt.want)
		}
	}
}

func TestCandidateDomains(t *testing.T) {
	got := candidateDomains([]string{
		"a@marlowe-consulting.com",
		"b@GMAIL.com",
		"no-at-sign",
		"c@marlowe-consulting.com",
		"d@www.pier.example",
	})
	want := []string{"marlowe-consulting.com", "pier.example"}
	if len(got) != len(want) {
		t.Fatalf("candidateDomains = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidateDomains[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMatchesAnyName(t *testing.T) {
	names := []string{"Viktor Marlowe", "Viktor K Marlowe"}
	if !matchesAnyName("VIKTOR K MARLOWE", names) {
		t.Error("case-insensitive exact match should hit")
	}
	if !matchesAnyName("Marlowe, Viktor K Marlowe (Holdings)", names) {
		t.Error("registrant containing a known name should hit")
	}
	if matchesAnyName("Panama Nominee Services", names) {
		t.Error("unrelated registrant should miss")
	}
	if matchesAnyName("", names) {
		t.Error("empty registrant should miss")
	}
}

// TestPersonWebPipeline runs the full sequential pipeline: base lookups feed
// the working lists, the breach stage sweeps discovered mailboxes, corporate
// and domain stages hang findings off the person, and the expansion pass
// revisits every username.
func TestPersonWebPipeline(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("OSINT_FROM_PERSON", "Viktor Marlowe", map[string]any{
		"email":     []any{"viktor@marlowe-consulting.com", "vm@gmail.com"},
		"full_name": "Viktor K Marlowe",
	})
	fake.respond("SOCIAL_PROFILES", "Viktor Marlowe", map[string]any{
		"username": "vkmarlowe",
	})
	fake.respond("BREACH_CHECK", "viktor@marlowe-consulting.com", map[string]any{
		"entries": []any{
			map[string]any{
				"email":         "viktor@marlowe-consulting.com",
				"username":      "vmarlowe_old",
				"breach_source": "Leak1",
			},
		},
	})
	fake.respond("CORPORATE_APPOINTMENTS", "Viktor Marlowe", map[string]any{
		"companies": []any{"Marlowe Consulting Ltd"},
	})
	fake.respond("WHOIS_DOMAINS", "marlowe-consulting.com", map[string]any{
		"registrant_name": "Viktor K Marlowe",
	})
	fake.respond("OSINT_FROM_USERNAME", "vkmarlowe", map[string]any{
		"website": "vkmarlowe.dev",
	})
	e, _ := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID: "CH_PERSON",
		ChainConfig: rules.ChainConfig{
			Type:     rules.TypeOSINTPersonWeb,
			MaxDepth: 2,
			Steps: []rules.Step{
				{Action: "OSINT_FROM_PERSON", ActionType: "rule"},
				{Action: "SOCIAL_PROFILES", ActionType: "rule"},
				{Action: "BREACH_CHECK", ActionType: "rule"},
				{Action: "CORPORATE_APPOINTMENTS", ActionType: "rule"},
				{Action: "WHOIS_DOMAINS", ActionType: "rule"},
				{Action: "SOCIAL_EXPANSION", ActionType: "rule"},
			},
		},
	}, ChainInput{Value: "Viktor Marlowe", Type: types.EntityPerson})

	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (error: %s)", res.Status, res.Error)
	}

	want := []string{
		"Viktor Marlowe",
		"viktor@marlowe-consulting.com",
		"vm@gmail.com",
		"Viktor K Marlowe",
		"vkmarlowe",
		"vmarlowe_old",
		"Marlowe Consulting Ltd",
		"marlowe-consulting.com",
		"vkmarlowe.dev",
	}
	got := entityValues(res)
	if len(got) != len(want) {
		t.Fatalf("entities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entities[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Free-mail hosts are never checked for ownership.
	if fake.called("WHOIS_DOMAINS", "gmail.com") {
		t.Error("gmail.com is not a candidate domain")
	}

	// The alias email had no breach data; the old username exhausted its
	// rule chain in the expansion pass.
	var breachFailed, usernameFailed bool
	for _, sr := range res.Results {
		if sr.Action == "BREACH_CHECK" && sr.Value == "vm@gmail.com" && sr.Status == StatusFailed {
			breachFailed = true
		}
		if sr.Value == "vmarlowe_old" && sr.Status == StatusFailed &&
			sr.Error == "no working rule for type username" {
			usernameFailed = true
		}
	}
	if !breachFailed {
		t.Error("want a failed breach record for the alias mailbox")
	}
	if !usernameFailed {
		t.Error("want a failed expansion record for the stale username")
	}

	domain := res.Entities[7]
	if domain.Type != types.EntityDomain || domain.Data["registrant"] != "Viktor K Marlowe" {
		t.Errorf("domain node = %+v, want the matched registrant attached", domain)
	}
	var ownsDomain bool
	for _, edge := range res.Graph.Edges {
		if edge.Type == "owns_domain" && edge.To == "domain:marlowe-consulting.com" {
			ownsDomain = true
		}
	}
	if !ownsDomain {
		t.Error("want an owns_domain edge to the matched domain")
	}

	m := res.Metrics
	if m["names"] != 2 || m["emails"] != 2 || m["usernames"] != 2 {
		t.Errorf("metrics = %v, want names 2 emails 2 usernames 2", m)
	}
	if res.Counts.RuleCalls != 9 {
		t.Errorf("rule calls = %d, want 9", res.Counts.RuleCalls)
	}
}

func TestPersonWebRegistrantGate(t *testing.T) {
	steps := []rules.Step{
		{Action: "OSINT_FROM_PERSON", ActionType: "rule"},
		{Action: "WHOIS_DOMAINS", ActionType: "rule"},
	}

	t.Run("mismatched registrant is dropped", func(t *testing.T) {
		fake := newFakeRuleExec()
		fake.respond("OSINT_FROM_PERSON", "Elena Vasquez", map[string]any{
			"email": "elena@nominee.example",
		})
		fake.respond("WHOIS_DOMAINS", "nominee.example", map[string]any{
			"registrant_name": "Panama Nominee Services",
		})
		e, _ := newChainExecutor(t, fake)

		res := e.Execute(context.Background(), rules.ChainRule{
			ID:          "CH_GATE",
			ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTPersonWeb, MaxDepth: 2, Steps: steps},
		}, ChainInput{Value: "Elena Vasquez", Type: types.EntityPerson})

		// The lookup still happens; only the claim is rejected.
		if !fake.called("WHOIS_DOMAINS", "nominee.example") {
			t.Error("the candidate domain should still be checked")
		}
		if hasEntity(res, "nominee.example") {
			t.Errorf("entities = %v, want no ownership claim for a nominee registrant", entityValues(res))
		}
	})

	t.Run("silent whois payload warns", func(t *testing.T) {
		fake := newFakeRuleExec()
		fake.respond("OSINT_FROM_PERSON", "Elena Vasquez", map[string]any{
			"email": "elena@nominee.example",
		})
		fake.respond("WHOIS_DOMAINS", "nominee.example", map[string]any{
			"status": "redacted",
		})
		e, sink := newChainExecutor(t, fake)

		e.Execute(context.Background(), rules.ChainRule{
			ID:          "CH_GATE_SILENT",
			ChainConfig: rules.ChainConfig{Type: rules.TypeOSINTPersonWeb, MaxDepth: 2, Steps: steps},
		}, ChainInput{Value: "Elena Vasquez", Type: types.EntityPerson})

		var warned bool
		for _, ev := range sink.ofType("internal:warning") {
			if msg, _ := ev.data["message"].(string); strings.Contains(msg, "carries no registrant") {
				warned = true
			}
		}
		if !warned {
			t.Error("expected a warning about the empty whois payload")
		}
	})
}
