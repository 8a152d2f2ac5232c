package chain

import (
	"context"
	"testing"

	"submarine/internal/rules"
	"submarine/internal/types"
)

// TestClusteringNetwork seeds companies off a shared address, walks their
// officers, and groups officers appearing in enough of them. The
// cross-reference step computes locally and never hits the rule engine.
func TestClusteringNetwork(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("FIND_COMPANIES_BY_ADDRESS", "Calle 50, Panama City", map[string]any{
		"companies": []any{"Alpha Ltd", "Beta Ltd", "Gamma Ltd"},
	})
	fake.respond("GET_OFFICERS", "Alpha Ltd", map[string]any{
		"officers": []any{
			map[string]any{"name": "Viktor Marlowe", "role": "director"},
			map[string]any{"name": "Ana Quintero"},
		},
	})
	fake.respond("GET_OFFICERS", "Beta Ltd", map[string]any{
		"officers": []any{map[string]any{"name": "Viktor Marlowe"}},
	})
	fake.respond("GET_OFFICERS", "Gamma Ltd", map[string]any{
		"officers": []any{
			map[string]any{"name": "Ana Quintero"},
			map[string]any{"name": "Solo Officer"},
		},
	})
	e, _ := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID: "CH_CLUSTER",
		ChainConfig: rules.ChainConfig{
			Type:             rules.TypeClusteringNetwork,
			ClusterThreshold: 2,
			Steps: []rules.Step{
				{Action: "FIND_COMPANIES_BY_ADDRESS", ActionType: "rule"},
				{Action: "GET_OFFICERS", ActionType: "rule"},
				{Action: "CROSS_REFERENCE_OFFICERS", ActionType: "rule"},
			},
		},
	}, ChainInput{Value: "Calle 50, Panama City"})

	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (error: %s)", res.Status, res.Error)
	}

	if res.Counts.Entities != 6 {
		t.Fatalf("entities = %v, want 3 companies and 3 officers", entityValues(res))
	}

	// Officers are keyed by sorted name; members by sorted company.
	if len(res.Clusters) != 2 {
		t.Fatalf("clusters = %+v, want 2", res.Clusters)
	}
	ana := res.Clusters[0]
	if ana.Kind != "officer_overlap" || ana.Key != "Ana Quintero" || ana.Size != 2 ||
		ana.Members[0] != "Alpha Ltd" || ana.Members[1] != "Gamma Ltd" {
		t.Errorf("clusters[0] = %+v, want Ana across Alpha and Gamma", ana)
	}
	viktor := res.Clusters[1]
	if viktor.Key != "Viktor Marlowe" || viktor.Members[0] != "Alpha Ltd" || viktor.Members[1] != "Beta Ltd" {
		t.Errorf("clusters[1] = %+v, want Viktor across Alpha and Beta", viktor)
	}

	// A single appointment never clusters.
	for _, c := range res.Clusters {
		if c.Key == "Solo Officer" {
			t.Error("single-company officer must not cluster")
		}
	}

	// 1 address lookup + 3 officer lookups; the cross-reference is local.
	if fake.callCount() != 4 {
		t.Errorf("rule calls = %d, want 4", fake.callCount())
	}
	last := res.Results[len(res.Results)-1]
	if last.Action != "CROSS_REFERENCE_OFFICERS" || last.Status != StatusSuccess || last.Data["clusters"] != 2 {
		t.Errorf("cross-reference record = %+v, want success with 2 clusters", last)
	}

	officerEdges := 0
	for _, edge := range res.Graph.Edges {
		if edge.Type == "officer_of" {
			officerEdges++
		}
	}
	if officerEdges != 5 {
		t.Errorf("officer_of edges = %d, want 5", officerEdges)
	}
}

// TestClusteringFirstStepFails pins the company-finder to the first
// non-cross step: when it fails, later steps must not be mistaken for it.
func TestClusteringFirstStepFails(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("GET_OFFICERS", "", map[string]any{
		"companies": []any{"Phantom Ltd"},
	})
	e, _ := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID: "CH_CLUSTER_FAIL",
		ChainConfig: rules.ChainConfig{
			Type: rules.TypeClusteringNetwork,
			Steps: []rules.Step{
				{Action: "FIND_COMPANIES_BY_ADDRESS", ActionType: "rule"},
				{Action: "GET_OFFICERS", ActionType: "rule"},
			},
		},
	}, ChainInput{Value: "Calle 50, Panama City"})

	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success", res.Status)
	}
	// No companies resolved means the officer step has nothing to walk.
	if fake.called("GET_OFFICERS", "Calle 50, Panama City") {
		t.Error("officer step must not run against the seed attribute")
	}
	if hasEntity(res, "Phantom Ltd") {
		t.Errorf("entities = %v, want no companies", entityValues(res))
	}
}

func TestNetworkExpansion(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("GET_OFFICERS", "Meridian Holdings SA", map[string]any{
		"officers": []any{
			map[string]any{"name": "Viktor Marlowe"},
			map[string]any{"name": "Ana Quintero"},
		},
	})
	fake.respond("GET_APPOINTMENTS", "Viktor Marlowe", map[string]any{
		"appointments": []any{
			map[string]any{"company_name": "Azure Maritime Ltd"},
			map[string]any{"company_name": "Meridian Holdings SA"},
		},
	})
	fake.respond("GET_APPOINTMENTS", "Ana Quintero", map[string]any{
		"companies": []any{"Azure Maritime Ltd"},
	})
	e, _ := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID: "CH_NET",
		ChainConfig: rules.ChainConfig{
			Type:             rules.TypeNetworkExpansion,
			MaxDepth:         2,
			NetworkThreshold: 2,
			Steps: []rules.Step{
				{Action: "GET_OFFICERS", ActionType: "rule"},
				{Action: "GET_APPOINTMENTS", ActionType: "rule"},
			},
		},
	}, ChainInput{Value: "Meridian Holdings SA", Type: types.EntityCompany})

	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (error: %s)", res.Status, res.Error)
	}

	want := []string{"Meridian Holdings SA", "Viktor Marlowe", "Ana Quintero", "Azure Maritime Ltd"}
	got := entityValues(res)
	if len(got) != len(want) {
		t.Fatalf("entities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entities[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Azure is discovered at the depth cap, so its officers are never
	// fetched.
	if fake.called("GET_OFFICERS", "Azure Maritime Ltd") {
		t.Error("no officer lookup at the depth cap")
	}
	if res.Counts.RuleCalls != 3 {
		t.Errorf("rule calls = %d, want 3", res.Counts.RuleCalls)
	}

	m := res.Metrics
	if m["officers"] != 2 || m["companies"] != 2 || m["edges"] != 4 {
		t.Errorf("metrics = %v, want officers 2 companies 2 edges 4", m)
	}
	if avg, _ := m["avg_appointments_per_officer"].(float64); !almost(avg, 2.0) {
		t.Errorf("avg appointments = %v, want 2.0", m["avg_appointments_per_officer"])
	}
	// Both officers sit on both companies.
	if m["shared_appointments"] != 2 {
		t.Errorf("shared appointments = %v, want 2", m["shared_appointments"])
	}
}

func TestEntityNetworkExtraction(t *testing.T) {
	fake := newFakeRuleExec()
	fake.respond("GET_OFFICERS_EN", "Meridian Holdings SA", map[string]any{
		"officers": []any{
			map[string]any{"name": "Viktor Marlowe", "role": "director"},
			map[string]any{"name": "Elena Vasquez"},
		},
	})
	fake.respond("GET_PSC_EN", "Meridian Holdings SA", map[string]any{
		"shareholders": []any{
			map[string]any{"name": "Azure Holdings Ltd", "type": "corporate"},
			map[string]any{"name": "Viktor Marlowe"},
		},
	})
	fake.respond("GET_UBOS_EN", "Meridian Holdings SA", map[string]any{
		"ubos": []any{map[string]any{"name": "Rafael Ortiz"}},
	})
	fake.respond("GET_APPOINTMENTS_EN", "Viktor Marlowe", map[string]any{
		"appointments": []any{
			map[string]any{"company_name": "Crestline Trust"},
			map[string]any{"company_name": "Meridian Holdings SA"},
		},
	})
	fake.respond("GET_APPOINTMENTS_EN", "Rafael Ortiz", map[string]any{
		"appointments": []any{},
	})
	e, _ := newChainExecutor(t, fake)

	res := e.Execute(context.Background(), rules.ChainRule{
		ID: "CH_ENTNET",
		ChainConfig: rules.ChainConfig{
			Type:     rules.TypeEntityNetworkExtraction,
			MaxDepth: 2,
			Steps: []rules.Step{
				{Action: "GET_OFFICERS_EN", ActionType: "rule"},
				{Action: "GET_PSC_EN", ActionType: "rule"},
				{Action: "GET_UBOS_EN", ActionType: "rule"},
				{Action: "GET_APPOINTMENTS_EN", ActionType: "rule"},
			},
		},
	}, ChainInput{Value: "Meridian Holdings SA", Type: types.EntityCompany})

	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, want success (error: %s)", res.Status, res.Error)
	}

	// Corporate shareholders are not persons; the duplicate officer
	// collapses; the center never reappears as a secondary company.
	want := []string{"Meridian Holdings SA", "Viktor Marlowe", "Elena Vasquez", "Rafael Ortiz", "Crestline Trust"}
	got := entityValues(res)
	if len(got) != len(want) {
		t.Fatalf("entities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entities[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if hasEntity(res, "Azure Holdings Ltd") {
		t.Error("corporate holders are not part of the person network")
	}

	connected, appointment := 0, 0
	for _, edge := range res.Graph.Edges {
		switch edge.Type {
		case "connected_to":
			connected++
		case "appointment":
			appointment++
			if edge.To == "company:meridian holdings sa" {
				t.Error("the center must not appear as its own secondary company")
			}
		}
	}
	if connected != 3 || appointment != 1 {
		t.Errorf("edges = %d connected_to, %d appointment, want 3 and 1", connected, appointment)
	}

	// Elena's expansion has no scripted rule and lands as a failed record.
	found := false
	for _, sr := range res.Results {
		if sr.Action == "GET_APPOINTMENTS_EN" && sr.Value == "Elena Vasquez" && sr.Status == StatusFailed {
			found = true
		}
	}
	if !found {
		t.Errorf("results = %+v, want a failed expansion for Elena", res.Results)
	}
	if res.Counts.RuleCalls != 6 {
		t.Errorf("rule calls = %d, want 6", res.Counts.RuleCalls)
	}
}
