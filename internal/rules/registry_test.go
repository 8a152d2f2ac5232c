package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// writeTables lays down a minimal consistent table set.
func writeTables(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, dir, rulesFile, `[
		{"id": "WHOIS_FROM_DOMAIN", "kind": "rule", "label": "WHOIS lookup"},
		{"id": "OSINT_FROM_EMAIL", "kind": "rule"},
		{"id": "CASCADE_OWNERSHIP", "kind": "rule",
		 "chain_config": {"type": "cascading_ownership", "max_depth": 3, "ownership_threshold_pct": 25}}
	]`)
	writeFile(t, dir, playbooksFile, `[
		{"id": "playbook_UK_company", "label": "UK company", "rules": ["WHOIS_FROM_DOMAIN"], "jurisdiction": "UK"},
		{"id": "uk_companies_house", "rules": ["OSINT_FROM_EMAIL"]},
		{"id": "uk_land_registry", "rules": ["WHOIS_FROM_DOMAIN"]}
	]`)
	writeFile(t, dir, chainRulesFile, `[
		{"id": "CHAIN_OWNERSHIP", "label": "Ownership cascade",
		 "chain_config": {"type": "cascading_ownership", "max_depth": 5,
		                  "ownership_threshold_pct": 25, "decay_per_step": 0.15}}
	]`)
	writeFile(t, dir, legendFile, `{"1": "company_name", "2": "company_number", "7": "officer_name"}`)
}

func TestLoadAndLookups(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)

	r, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	nr, np, nc, nl := r.Counts()
	if nr != 3 || np != 3 || nc != 1 || nl != 3 {
		t.Errorf("Counts = %d/%d/%d/%d, want 3/3/1/3", nr, np, nc, nl)
	}

	rule, ok := r.Rule("WHOIS_FROM_DOMAIN")
	if !ok {
		t.Fatal("expected WHOIS_FROM_DOMAIN to be present")
	}
	if rule.Label != "WHOIS lookup" {
		t.Errorf("rule label = %q, want %q", rule.Label, "WHOIS lookup")
	}
	if _, ok := r.Rule("NO_SUCH_RULE"); ok {
		t.Error("lookup of unknown rule should miss")
	}

	cr, ok := r.ChainRule("CHAIN_OWNERSHIP")
	if !ok {
		t.Fatal("expected CHAIN_OWNERSHIP to be present")
	}
	if cr.ChainConfig.Type != TypeCascadingOwnership {
		t.Errorf("chain type = %q, want %q", cr.ChainConfig.Type, TypeCascadingOwnership)
	}
	if cr.ChainConfig.MaxDepth != 5 {
		t.Errorf("max depth = %d, want 5", cr.ChainConfig.MaxDepth)
	}

	pb, ok := r.Playbook("uk_companies_house")
	if !ok {
		t.Fatal("expected uk_companies_house to be present")
	}
	if len(pb.Rules) != 1 || pb.Rules[0] != "OSINT_FROM_EMAIL" {
		t.Errorf("playbook rules = %v", pb.Rules)
	}
}

func TestLoadPrefersValidatedPlaybooks(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)
	writeFile(t, dir, playbooksValidatedFile, `[
		{"id": "validated_only", "rules": ["WHOIS_FROM_DOMAIN"]}
	]`)

	r, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := r.Playbook("validated_only"); !ok {
		t.Error("validated table should win when both files exist")
	}
	if _, ok := r.Playbook("uk_companies_house"); ok {
		t.Error("unvalidated table should be ignored when validated exists")
	}
}

func TestLoadMissingTableFails(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)
	if err := os.Remove(filepath.Join(dir, legendFile)); err != nil {
		t.Fatalf("remove legend: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for missing legend table")
	}
}

func TestLoadCorruptTableFails(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)
	writeFile(t, dir, rulesFile, `{"not": "an array"`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for corrupt rules table")
	}
}

func TestLoadDuplicateRuleIDFails(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)
	writeFile(t, dir, rulesFile, `[
		{"id": "SAME", "kind": "rule"},
		{"id": "SAME", "kind": "rule"}
	]`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for duplicate rule id")
	}
}

func TestLoadRejectsUnknownChainType(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)
	writeFile(t, dir, chainRulesFile, `[
		{"id": "BAD", "chain_config": {"type": "teleportation", "max_depth": 1}}
	]`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for unknown chain type")
	}
}

func TestResolvePlaybookID(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)

	r, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name         string
		ref          string
		jurisdiction string
		want         string
		wantOK       bool
	}{
		{"direct", "uk_companies_house", "", "uk_companies_house", true},
		{"jurisdiction substitution", "playbook_{jurisdiction}_company", "uk", "playbook_UK_company", true},
		{"unresolved placeholder", "playbook_{region}_company", "uk", "", false},
		{"wildcard first sorted match", "uk_*", "", "uk_companies_house", true},
		{"wildcard no match", "zz_*", "", "", false},
		{"pass-through of unknown id", "not_in_table", "", "not_in_table", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.ResolvePlaybookID(tt.ref, tt.jurisdiction)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ResolvePlaybookID(%q, %q) = (%q, %v), want (%q, %v)",
					tt.ref, tt.jurisdiction, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFieldName(t *testing.T) {
	dir := t.TempDir()
	writeTables(t, dir)

	r, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := r.FieldName(1); got != "company_name" {
		t.Errorf("FieldName(1) = %q, want company_name", got)
	}
	if got := r.FieldName(99); got != "field_99" {
		t.Errorf("FieldName(99) = %q, want field_99", got)
	}

	names := r.FieldNames([]int{7, 2})
	if len(names) != 2 || names[0] != "officer_name" || names[1] != "company_number" {
		t.Errorf("FieldNames = %v", names)
	}
}
