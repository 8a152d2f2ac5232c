package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"submarine/internal/config"
	"submarine/internal/logging"
)

// ErrNotFound reports an ID absent from every loaded table.
var ErrNotFound = errors.New("not found in rule tables")

// Table file names inside the rules directory.
const (
	rulesFile              = "rules.json"
	playbooksFile          = "playbooks.json"
	playbooksValidatedFile = "playbooks_validated.json"
	chainRulesFile         = "chain_rules.json"
	legendFile             = "legend.json"
)

// Registry holds the loaded tables. It is immutable after Load; concurrent
// reads need no locking.
type Registry struct {
	dir         string
	rules       map[string]RuleDef
	playbooks   map[string]Playbook
	chainRules  map[string]ChainRule
	legend      map[int]string
	playbookIDs []string // sorted, for deterministic wildcard resolution
}

// Load reads all four tables from dir. Every table is required; a missing or
// malformed file is an error the caller should treat as fatal.
func Load(dir string) (*Registry, error) {
	r := &Registry{
		dir:        dir,
		rules:      make(map[string]RuleDef),
		playbooks:  make(map[string]Playbook),
		chainRules: make(map[string]ChainRule),
		legend:     make(map[int]string),
	}

	if err := r.loadRules(); err != nil {
		return nil, err
	}
	if err := r.loadPlaybooks(); err != nil {
		return nil, err
	}
	if err := r.loadChainRules(); err != nil {
		return nil, err
	}
	if err := r.loadLegend(); err != nil {
		return nil, err
	}

	r.playbookIDs = make([]string, 0, len(r.playbooks))
	for id := range r.playbooks {
		r.playbookIDs = append(r.playbookIDs, id)
	}
	sort.Strings(r.playbookIDs)

	logging.Rules("Loaded tables from %s: %d rules, %d playbooks, %d chain rules, %d legend entries",
		dir, len(r.rules), len(r.playbooks), len(r.chainRules), len(r.legend))
	return r, nil
}

func (r *Registry) loadRules() error {
	var defs []RuleDef
	if err := readTable(filepath.Join(r.dir, rulesFile), &defs); err != nil {
		return err
	}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("%s: rule with empty id", rulesFile)
		}
		if _, dup := r.rules[d.ID]; dup {
			return fmt.Errorf("%s: duplicate rule id %q", rulesFile, d.ID)
		}
		if d.ChainConfig != nil {
			if err := validateChainConfig(d.ChainConfig); err != nil {
				return fmt.Errorf("%s: rule %q: %w", rulesFile, d.ID, err)
			}
		}
		r.rules[d.ID] = d
	}
	return nil
}

// loadPlaybooks prefers the validated table when both are present.
func (r *Registry) loadPlaybooks() error {
	path := filepath.Join(r.dir, playbooksValidatedFile)
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(r.dir, playbooksFile)
	} else {
		logging.RulesDebug("Using validated playbook table")
	}

	var books []Playbook
	if err := readTable(path, &books); err != nil {
		return err
	}
	for _, b := range books {
		if b.ID == "" {
			return fmt.Errorf("%s: playbook with empty id", filepath.Base(path))
		}
		if _, dup := r.playbooks[b.ID]; dup {
			return fmt.Errorf("%s: duplicate playbook id %q", filepath.Base(path), b.ID)
		}
		if len(b.Rules) == 0 {
			return fmt.Errorf("%s: playbook %q has no rules", filepath.Base(path), b.ID)
		}
		r.playbooks[b.ID] = b
	}
	return nil
}

func (r *Registry) loadChainRules() error {
	var crs []ChainRule
	if err := readTable(filepath.Join(r.dir, chainRulesFile), &crs); err != nil {
		return err
	}
	for _, cr := range crs {
		if cr.ID == "" {
			return fmt.Errorf("%s: chain rule with empty id", chainRulesFile)
		}
		if _, dup := r.chainRules[cr.ID]; dup {
			return fmt.Errorf("%s: duplicate chain rule id %q", chainRulesFile, cr.ID)
		}
		cfg := cr.ChainConfig
		if err := validateChainConfig(&cfg); err != nil {
			return fmt.Errorf("%s: chain rule %q: %w", chainRulesFile, cr.ID, err)
		}
		r.chainRules[cr.ID] = cr
	}
	return nil
}

// loadLegend reads the field-code legend. Keys are decimal integers encoded
// as JSON strings.
func (r *Registry) loadLegend() error {
	var raw map[string]string
	if err := readTable(filepath.Join(r.dir, legendFile), &raw); err != nil {
		return err
	}
	for k, v := range raw {
		code, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("%s: non-integer field code %q", legendFile, k)
		}
		r.legend[code] = v
	}
	return nil
}

func readTable(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read table %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse table %s: %w", filepath.Base(path), err)
	}
	return nil
}

func validateChainConfig(cfg *ChainConfig) error {
	if err := config.GetValidator().Struct(cfg); err != nil {
		return fmt.Errorf("invalid chain config: %w", err)
	}
	if !KnownType(cfg.Type) {
		return fmt.Errorf("unknown chain type %q", cfg.Type)
	}
	return nil
}

// ===== Accessors =====

// Rule returns the rule definition for id.
func (r *Registry) Rule(id string) (RuleDef, bool) {
	d, ok := r.rules[id]
	return d, ok
}

// Playbook returns the playbook for id. The id must already be resolved; see
// ResolvePlaybookID.
func (r *Registry) Playbook(id string) (Playbook, bool) {
	b, ok := r.playbooks[id]
	return b, ok
}

// ChainRule returns the chain rule for id.
func (r *Registry) ChainRule(id string) (ChainRule, bool) {
	cr, ok := r.chainRules[id]
	return cr, ok
}

// RuleIDs returns all rule IDs in sorted order.
func (r *Registry) RuleIDs() []string {
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlaybookIDs returns all playbook IDs in sorted order.
func (r *Registry) PlaybookIDs() []string {
	out := make([]string, len(r.playbookIDs))
	copy(out, r.playbookIDs)
	return out
}

// ChainRuleIDs returns all chain rule IDs in sorted order.
func (r *Registry) ChainRuleIDs() []string {
	ids := make([]string, 0, len(r.chainRules))
	for id := range r.chainRules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts returns table sizes for status output.
func (r *Registry) Counts() (rules, playbooks, chainRules, legend int) {
	return len(r.rules), len(r.playbooks), len(r.chainRules), len(r.legend)
}

// ===== Playbook ID resolution =====

// ResolvePlaybookID turns a playbook reference into a concrete playbook ID.
// References may carry a {jurisdiction} placeholder, which is substituted
// with the uppercased jurisdiction, or a trailing "*" wildcard, which matches
// the first playbook ID with that prefix in sorted order. A reference that
// still contains "{" after substitution cannot be resolved. Anything else
// passes through unchanged.
func (r *Registry) ResolvePlaybookID(ref, jurisdiction string) (string, bool) {
	id := ref
	if strings.Contains(id, "{jurisdiction}") {
		id = strings.ReplaceAll(id, "{jurisdiction}", strings.ToUpper(jurisdiction))
	}
	if strings.Contains(id, "{") {
		logging.RulesDebug("Unresolved placeholder in playbook ref %q", ref)
		return "", false
	}
	if strings.HasSuffix(id, "*") {
		prefix := strings.TrimSuffix(id, "*")
		for _, candidate := range r.playbookIDs {
			if strings.HasPrefix(candidate, prefix) {
				return candidate, true
			}
		}
		logging.RulesDebug("No playbook matches wildcard %q", id)
		return "", false
	}
	return id, true
}

// ===== Legend =====

// FieldName maps an output-field code to its name, with a stable synthetic
// fallback for codes missing from the legend.
func (r *Registry) FieldName(code int) string {
	if name, ok := r.legend[code]; ok {
		return name
	}
	return fmt.Sprintf("field_%d", code)
}

// FieldNames resolves a slice of output-field codes.
func (r *Registry) FieldNames(codes []int) []string {
	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = r.FieldName(c)
	}
	return names
}

// Dir returns the directory the tables were loaded from.
func (r *Registry) Dir() string {
	return r.dir
}
