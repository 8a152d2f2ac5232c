// Package rules loads the static rule, playbook, and chain-rule tables that
// drive chain execution. Tables are read once at startup and never mutated;
// any goroutine may read the registry without locking.
package rules

// Chain strategy tags. These are the values of chain_config.type in
// chain_rules.json; the chain executor dispatches on them.
const (
	TypeRecursiveExpansion      = "recursive_expansion"
	TypeCascadingOwnership      = "cascading_ownership"
	TypeHierarchicalExpansion   = "hierarchical_expansion"
	TypeClusteringNetwork       = "clustering_network"
	TypePortfolioExpansion      = "portfolio_expansion"
	TypeNetworkExpansion        = "network_expansion"
	TypeEntityNetworkExtraction = "entity_network_extraction"
	TypePlaybookCascade         = "playbook_cascade"
	TypeMultiJurisdictionSweep  = "multi_jurisdiction_sweep"
	TypeDomainToCorporatePivot  = "domain_to_corporate_pivot"
	TypeComplianceStack         = "compliance_stack"
	TypeMediaAggregation        = "media_aggregation"
	TypeOSINTCascade            = "osint_cascade"
	TypeOSINTBreachNetwork      = "osint_breach_network"
	TypeOSINTPersonWeb          = "osint_person_web"
)

// KnownType reports whether t is a recognized chain strategy tag.
func KnownType(t string) bool {
	switch t {
	case TypeRecursiveExpansion, TypeCascadingOwnership, TypeHierarchicalExpansion,
		TypeClusteringNetwork, TypePortfolioExpansion, TypeNetworkExpansion,
		TypeEntityNetworkExtraction, TypePlaybookCascade, TypeMultiJurisdictionSweep,
		TypeDomainToCorporatePivot, TypeComplianceStack, TypeMediaAggregation,
		TypeOSINTCascade, TypeOSINTBreachNetwork, TypeOSINTPersonWeb:
		return true
	}
	return false
}

// RuleDef is one entry of rules.json.
type RuleDef struct {
	ID          string       `json:"id" validate:"required"`
	Kind        string       `json:"kind"` // rule | playbook
	Label       string       `json:"label,omitempty"`
	ChainConfig *ChainConfig `json:"chain_config,omitempty"`
}

// Playbook is one entry of playbooks.json: an ordered bundle of rule IDs,
// optionally bound to a jurisdiction.
type Playbook struct {
	ID           string   `json:"id" validate:"required"`
	Label        string   `json:"label,omitempty"`
	Rules        []string `json:"rules" validate:"required,min=1"`
	Jurisdiction string   `json:"jurisdiction,omitempty"`
}

// ChainRule is one entry of chain_rules.json.
type ChainRule struct {
	ID          string      `json:"id" validate:"required"`
	Label       string      `json:"label,omitempty"`
	ChainConfig ChainConfig `json:"chain_config"`
}

// ChainConfig drives one chain strategy. Zero thresholds mean "use the
// strategy default".
type ChainConfig struct {
	Type                  string   `json:"type" validate:"required"`
	MaxDepth              int      `json:"max_depth" validate:"min=0"`
	Steps                 []Step   `json:"steps,omitempty" validate:"dive"`
	OwnershipThresholdPct float64  `json:"ownership_threshold_pct,omitempty" validate:"min=0,max=100"`
	ClusterThreshold      int      `json:"cluster_threshold,omitempty" validate:"min=0"`
	NetworkThreshold      int      `json:"network_threshold,omitempty" validate:"min=0"`
	RelevanceThreshold    float64  `json:"relevance_threshold,omitempty" validate:"min=0,max=1"`
	AIConfidenceThreshold float64  `json:"ai_confidence_threshold,omitempty" validate:"min=0,max=1"`
	DecayPerStep          float64  `json:"decay_per_step,omitempty" validate:"min=0,max=1"`
	DeduplicationFields   []string `json:"deduplication_fields,omitempty"`
	MaxEntities           int      `json:"max_entities,omitempty" validate:"min=0"`
	AIFilterEnabled       bool     `json:"ai_filter_enabled,omitempty"`
}

// Step is one action inside a chain config. OutputFields are integer codes
// resolved to names through the legend.
type Step struct {
	Action          string `json:"action" validate:"required"`
	ActionType      string `json:"action_type"` // rule | playbook
	Condition       string `json:"condition,omitempty"`
	OutputFields    []int  `json:"output_fields,omitempty"`
	FallbackPattern string `json:"fallback_pattern,omitempty"`
}

// IsPlaybook reports whether the step's action resolves through the playbook
// table rather than the rule table.
func (s Step) IsPlaybook() bool {
	return s.ActionType == "playbook"
}
