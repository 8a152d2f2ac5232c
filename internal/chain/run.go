package chain

import (
	"sort"
	"sync"
	"time"

	"submarine/internal/rules"
	"submarine/internal/types"
)

// queueItem is one pending expansion in a chain run.
type queueItem struct {
	value       string
	entityType  types.EntityType
	depth       int
	relevance   float64
	parent      string   // dedup key of the discovering node
	sourceChain []string // rule IDs along the discovery path
}

// run holds the mutable state of one chain execution. Strategies drive it
// from a single goroutine; only rule-call recording may happen concurrently,
// so results sit behind the mutex and everything else stays unlocked.
type run struct {
	id     string
	ruleID string
	cfg    rules.ChainConfig
	seed   ChainInput
	scorer *Scorer

	queue     []queueItem
	processed map[string]bool
	seen      map[string]bool

	mu        sync.Mutex
	results   []StepResult
	ruleCalls int

	entities  []types.EntityNode
	graph     types.EntityGraph
	nodeIndex map[string]int
	edgeSeen  map[string]bool

	tree     *OwnershipNode
	clusters []Cluster
	metrics  map[string]any
	media    []types.MediaItem

	persisted   int
	depthCapped bool
	lastHop     int
	started     time.Time
}

func (r *run) enqueue(it queueItem) {
	r.queue = append(r.queue, it)
}

func (r *run) popFront() queueItem {
	it := r.queue[0]
	r.queue = r.queue[1:]
	return it
}

func (r *run) record(sr StepResult) {
	r.mu.Lock()
	r.results = append(r.results, sr)
	r.mu.Unlock()
}

func (r *run) noteRuleCall() {
	r.mu.Lock()
	r.ruleCalls++
	r.mu.Unlock()
}

func (r *run) snapshotResults() ([]StepResult, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results, r.ruleCalls
}

// addNode appends a node once per dedup key. The first sighting wins.
func (r *run) addNode(n types.EntityNode) bool {
	key := types.DedupKey(n.Type, n.Value)
	if _, ok := r.nodeIndex[key]; ok {
		return false
	}
	r.nodeIndex[key] = len(r.graph.Nodes)
	r.graph.Nodes = append(r.graph.Nodes, n)
	r.entities = append(r.entities, n)
	return true
}

func (r *run) addEdge(from, to, edgeType string) {
	k := from + "|" + to + "|" + edgeType
	if r.edgeSeen[k] {
		return
	}
	r.edgeSeen[k] = true
	r.graph.Edges = append(r.graph.Edges, types.EntityEdge{From: from, To: to, Type: edgeType})
}

// StepResult records one rule or step outcome inside a chain run.
type StepResult struct {
	Action string           `json:"action,omitempty"`
	RuleID string           `json:"rule_id,omitempty"`
	Value  string           `json:"value,omitempty"`
	Type   types.EntityType `json:"type,omitempty"`
	Depth  int              `json:"depth,omitempty"`
	Status string           `json:"status"` // success | failed
	Data   map[string]any   `json:"data,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// OwnershipNode is one node of a shareholder or holdings tree.
type OwnershipNode struct {
	Name         string           `json:"name"`
	Type         string           `json:"type,omitempty"` // person | company
	OwnershipPct float64          `json:"ownership_pct,omitempty"`
	Depth        int              `json:"depth"`
	Children     []*OwnershipNode `json:"children,omitempty"`
}

// Cluster is one grouped finding from a clustering strategy.
type Cluster struct {
	Kind    string   `json:"kind"` // officer_overlap | password | breach_source | credential_reuse
	Key     string   `json:"key"`
	Members []string `json:"members"`
	Size    int      `json:"size"`
}

// ResultCounts summarizes a finished chain run.
type ResultCounts struct {
	Entities  int `json:"entities"`
	Results   int `json:"results"`
	Nodes     int `json:"nodes"`
	Edges     int `json:"edges"`
	RuleCalls int `json:"rule_calls"`
	Persisted int `json:"persisted"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// dedupeStrings drops repeats, keeping first-seen order.
func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
