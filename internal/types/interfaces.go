package types

import (
	"context"
)

// RuleExecutor runs a single external lookup rule against a value. The rule
// engine itself lives outside this repo; chains only depend on this contract.
type RuleExecutor interface {
	ExecuteRule(ctx context.Context, ruleID, value, jurisdiction string) (*RuleResult, error)
}

// EntityStore persists discovered entities into an external graph database.
// Implementations must be safe for concurrent use.
type EntityStore interface {
	// CreateNode stores one entity and returns its node ID.
	CreateNode(ctx context.Context, entityType EntityType, value string, data map[string]any, source string) (string, error)
}

// BatchEntityStore is an optional capability of an EntityStore. Callers probe
// for it with a type assertion and fall back to per-node writes.
type BatchEntityStore interface {
	EntityStore
	// ProcessAtlasResults ingests a batch of raw result maps in one pass.
	ProcessAtlasResults(ctx context.Context, results []map[string]any) error
}

// EventSink receives engine events. The events package provides the canonical
// implementation; tests substitute lightweight recorders.
type EventSink interface {
	Emit(eventType string, data map[string]any)
}
