// Package logging: audit trail for acquisition runs.
// Audit events are NDJSON lines describing what the engine fetched, extracted,
// and persisted, so a run can be reconstructed after the fact.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of audit event
type AuditEventType string

const (
	// Plan lifecycle -> plan_event
	AuditPlanCreate AuditEventType = "plan_create"
	AuditPlanResume AuditEventType = "plan_resume"

	// Index queries -> index_query
	AuditIndexQuery       AuditEventType = "index_query"
	AuditIndexCacheHit    AuditEventType = "index_cache_hit"
	AuditIndexBreakerOpen AuditEventType = "index_breaker_open"

	// Dive execution -> fetch_op
	AuditFetchStart    AuditEventType = "fetch_start"
	AuditFetchDomain   AuditEventType = "fetch_domain"
	AuditFetchComplete AuditEventType = "fetch_complete"
	AuditFetchError    AuditEventType = "fetch_error"

	// Bulk archive processing -> trawl_event
	AuditTrawlStart    AuditEventType = "trawl_start"
	AuditTrawlBatch    AuditEventType = "trawl_batch"
	AuditTrawlComplete AuditEventType = "trawl_complete"

	// Extraction -> extract_event
	AuditExtractRun AuditEventType = "extract_run"

	// Rule execution -> rule_exec
	AuditRuleInvoke   AuditEventType = "rule_invoke"
	AuditRuleComplete AuditEventType = "rule_complete"
	AuditRuleError    AuditEventType = "rule_error"

	// Chain execution -> chain_event
	AuditChainStart    AuditEventType = "chain_start"
	AuditChainHop      AuditEventType = "chain_hop"
	AuditChainComplete AuditEventType = "chain_complete"
	AuditChainStop     AuditEventType = "chain_stop"

	// Persistence -> store_op
	AuditStorePersist AuditEventType = "store_persist"
	AuditStoreError   AuditEventType = "store_error"

	// Errors -> error_event
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
)

// AuditEvent is one structured audit line.
type AuditEvent struct {
	Timestamp  int64          `json:"ts"`    // Unix milliseconds
	EventType  AuditEventType `json:"event"` //
	Category   string         `json:"cat"`
	RunID      string         `json:"run"`             // Run correlation (plan or chain ID)
	Target     string         `json:"target"`          // Target of the operation (domain, rule ID, seed)
	Action     string         `json:"action,omitempty"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"msg,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes run-scoped audit events.
type AuditLogger struct {
	runID    string
	category Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRun creates an audit logger scoped to a run ID
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// AuditWithContext creates a fully-scoped audit logger
func AuditWithContext(runID string, category Category) *AuditLogger {
	return &AuditLogger{runID: runID, category: category}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" && a.runID != "" {
		event.RunID = a.runID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// PlanCreated logs a dive plan creation
func (a *AuditLogger) PlanCreated(planID, query string, domains, pages int) {
	a.Log(AuditEvent{
		EventType: AuditPlanCreate,
		Category:  string(CategoryPlanner),
		RunID:     planID,
		Target:    query,
		Success:   true,
		Message:   fmt.Sprintf("Plan created: %d domains, %d pages", domains, pages),
		Fields:    map[string]any{"domains": domains, "pages": pages},
	})
}

// FetchDomain logs completion of one domain's byte-range fetches
func (a *AuditLogger) FetchDomain(domain string, records int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditFetchDomain,
		Category:   string(CategoryDiver),
		Target:     domain,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]any{"records": records},
	})
}

// RuleComplete logs a finished rule execution
func (a *AuditLogger) RuleComplete(ruleID, value string, success bool, durationMs int64, errMsg string) {
	et := AuditRuleComplete
	if !success {
		et = AuditRuleError
	}
	a.Log(AuditEvent{
		EventType:  et,
		Category:   string(CategoryChain),
		Target:     ruleID,
		Action:     value,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// ChainHop logs one completed BFS hop
func (a *AuditLogger) ChainHop(chainID string, depth, queued, discovered int) {
	a.Log(AuditEvent{
		EventType: AuditChainHop,
		Category:  string(CategoryChain),
		RunID:     chainID,
		Success:   true,
		Message:   fmt.Sprintf("Hop at depth %d: %d queued, %d discovered", depth, queued, discovered),
		Fields:    map[string]any{"depth": depth, "queued": queued, "discovered": discovered},
	})
}

// StorePersist logs a persisted entity
func (a *AuditLogger) StorePersist(entityType, value string, success bool, errMsg string) {
	et := AuditStorePersist
	if !success {
		et = AuditStoreError
	}
	a.Log(AuditEvent{
		EventType: et,
		Category:  string(CategoryStore),
		Target:    entityType,
		Action:    value,
		Success:   success,
		Error:     errMsg,
	})
}
