// Package store is the local SQLite adapter for the Cymonides entity-store
// contract. Discovery keeps working when persistence is disabled or broken;
// callers treat every write as best-effort.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"submarine/internal/logging"
	"submarine/internal/types"
)

// LocalStore persists entity nodes and edges in a single SQLite file.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

var (
	_ types.EntityStore      = (*LocalStore)(nil)
	_ types.BatchEntityStore = (*LocalStore)(nil)
)

// Open initializes the SQLite database at the given path, creating the
// parent directory and schema as needed.
func Open(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open entity store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize entity store schema: %w", err)
	}
	logging.Store("Entity store ready at %s", path)
	return s, nil
}

func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entity_nodes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		value TEXT NOT NULL,
		data TEXT,
		source TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(entity_type, value)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_nodes_type ON entity_nodes(entity_type);
	CREATE INDEX IF NOT EXISTS idx_entity_nodes_value ON entity_nodes(value);

	CREATE TABLE IF NOT EXISTS entity_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_node TEXT NOT NULL,
		to_node TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(from_node, to_node, edge_type)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_edges_from ON entity_edges(from_node);
	CREATE INDEX IF NOT EXISTS idx_entity_edges_to ON entity_edges(to_node);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *LocalStore) Path() string { return s.dbPath }

// CreateNode upserts one entity keyed by (entity_type, value) and returns a
// stable node ID. A repeat write refreshes data and source without changing
// the ID.
func (s *LocalStore) CreateNode(ctx context.Context, entityType types.EntityType, value string, data map[string]any, source string) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateNode")
	defer timer.Stop()

	value = strings.TrimSpace(value)
	if entityType == "" || value == "" {
		return "", fmt.Errorf("entity node needs a type and a value")
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal node data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Upserting node %s:%s from %s", entityType, value, source)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entity_nodes (entity_type, value, data, source) VALUES (?, ?, ?, ?)
		 ON CONFLICT(entity_type, value) DO UPDATE SET data = excluded.data, source = excluded.source`,
		string(entityType), value, string(dataJSON), source,
	)
	if err != nil {
		logging.StoreError("Node upsert failed for %s:%s: %v", entityType, value, err)
		return "", fmt.Errorf("upsert entity node: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM entity_nodes WHERE entity_type = ? AND value = ?",
		string(entityType), value,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("read back node id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// CreateEdge records a directed relation between two node values. Duplicate
// edges are ignored.
func (s *LocalStore) CreateEdge(ctx context.Context, from, to, edgeType string) error {
	if from == "" || to == "" || edgeType == "" {
		return fmt.Errorf("entity edge needs from, to and a type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO entity_edges (from_node, to_node, edge_type) VALUES (?, ?, ?)",
		from, to, edgeType,
	)
	if err != nil {
		logging.StoreError("Edge insert failed %s -[%s]-> %s: %v", from, edgeType, to, err)
		return fmt.Errorf("insert entity edge: %w", err)
	}
	return nil
}

// ProcessAtlasResults ingests a batch of raw result maps in one transaction.
// Each map carries "type" (or "entity_type") and "value", with optional
// "data" and "source". Malformed entries are logged and skipped, not fatal.
func (s *LocalStore) ProcessAtlasResults(ctx context.Context, results []map[string]any) error {
	timer := logging.StartTimer(logging.CategoryStore, "ProcessAtlasResults")
	defer timer.Stop()

	if len(results) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entity_nodes (entity_type, value, data, source) VALUES (?, ?, ?, ?)
		 ON CONFLICT(entity_type, value) DO UPDATE SET data = excluded.data, source = excluded.source`)
	if err != nil {
		return fmt.Errorf("prepare batch upsert: %w", err)
	}
	defer stmt.Close()

	stored := 0
	for _, res := range results {
		entityType, _ := res["type"].(string)
		if entityType == "" {
			entityType, _ = res["entity_type"].(string)
		}
		value, _ := res["value"].(string)
		value = strings.TrimSpace(value)
		if entityType == "" || value == "" {
			logging.StoreWarn("Skipping atlas result without type/value: %v", res)
			continue
		}
		source, _ := res["source"].(string)
		if source == "" {
			source = "atlas"
		}
		var dataJSON []byte
		if data, ok := res["data"].(map[string]any); ok {
			if dataJSON, err = json.Marshal(data); err != nil {
				logging.StoreWarn("Skipping atlas result %s:%s with unmarshalable data: %v", entityType, value, err)
				continue
			}
		}
		if _, err := stmt.ExecContext(ctx, entityType, value, string(dataJSON), source); err != nil {
			logging.StoreWarn("Atlas upsert failed for %s:%s: %v", entityType, value, err)
			continue
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	logging.Store("Atlas batch stored %d/%d results", stored, len(results))
	return nil
}

// StoredNode is one persisted entity row.
type StoredNode struct {
	ID     string
	Type   types.EntityType
	Value  string
	Data   map[string]any
	Source string
}

// GetNode fetches one node by its natural key. Returns sql.ErrNoRows when
// absent.
func (s *LocalStore) GetNode(ctx context.Context, entityType types.EntityType, value string) (*StoredNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		node     StoredNode
		id       int64
		dataJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, entity_type, value, data, source FROM entity_nodes WHERE entity_type = ? AND value = ?",
		string(entityType), value,
	).Scan(&id, &node.Type, &node.Value, &dataJSON, &node.Source)
	if err != nil {
		return nil, err
	}
	node.ID = strconv.FormatInt(id, 10)
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &node.Data); err != nil {
			logging.StoreWarn("Node data unmarshal failed for %s:%s: %v", entityType, value, err)
		}
	}
	return &node, nil
}

// CountNodes returns the number of stored entity nodes.
func (s *LocalStore) CountNodes(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_nodes").Scan(&n)
	return n, err
}

// StoredEdge is one persisted relation row.
type StoredEdge struct {
	From string
	To   string
	Type string
}

// Edges lists outgoing edges for a node value.
func (s *LocalStore) Edges(ctx context.Context, from string) ([]StoredEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT from_node, to_node, edge_type FROM entity_edges WHERE from_node = ? ORDER BY id",
		from,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []StoredEdge
	for rows.Next() {
		var e StoredEdge
		if err := rows.Scan(&e.From, &e.To, &e.Type); err != nil {
			logging.StoreWarn("Edge row scan failed: %v", err)
			continue
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
