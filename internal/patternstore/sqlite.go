package patternstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const graphSchema = `
CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	signature_key TEXT NOT NULL,
	unit_id TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patterns_signature ON patterns(signature_key, kind);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON patterns(confidence);

CREATE TABLE IF NOT EXISTS pattern_edges (
	from_node TEXT NOT NULL,
	relation TEXT NOT NULL,
	to_node TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(from_node, relation, to_node)
);
CREATE INDEX IF NOT EXISTS idx_edges_from ON pattern_edges(from_node);
CREATE INDEX IF NOT EXISTS idx_edges_to ON pattern_edges(to_node);
`

// SQLiteGraph is a GraphIndex persisted in a SQLite file through the pure-Go
// modernc driver. A single connection serializes writers.
type SQLiteGraph struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteGraph opens (creating if needed) the database at path. The path
// ":memory:" gives a private in-memory database.
func NewSQLiteGraph(path string, logger *zap.Logger) (*SQLiteGraph, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite graph: path required")
	}
	if path != ":memory:" {
		expanded, err := expandPath(path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		path = expanded
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("sqlite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}
	if _, err := db.Exec(graphSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing graph schema: %w", err)
	}

	logger.Info("sqlite pattern graph ready", zap.String("path", path))
	return &SQLiteGraph{db: db, path: path, logger: logger}, nil
}

func (g *SQLiteGraph) Put(ctx context.Context, p Pattern) error {
	data, err := json.Marshal(withoutEmbedding(p))
	if err != nil {
		return fmt.Errorf("encoding pattern %s: %w", p.ID, err)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO patterns (id, kind, signature_key, unit_id, confidence, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Kind), SignatureKey(p.Signature), p.UnitID, p.Confidence,
		p.CreatedAt.UTC().Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return fmt.Errorf("storing pattern %s: %w", p.ID, err)
	}
	for _, l := range p.Relations {
		if err := insertEdge(ctx, tx, Edge{From: p.ID, Relation: l.Relation, To: l.Target}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (g *SQLiteGraph) Link(ctx context.Context, e Edge) error {
	return insertEdge(ctx, g.db, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEdge(ctx context.Context, db execer, e Edge) error {
	if e.From == "" || e.Relation == "" || e.To == "" {
		return fmt.Errorf("invalid graph edge: from/relation/to must be non-empty")
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pattern_edges (from_node, relation, to_node) VALUES (?, ?, ?)`,
		e.From, string(e.Relation), e.To,
	)
	if err != nil {
		return fmt.Errorf("storing edge %s -[%s]-> %s: %w", e.From, e.Relation, e.To, err)
	}
	return nil
}

func (g *SQLiteGraph) Edges(ctx context.Context, nodes []string, rels []Relation) ([]Edge, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	in := placeholders(len(nodes))
	query := `SELECT from_node, relation, to_node FROM pattern_edges
		WHERE (from_node IN (` + in + `) OR to_node IN (` + in + `))`
	args := make([]any, 0, 2*len(nodes)+len(rels))
	for i := 0; i < 2; i++ {
		for _, n := range nodes {
			args = append(args, n)
		}
	}
	if len(rels) > 0 {
		query += ` AND relation IN (` + placeholders(len(rels)) + `)`
		for _, r := range rels {
			args = append(args, string(r))
		}
	}
	query += ` ORDER BY from_node, relation, to_node`

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		var rel string
		if err := rows.Scan(&e.From, &rel, &e.To); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		e.Relation = Relation(rel)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *SQLiteGraph) Patterns(ctx context.Context, ids []string) ([]Pattern, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, data FROM patterns WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}
	defer rows.Close()

	var out []Pattern
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning pattern: %w", err)
		}
		var p Pattern
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			g.logger.Warn("skipping corrupt pattern row", zap.String("id", id), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (g *SQLiteGraph) BySignature(ctx context.Context, signature string, kind Kind) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id FROM patterns WHERE signature_key = ? AND kind = ? ORDER BY id`,
		SignatureKey(signature), string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying by signature: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (g *SQLiteGraph) Prune(ctx context.Context, minConfidence float64) ([]string, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM patterns WHERE confidence < ? ORDER BY id`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("selecting prunable patterns: %w", err)
	}
	ids, err := scanIDs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	in := placeholders(len(ids))
	if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE id IN (`+in+`)`, args...); err != nil {
		return nil, fmt.Errorf("deleting patterns: %w", err)
	}
	edgeArgs := append(append([]any{}, args...), args...)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pattern_edges WHERE from_node IN (`+in+`) OR to_node IN (`+in+`)`, edgeArgs...); err != nil {
		return nil, fmt.Errorf("deleting edges: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing prune: %w", err)
	}
	return ids, nil
}

func (g *SQLiteGraph) Count(ctx context.Context) (int, error) {
	var n int
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting patterns: %w", err)
	}
	return n, nil
}

func (g *SQLiteGraph) Close() error {
	return g.db.Close()
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var _ GraphIndex = (*SQLiteGraph)(nil)
