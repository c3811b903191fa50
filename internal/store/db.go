// Package store persists the knowledge graph in SQLite. Node embeddings are
// indexed in a sqlite-vec vec0 virtual table for KNN queries; when the
// extension is unavailable the store falls back to a full-scan cosine
// ranking so callers see identical behavior either way.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// DB wraps the SQLite connection for the knowledge graph.
type DB struct {
	db           *sql.DB
	path         string
	vecAvailable bool
	vecDim       int // embedding dimension used in node_vec (0 = not yet determined)
	log          *zap.Logger
}

// Open opens or creates the knowledge graph database at path. A nil logger
// is replaced with a no-op logger.
func Open(path string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &DB{db: db, path: path, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		log.Warn("sqlite-vec not available, falling back to full scan", zap.Error(err))
	} else {
		log.Info("sqlite-vec loaded", zap.String("version", vecVersion))
		s.vecAvailable = true
		if err := s.initVecFromNodes(); err != nil {
			log.Warn("vec init deferred", zap.Error(err))
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		domain_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(name, type, domain_id)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
	CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type);
	CREATE INDEX IF NOT EXISTS idx_nodes_domain ON nodes(domain_id);

	CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		weight REAL DEFAULT 1.0,
		domain_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (source_id) REFERENCES nodes(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES nodes(id) ON DELETE CASCADE,
		UNIQUE(source_id, target_id, type, domain_id)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		description TEXT NOT NULL,
		raw_time TEXT NOT NULL DEFAULT '',
		event_date TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE,
		UNIQUE(node_id, description, raw_time)
	);

	CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_id);

	CREATE TABLE IF NOT EXISTS communities (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		level INTEGER NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		full_content TEXT,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_communities_level ON communities(level);

	CREATE TABLE IF NOT EXISTS community_membership (
		community_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		PRIMARY KEY (community_id, node_id),
		FOREIGN KEY (community_id) REFERENCES communities(id) ON DELETE CASCADE,
		FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_membership_node ON community_membership(node_id);

	CREATE TABLE IF NOT EXISTS community_hierarchy (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		PRIMARY KEY (parent_id, child_id),
		FOREIGN KEY (parent_id) REFERENCES communities(id) ON DELETE CASCADE,
		FOREIGN KEY (child_id) REFERENCES communities(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_hierarchy_child ON community_hierarchy(child_id);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// initVecFromNodes reads the embedding dimension from existing nodes,
// creates the node_vec virtual table with that dimension, and backfills all
// stored embeddings. No-ops when no embedded nodes exist yet.
func (s *DB) initVecFromNodes() error {
	var embBytes []byte
	err := s.db.QueryRow(`SELECT embedding FROM nodes WHERE embedding IS NOT NULL AND LENGTH(embedding) > 4 LIMIT 1`).Scan(&embBytes)
	if err != nil {
		return nil // no embedded nodes yet; defer to first upsert
	}
	var emb []float64
	if err := json.Unmarshal(embBytes, &emb); err != nil || len(emb) == 0 {
		return nil
	}
	return s.ensureVecTable(len(emb))
}

// ensureVecTable creates the node_vec table for the given dimension (if not
// yet created) and backfills existing nodes. Idempotent for the same dim.
//
// Uses integer rowid (from the nodes table) plus an auxiliary +node_id
// column; vec0's TEXT PRIMARY KEY partitioning breaks KNN queries.
func (s *DB) ensureVecTable(dim int) error {
	if s.vecDim == dim {
		return nil
	}
	if s.vecDim != 0 && s.vecDim != dim {
		return fmt.Errorf("embedding dim %d doesn't match vec table dim %d", dim, s.vecDim)
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS node_vec USING vec0(
			embedding float[%d],
			+node_id TEXT
		)
	`, dim))
	if err != nil {
		return fmt.Errorf("failed to create node_vec(float[%d]): %w", dim, err)
	}
	s.vecDim = dim

	rows, err := s.db.Query(`SELECT rowid, id, embedding FROM nodes WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil // backfill failure is non-fatal
	}
	defer rows.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return nil
	}

	var count int
	for rows.Next() {
		var rowid int64
		var id string
		var embBytes []byte
		if err := rows.Scan(&rowid, &id, &embBytes); err != nil {
			continue
		}
		var emb []float64
		if err := json.Unmarshal(embBytes, &emb); err != nil || len(emb) != dim {
			continue
		}
		if err := upsertVecRow(tx, rowid, id, emb); err != nil {
			s.log.Warn("vec backfill failed", zap.String("node", id), zap.Error(err))
			continue
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return nil
	}
	if count > 0 {
		s.log.Info("vec backfill complete", zap.Int("nodes", count), zap.Int("dim", dim))
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// upsertVecRow writes one normalized embedding into node_vec. vec0 does not
// reliably support INSERT OR REPLACE, hence DELETE + INSERT.
func upsertVecRow(tx execer, rowid int64, nodeID string, emb []float64) error {
	serialized, err := sqlite_vec.SerializeFloat32(normalizeFloat32(float64ToFloat32(emb)))
	if err != nil {
		return err
	}
	tx.Exec(`DELETE FROM node_vec WHERE rowid = ?`, rowid)
	_, err = tx.Exec(`INSERT INTO node_vec(rowid, embedding, node_id) VALUES (?, ?, ?)`,
		rowid, serialized, nodeID)
	return err
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// normalizeFloat32 returns a unit-length copy of the vector. Storing unit
// vectors makes vec0's L2 distance equivalent to cosine distance:
//
//	cosine_dist = L2_dist² / 2
func normalizeFloat32(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// l2ToCosineSim converts an L2 distance (on normalized vectors) to cosine
// similarity: cosine_sim = 1 - L2²/2
func l2ToCosineSim(l2dist float64) float64 {
	return 1.0 - (l2dist*l2dist)/2.0
}

// cosineSim computes cosine similarity between two embeddings.
func cosineSim(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Stats returns row counts per table.
func (s *DB) Stats() (map[string]int, error) {
	stats := make(map[string]int)
	tables := []string{"nodes", "edges", "events", "communities", "community_membership", "community_hierarchy"}
	for _, table := range tables {
		var count int
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, err
		}
		stats[table] = count
	}
	return stats, nil
}
