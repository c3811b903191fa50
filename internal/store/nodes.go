package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpsertNode inserts a node and returns its id. On a (name, type, domain_id)
// collision the existing row's description is refreshed and its id returned
// instead of erroring; this is the safety net behind entity resolution, not
// the primary dedup mechanism.
func (s *DB) UpsertNode(n *Node) (string, error) {
	if n.Name == "" {
		return "", fmt.Errorf("node name is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	embeddingBytes, err := json.Marshal(n.Embedding)
	if err != nil {
		embeddingBytes = nil
	}

	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	var id string
	err = s.db.QueryRow(`
		INSERT INTO nodes (id, name, type, description, embedding, domain_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, type, domain_id) DO UPDATE SET
			description = excluded.description,
			updated_at = excluded.updated_at
		RETURNING id
	`, n.ID, n.Name, n.Type, n.Description, embeddingBytes, n.DomainID, n.CreatedAt, n.UpdatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert node: %w", err)
	}

	if s.vecAvailable && len(n.Embedding) > 0 {
		if err := s.indexNodeEmbedding(id, n.Embedding); err != nil {
			s.log.Warn("failed to index node embedding", zap.String("node", id), zap.Error(err))
		}
	}
	return id, nil
}

func (s *DB) indexNodeEmbedding(id string, emb []float64) error {
	if err := s.ensureVecTable(len(emb)); err != nil {
		return err
	}
	var rowid int64
	if err := s.db.QueryRow(`SELECT rowid FROM nodes WHERE id = ?`, id).Scan(&rowid); err != nil {
		return err
	}
	return upsertVecRow(s.db, rowid, id, emb)
}

// GetNode retrieves a node by id.
func (s *DB) GetNode(id string) (*Node, error) {
	row := s.db.QueryRow(`
		SELECT id, name, type, description, embedding, domain_id, created_at, updated_at
		FROM nodes WHERE id = ?
	`, id)
	return scanNode(row)
}

// FindNodeByNameType performs the exact (name, type, domain) lookup.
func (s *DB) FindNodeByNameType(name, nodeType, domainID string) (*Node, error) {
	row := s.db.QueryRow(`
		SELECT id, name, type, description, embedding, domain_id, created_at, updated_at
		FROM nodes WHERE name = ? AND type = ? AND domain_id = ?
	`, name, nodeType, domainID)
	return scanNode(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var embBytes []byte
	err := row.Scan(&n.ID, &n.Name, &n.Type, &n.Description, &embBytes, &n.DomainID, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}
	if len(embBytes) > 0 {
		json.Unmarshal(embBytes, &n.Embedding)
	}
	return &n, nil
}

// FindSimilarNodes returns up to limit nodes whose embedding cosine
// similarity to emb is strictly above threshold, ranked descending.
// Candidate search is deliberately not scoped by domain.
func (s *DB) FindSimilarNodes(emb []float64, threshold float64, limit int) ([]SimilarNode, error) {
	if len(emb) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	if s.vecAvailable && s.vecDim == len(emb) {
		results, err := s.findSimilarNodesVec(emb, threshold, limit)
		if err == nil {
			return results, nil
		}
		s.log.Warn("vec KNN failed, falling back to full scan", zap.Error(err))
	}
	return s.findSimilarNodesScan(emb, threshold, limit)
}

func (s *DB) findSimilarNodesVec(emb []float64, threshold float64, limit int) ([]SimilarNode, error) {
	query, err := sqlite_vec.SerializeFloat32(normalizeFloat32(float64ToFloat32(emb)))
	if err != nil {
		return nil, err
	}

	// Over-fetch: the KNN k bound is applied before the similarity filter.
	rows, err := s.db.Query(`
		SELECT v.node_id, v.distance, n.name, n.type, n.description
		FROM node_vec v
		JOIN nodes n ON n.id = v.node_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, query, limit*4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SimilarNode
	for rows.Next() {
		var r SimilarNode
		var dist float64
		if err := rows.Scan(&r.ID, &dist, &r.Name, &r.Type, &r.Description); err != nil {
			continue
		}
		r.Similarity = l2ToCosineSim(dist)
		if r.Similarity > threshold {
			results = append(results, r)
		}
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (s *DB) findSimilarNodesScan(emb []float64, threshold float64, limit int) ([]SimilarNode, error) {
	rows, err := s.db.Query(`
		SELECT id, name, type, description, embedding
		FROM nodes WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var candidates []SimilarNode
	for rows.Next() {
		var r SimilarNode
		var embBytes []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.Description, &embBytes); err != nil {
			continue
		}
		var stored []float64
		if err := json.Unmarshal(embBytes, &stored); err != nil {
			continue
		}
		r.Similarity = cosineSim(emb, stored)
		if r.Similarity > threshold {
			candidates = append(candidates, r)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// ListNodes returns a page of nodes ordered by rowid, for graph loading.
func (s *DB) ListNodes(limit, offset int) ([]*Node, error) {
	rows, err := s.db.Query(`
		SELECT id, name, type, description, embedding, domain_id, created_at, updated_at
		FROM nodes ORDER BY rowid LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// CountNodes returns the total number of nodes.
func (s *DB) CountNodes() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&count)
	return count, err
}
