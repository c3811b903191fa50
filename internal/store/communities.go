package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ClearCommunities deletes all community rows, memberships, and hierarchy
// links. Nodes and edges are untouched. Detection rebuilds from scratch, so
// the previous partition has no value once a new one exists.
func (s *DB) ClearCommunities() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"community_hierarchy", "community_membership", "communities"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// CreateCommunity inserts a community row with the pending-summarization
// placeholder. Title defaults to the community id.
func (s *DB) CreateCommunity(id string, level int) error {
	_, err := s.db.Exec(`
		INSERT INTO communities (id, title, level, summary)
		VALUES (?, ?, ?, ?)
	`, id, "Community "+id, level, PendingSummary)
	if err != nil {
		return fmt.Errorf("failed to create community %s: %w", id, err)
	}
	return nil
}

// AddMembers records node membership for a community in one transaction.
func (s *DB) AddMembers(communityID string, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO community_membership (community_id, node_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare membership insert: %w", err)
	}
	defer stmt.Close()

	for _, nodeID := range nodeIDs {
		if _, err := stmt.Exec(communityID, nodeID); err != nil {
			return fmt.Errorf("failed to add member %s: %w", nodeID, err)
		}
	}
	return tx.Commit()
}

// AddHierarchy records a parent/child containment link between communities.
func (s *DB) AddHierarchy(parentID, childID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO community_hierarchy (parent_id, child_id) VALUES (?, ?)
	`, parentID, childID)
	if err != nil {
		return fmt.Errorf("failed to add hierarchy link: %w", err)
	}
	return nil
}

// MaxCommunityLevel returns the highest level present, or -1 when no
// communities exist.
func (s *DB) MaxCommunityLevel() (int, error) {
	var level sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(level) FROM communities`).Scan(&level); err != nil {
		return -1, fmt.Errorf("failed to query max level: %w", err)
	}
	if !level.Valid {
		return -1, nil
	}
	return int(level.Int64), nil
}

// CommunitiesAtLevel lists community ids at one hierarchy level, ordered by
// id for stable processing.
func (s *DB) CommunitiesAtLevel(level int) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM communities WHERE level = ? ORDER BY id`, level)
	if err != nil {
		return nil, fmt.Errorf("failed to query communities at level %d: %w", level, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetCommunity loads one community by id, or nil when absent.
func (s *DB) GetCommunity(id string) (*Community, error) {
	row := s.db.QueryRow(`
		SELECT id, title, level, summary, COALESCE(full_content, ''), embedding, created_at, updated_at
		FROM communities WHERE id = ?
	`, id)

	var c Community
	var embBytes []byte
	err := row.Scan(&c.ID, &c.Title, &c.Level, &c.Summary, &c.FullContent, &embBytes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan community: %w", err)
	}
	if len(embBytes) > 0 {
		json.Unmarshal(embBytes, &c.Embedding)
	}
	return &c, nil
}

// CommunityMembers returns up to limit member nodes of a community, ordered
// by name.
func (s *DB) CommunityMembers(communityID string, limit int) ([]*Member, error) {
	rows, err := s.db.Query(`
		SELECT n.name, n.description
		FROM community_membership m
		JOIN nodes n ON n.id = m.node_id
		WHERE m.community_id = ?
		ORDER BY n.name
		LIMIT ?
	`, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.Name, &m.Description); err != nil {
			return nil, err
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// MemberIDs returns all member node ids of a community.
func (s *DB) MemberIDs(communityID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT node_id FROM community_membership WHERE community_id = ?`, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query member ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CommunityEdges returns up to limit edges whose endpoints are both members
// of the community.
func (s *DB) CommunityEdges(communityID string, limit int) ([]*MemberEdge, error) {
	rows, err := s.db.Query(`
		SELECT sn.name, e.type, tn.name, e.description
		FROM edges e
		JOIN community_membership ms ON ms.node_id = e.source_id AND ms.community_id = ?
		JOIN community_membership mt ON mt.node_id = e.target_id AND mt.community_id = ?
		JOIN nodes sn ON sn.id = e.source_id
		JOIN nodes tn ON tn.id = e.target_id
		ORDER BY e.weight DESC
		LIMIT ?
	`, communityID, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query community edges: %w", err)
	}
	defer rows.Close()

	var edges []*MemberEdge
	for rows.Next() {
		var e MemberEdge
		if err := rows.Scan(&e.SourceName, &e.Type, &e.TargetName, &e.Description); err != nil {
			return nil, err
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// ChildSummaries returns the title and summary of each direct child of a
// community, ordered by child id.
func (s *DB) ChildSummaries(parentID string) ([]*ChildSummary, error) {
	rows, err := s.db.Query(`
		SELECT c.title, c.summary
		FROM community_hierarchy h
		JOIN communities c ON c.id = h.child_id
		WHERE h.parent_id = ?
		ORDER BY c.id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child summaries: %w", err)
	}
	defer rows.Close()

	var children []*ChildSummary
	for rows.Next() {
		var cs ChildSummary
		if err := rows.Scan(&cs.Title, &cs.Summary); err != nil {
			return nil, err
		}
		children = append(children, &cs)
	}
	return children, rows.Err()
}

// UpdateCommunityReport replaces a community's placeholder with the
// synthesized title, summary, full report JSON, and summary embedding.
func (s *DB) UpdateCommunityReport(id, title, summary, fullContent string, embedding []float64) error {
	var embBytes []byte
	if len(embedding) > 0 {
		var err error
		embBytes, err = json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
	}
	res, err := s.db.Exec(`
		UPDATE communities
		SET title = ?, summary = ?, full_content = ?, embedding = ?, updated_at = ?
		WHERE id = ?
	`, title, summary, fullContent, embBytes, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update community %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("community %s not found", id)
	}
	return nil
}

// PendingCommunities lists ids of communities still carrying the
// placeholder summary, ordered by level then id.
func (s *DB) PendingCommunities() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM communities WHERE summary = ? ORDER BY level, id`, PendingSummary)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending communities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindSimilarCommunities ranks summarized communities by cosine similarity
// to the query embedding. Community counts stay small enough that a full
// scan is fine; only nodes get a vec index.
func (s *DB) FindSimilarCommunities(embedding []float64, threshold float64, limit int) ([]*SimilarCommunity, error) {
	rows, err := s.db.Query(`
		SELECT id, title, level, summary, embedding
		FROM communities
		WHERE embedding IS NOT NULL AND summary != ?
	`, PendingSummary)
	if err != nil {
		return nil, fmt.Errorf("failed to query communities: %w", err)
	}
	defer rows.Close()

	var results []*SimilarCommunity
	for rows.Next() {
		var sc SimilarCommunity
		var embBytes []byte
		if err := rows.Scan(&sc.ID, &sc.Title, &sc.Level, &sc.Summary, &embBytes); err != nil {
			continue
		}
		var emb []float64
		if err := json.Unmarshal(embBytes, &emb); err != nil {
			continue
		}
		sc.Similarity = cosineSim(embedding, emb)
		if sc.Similarity > threshold {
			results = append(results, &sc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
