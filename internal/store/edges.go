package store

import (
	"fmt"

	"github.com/google/uuid"
)

// InsertEdge writes a directed edge. Duplicate (source, target, type,
// domain) tuples are silently ignored.
func (s *DB) InsertEdge(e *Edge) error {
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("edge endpoints are required")
	}
	weight := e.Weight
	if weight == 0 {
		weight = 1.0
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO edges (source_id, target_id, type, description, weight, domain_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.SourceID, e.TargetID, e.Type, e.Description, weight, e.DomainID)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// ListEdges returns a page of edges ordered by rowid, for graph loading.
func (s *DB) ListEdges(limit, offset int) ([]*Edge, error) {
	rows, err := s.db.Query(`
		SELECT source_id, target_id, type, description, weight, domain_id
		FROM edges ORDER BY rowid LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Type, &e.Description, &e.Weight, &e.DomainID); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// CountEdges returns the total number of edges.
func (s *DB) CountEdges() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&count)
	return count, err
}

// InsertEvent writes a dated occurrence for a node. Duplicate (node,
// description, raw_time) tuples are silently ignored. EventDate may be
// empty when the source text had no normalizable date.
func (s *DB) InsertEvent(ev *Event) error {
	if ev.NodeID == "" {
		return fmt.Errorf("event node id is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	var date any
	if ev.EventDate != "" {
		date = ev.EventDate
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO events (id, node_id, description, raw_time, event_date)
		VALUES (?, ?, ?, ?, ?)
	`, ev.ID, ev.NodeID, ev.Description, ev.RawTime, date)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// EventsForNode lists events attached to a node, most recent date first.
func (s *DB) EventsForNode(nodeID string) ([]*Event, error) {
	rows, err := s.db.Query(`
		SELECT id, node_id, description, raw_time, COALESCE(event_date, '')
		FROM events WHERE node_id = ?
		ORDER BY event_date DESC
	`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.NodeID, &ev.Description, &ev.RawTime, &ev.EventDate); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
