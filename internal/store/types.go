package store

import "time"

// Node is a canonical, deduplicated entity in the knowledge graph.
type Node struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Embedding   []float64 `json:"embedding,omitempty"`
	DomainID    string    `json:"domain_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SimilarNode is a candidate returned by vector search, ranked by cosine
// similarity to the query embedding.
type SimilarNode struct {
	ID          string
	Name        string
	Type        string
	Description string
	Similarity  float64
}

// Edge is a typed, weighted, directed relationship between two nodes.
type Edge struct {
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	DomainID    string  `json:"domain_id,omitempty"`
}

// Event is a dated occurrence attached to a node.
type Event struct {
	ID          string `json:"id"`
	NodeID      string `json:"node_id"`
	Description string `json:"description"`
	RawTime     string `json:"raw_time"`
	EventDate   string `json:"event_date,omitempty"` // ISO 8601, may be empty
}

// PendingSummary is the placeholder summary written when a community row is
// created; it is replaced once synthesis succeeds.
const PendingSummary = "Pending Summarization"

// Community is a cluster of nodes at one hierarchy level with a synthesized
// narrative summary. Level 0 is the finest grain.
type Community struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Level       int       `json:"level"`
	Summary     string    `json:"summary"`
	FullContent string    `json:"full_content,omitempty"`
	Embedding   []float64 `json:"embedding,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SimilarCommunity is a community ranked by embedding similarity.
type SimilarCommunity struct {
	ID         string
	Title      string
	Level      int
	Summary    string
	Similarity float64
}

// Member is a community member in context-gathering form.
type Member struct {
	Name        string
	Description string
}

// MemberEdge is an edge between two members of the same community, in
// context-gathering form.
type MemberEdge struct {
	SourceName  string
	Type        string
	TargetName  string
	Description string
}

// ChildSummary is the title and summary of a direct child community.
type ChildSummary struct {
	Title   string
	Summary string
}
