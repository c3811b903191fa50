// Package extract turns unstructured text into a structured graph of
// entities, relationships, and dated events using a two-pass language-model
// strategy: a core extraction pass followed by a gleaning pass that hunts
// for what the first one missed.
package extract

import "context"

// Entity is one extracted real-world thing.
type Entity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Relationship is a typed directed link between two extracted entities,
// referenced by name.
type Relationship struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Event is a dated occurrence involving one entity.
type Event struct {
	PrimaryEntity  string `json:"primary_entity"`
	Description    string `json:"description"`
	RawTime        string `json:"raw_time"`
	NormalizedDate string `json:"normalized_date,omitempty"`
}

// Graph is the structured output of one extraction.
type Graph struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Events        []Event        `json:"events"`
}

// Extractor extracts a knowledge graph from text.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Graph, error)
}
