// Package community partitions the knowledge graph into hierarchical
// clusters and persists the result. Clustering is pluggable: a modularity
// maximizer is the primary strategy, with a deterministic degenerate
// partition as fallback so the pipeline always produces a hierarchy.
package community

import (
	"fmt"

	"github.com/vthunder/kgraph/internal/store"
)

// Graph is the in-memory weighted undirected view used for clustering.
// Direction and edge type are irrelevant to community structure, so
// parallel edges between the same pair collapse into one summed weight.
type Graph struct {
	NodeIDs []string
	Weights map[[2]string]float64 // key is the ordered endpoint pair
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.NodeIDs) }

// GraphSource is the slice of the store the loader reads from.
type GraphSource interface {
	ListNodes(limit, offset int) ([]*store.Node, error)
	ListEdges(limit, offset int) ([]*store.Edge, error)
}

const loadPageSize = 500

// Load reads the whole graph from the store, page by page.
func Load(src GraphSource) (*Graph, error) {
	g := &Graph{Weights: make(map[[2]string]float64)}

	for offset := 0; ; offset += loadPageSize {
		nodes, err := src.ListNodes(loadPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to load nodes: %w", err)
		}
		for _, n := range nodes {
			g.NodeIDs = append(g.NodeIDs, n.ID)
		}
		if len(nodes) < loadPageSize {
			break
		}
	}

	for offset := 0; ; offset += loadPageSize {
		edges, err := src.ListEdges(loadPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to load edges: %w", err)
		}
		for _, e := range edges {
			if e.SourceID == e.TargetID {
				continue // self-loops carry no community signal
			}
			key := orderedPair(e.SourceID, e.TargetID)
			w := e.Weight
			if w == 0 {
				w = 1.0
			}
			g.Weights[key] += w
		}
		if len(edges) < loadPageSize {
			break
		}
	}

	return g, nil
}

func orderedPair(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
