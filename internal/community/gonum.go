package community

import (
	"fmt"
	"sort"

	gonumcommunity "gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// Louvain clusters by modularity maximization. Each reduction pass of the
// algorithm becomes one hierarchy level, finest first, so the stored levels
// mirror the algorithm's own coarsening.
type Louvain struct {
	// Resolution is the modularity resolution parameter. Higher values
	// produce more, smaller communities. Zero means 1.0.
	Resolution float64
}

// Detect implements Clusterer.
func (l *Louvain) Detect(g *Graph) ([]Membership, error) {
	if g.NumNodes() == 0 {
		return nil, nil
	}

	resolution := l.Resolution
	if resolution == 0 {
		resolution = 1.0
	}

	// Node ids are mapped to their index in g.NodeIDs.
	index := make(map[string]int64, len(g.NodeIDs))
	wg := simple.NewWeightedUndirectedGraph(0, 0)
	for i, id := range g.NodeIDs {
		index[id] = int64(i)
		wg.AddNode(simple.Node(int64(i)))
	}
	for pair, weight := range g.Weights {
		a, aok := index[pair[0]]
		b, bok := index[pair[1]]
		if !aok || !bok {
			continue // dangling edge endpoint
		}
		wg.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: weight})
	}

	reduced := gonumcommunity.Modularize(wg, resolution, nil)

	// Walk the reduction chain bottom-up. The bottom-most graph is the
	// singleton wrap of the input and is skipped; each later reduction's
	// Communities() groups the nodes of the level below, so partitions are
	// composed back down to input node indices. Expanded() at the bottom
	// returns a nil *ReducedUndirected inside a non-nil interface, so the
	// concrete value is checked rather than the interface.
	var chain []gonumcommunity.ReducedGraph
	for rg := reduced; rg != nil; {
		chain = append(chain, rg)
		next, ok := rg.Expanded().(*gonumcommunity.ReducedUndirected)
		if !ok || next == nil {
			break
		}
		rg = next
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if len(chain) < 2 {
		return nil, fmt.Errorf("no community structure found")
	}

	// prev[i] holds the input node indices collapsed into node i of the
	// current chain level.
	var prev [][]int64
	for _, group := range chain[0].Communities() {
		members := make([]int64, 0, len(group))
		for _, n := range group {
			members = append(members, n.ID())
		}
		prev = append(prev, members)
	}

	var memberships []Membership
	level := -1
	var prevSignature string
	for _, rg := range chain[1:] {
		groups := rg.Communities()
		// Node i of this level collapses exactly Communities()[i] of the
		// level below, so composition must preserve gonum's group order.
		composed := make([][]int64, 0, len(groups))
		for _, group := range groups {
			var members []int64
			for _, n := range group {
				members = append(members, prev[n.ID()]...)
			}
			sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
			composed = append(composed, members)
		}
		prev = composed

		// Stable cluster numbering is independent of gonum's ordering.
		ordered := make([][]int64, len(composed))
		copy(ordered, composed)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i][0] < ordered[j][0] })

		// Converged passes repeat the same partition; only distinct
		// partitions become levels.
		sig := partitionSignature(ordered)
		if sig == prevSignature {
			continue
		}
		prevSignature = sig
		level++

		for idx, members := range ordered {
			cid := clusterID(level, idx)
			for _, m := range members {
				memberships = append(memberships, Membership{
					NodeID:    g.NodeIDs[m],
					Level:     level,
					ClusterID: cid,
				})
			}
		}
	}

	if level < 0 {
		return nil, fmt.Errorf("no community structure found")
	}
	return memberships, nil
}

func partitionSignature(groups [][]int64) string {
	var sig []byte
	for _, group := range groups {
		for _, m := range group {
			sig = append(sig, fmt.Sprintf("%d,", m)...)
		}
		sig = append(sig, ';')
	}
	return string(sig)
}
