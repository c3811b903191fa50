package community

import (
	"fmt"

	"go.uber.org/zap"
)

// Membership assigns one node to one cluster at one hierarchy level. A node
// appears once per level; level 0 is the finest grain.
type Membership struct {
	NodeID    string
	Level     int
	ClusterID string
}

// Clusterer computes a hierarchical partition of a graph.
type Clusterer interface {
	Detect(g *Graph) ([]Membership, error)
}

// clusterID formats the canonical cluster identifier.
func clusterID(level, index int) string {
	return fmt.Sprintf("%d-%d", level, index)
}

// FallbackPartition builds the degenerate hierarchy used when the primary
// clusterer fails or the graph is too small to cluster meaningfully:
//
//   - empty graph: no memberships
//   - one node: a single level-0 cluster, no upper level
//   - more nodes: one level-0 singleton per node plus a single level-1
//     cluster holding everything
func FallbackPartition(nodeIDs []string) []Membership {
	switch len(nodeIDs) {
	case 0:
		return nil
	case 1:
		return []Membership{{NodeID: nodeIDs[0], Level: 0, ClusterID: clusterID(0, 0)}}
	}

	memberships := make([]Membership, 0, 2*len(nodeIDs))
	for i, id := range nodeIDs {
		memberships = append(memberships, Membership{NodeID: id, Level: 0, ClusterID: clusterID(0, i)})
	}
	for _, id := range nodeIDs {
		memberships = append(memberships, Membership{NodeID: id, Level: 1, ClusterID: clusterID(1, 0)})
	}
	return memberships
}

// Detector runs the primary clusterer and degrades to FallbackPartition
// when it errors or returns nothing for a non-empty graph.
type Detector struct {
	primary Clusterer
	log     *zap.Logger
}

// NewDetector wires a detector around the given primary clusterer. A nil
// primary means fallback-only.
func NewDetector(primary Clusterer, log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{primary: primary, log: log}
}

// Detect partitions the graph. Never returns an error: clustering failures
// degrade to the fallback partition.
func (d *Detector) Detect(g *Graph) []Membership {
	if g.NumNodes() == 0 {
		return nil
	}
	if d.primary == nil {
		return FallbackPartition(g.NodeIDs)
	}

	memberships, err := d.detectPrimary(g)
	if err != nil {
		d.log.Warn("clustering failed, using fallback partition", zap.Error(err))
		return FallbackPartition(g.NodeIDs)
	}
	if len(memberships) == 0 {
		return FallbackPartition(g.NodeIDs)
	}
	return memberships
}

// detectPrimary converts a panicking primary into an error so degradation
// still applies.
func (d *Detector) detectPrimary(g *Graph) (memberships []Membership, err error) {
	defer func() {
		if r := recover(); r != nil {
			memberships = nil
			err = fmt.Errorf("clusterer panicked: %v", r)
		}
	}()
	return d.primary.Detect(g)
}
