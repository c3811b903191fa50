package community

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Store is the slice of the store the rebuild writes through.
type Store interface {
	ClearCommunities() error
	CreateCommunity(id string, level int) error
	AddMembers(communityID string, nodeIDs []string) error
	AddHierarchy(parentID, childID string) error
}

// Rebuild replaces the stored community structure with a fresh partition.
// The previous hierarchy, memberships, and community rows are dropped first;
// every new community starts with the pending-summarization placeholder.
// Parent links are derived from member-set containment between adjacent
// levels.
func Rebuild(st Store, memberships []Membership, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if err := st.ClearCommunities(); err != nil {
		return fmt.Errorf("failed to clear communities: %w", err)
	}
	if len(memberships) == 0 {
		return nil
	}

	type cluster struct {
		level   int
		members []string
	}
	clusters := make(map[string]*cluster)
	maxLevel := 0
	for _, m := range memberships {
		c, ok := clusters[m.ClusterID]
		if !ok {
			c = &cluster{level: m.Level}
			clusters[m.ClusterID] = c
		}
		c.members = append(c.members, m.NodeID)
		if m.Level > maxLevel {
			maxLevel = m.Level
		}
	}

	ids := make([]string, 0, len(clusters))
	for id := range clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := clusters[id]
		if err := st.CreateCommunity(id, c.level); err != nil {
			return fmt.Errorf("failed to create community %s: %w", id, err)
		}
		if err := st.AddMembers(id, c.members); err != nil {
			return fmt.Errorf("failed to add members to %s: %w", id, err)
		}
	}

	// A level-L cluster is the parent of a level-(L-1) cluster when it
	// contains every member of the child.
	byLevel := make(map[int][]string)
	for _, id := range ids {
		byLevel[clusters[id].level] = append(byLevel[clusters[id].level], id)
	}
	memberSets := make(map[string]map[string]bool, len(clusters))
	for _, id := range ids {
		set := make(map[string]bool, len(clusters[id].members))
		for _, m := range clusters[id].members {
			set[m] = true
		}
		memberSets[id] = set
	}

	links := 0
	for level := 1; level <= maxLevel; level++ {
		for _, parentID := range byLevel[level] {
			parentSet := memberSets[parentID]
			for _, childID := range byLevel[level-1] {
				if containsAll(parentSet, clusters[childID].members) {
					if err := st.AddHierarchy(parentID, childID); err != nil {
						return fmt.Errorf("failed to link %s -> %s: %w", parentID, childID, err)
					}
					links++
				}
			}
		}
	}

	log.Info("community structure rebuilt",
		zap.Int("communities", len(clusters)),
		zap.Int("levels", maxLevel+1),
		zap.Int("hierarchy_links", links))
	return nil
}

func containsAll(set map[string]bool, members []string) bool {
	for _, m := range members {
		if !set[m] {
			return false
		}
	}
	return true
}
