// Package summarize generates narrative reports for detected communities,
// walking the hierarchy bottom-up so each level's summaries feed the next.
package summarize

import (
	"fmt"
	"strings"

	"github.com/vthunder/kgraph/internal/store"
)

// memberLimit caps how many member entities and internal edges feed one
// level-0 context.
const memberLimit = 50

// contextCharLimit caps the prompt context length.
const contextCharLimit = 50000

// Store is the slice of the store that summarization reads and writes.
type Store interface {
	MaxCommunityLevel() (int, error)
	CommunitiesAtLevel(level int) ([]string, error)
	CommunityMembers(communityID string, limit int) ([]*store.Member, error)
	CommunityEdges(communityID string, limit int) ([]*store.MemberEdge, error)
	ChildSummaries(parentID string) ([]*store.ChildSummary, error)
	UpdateCommunityReport(id, title, summary, fullContent string, embedding []float64) error
}

// gatherContext builds the textual evidence for one community. Level 0
// sees raw member descriptions and internal relationships; higher levels
// see only the already-synthesized child summaries, which keeps context
// size bounded as communities grow.
func gatherContext(st Store, communityID string, level int) (string, error) {
	var b strings.Builder

	if level == 0 {
		members, err := st.CommunityMembers(communityID, memberLimit)
		if err != nil {
			return "", fmt.Errorf("failed to load members: %w", err)
		}
		if len(members) == 0 {
			return "", nil
		}
		b.WriteString("### Member Entities:")
		for _, m := range members {
			fmt.Fprintf(&b, "\n- %s: %s", m.Name, m.Description)
		}

		edges, err := st.CommunityEdges(communityID, memberLimit)
		if err != nil {
			return "", fmt.Errorf("failed to load edges: %w", err)
		}
		b.WriteString("\n\n### Internal Relationships:")
		for _, e := range edges {
			fmt.Fprintf(&b, "\n- %s --[%s]--> %s: %s", e.SourceName, e.Type, e.TargetName, e.Description)
		}
	} else {
		children, err := st.ChildSummaries(communityID)
		if err != nil {
			return "", fmt.Errorf("failed to load child summaries: %w", err)
		}
		if len(children) == 0 {
			return "", nil
		}
		b.WriteString("### Sub-Communities (Children):")
		for _, c := range children {
			fmt.Fprintf(&b, "\n#### %s\nSummary: %s\n", c.Title, c.Summary)
		}
	}

	text := b.String()
	if len(text) > contextCharLimit {
		text = text[:contextCharLimit]
	}
	return text, nil
}
