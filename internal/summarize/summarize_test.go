package summarize

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/kgraph/internal/llm"
	"github.com/vthunder/kgraph/internal/store"
)

type fakeStore struct {
	levels     map[int][]string // level -> community ids
	members    map[string][]*store.Member
	edges      map[string][]*store.MemberEdge
	children   map[string][]string // parent -> child ids
	reports    map[string]*Report
	updated    []string // order of report writes
	embeddings map[string][]float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		levels:     map[int][]string{},
		members:    map[string][]*store.Member{},
		edges:      map[string][]*store.MemberEdge{},
		children:   map[string][]string{},
		reports:    map[string]*Report{},
		embeddings: map[string][]float64{},
	}
}

func (f *fakeStore) MaxCommunityLevel() (int, error) {
	max := -1
	for level := range f.levels {
		if level > max {
			max = level
		}
	}
	return max, nil
}

func (f *fakeStore) CommunitiesAtLevel(level int) ([]string, error) {
	return f.levels[level], nil
}

func (f *fakeStore) CommunityMembers(id string, limit int) ([]*store.Member, error) {
	m := f.members[id]
	if len(m) > limit {
		m = m[:limit]
	}
	return m, nil
}

func (f *fakeStore) CommunityEdges(id string, limit int) ([]*store.MemberEdge, error) {
	return f.edges[id], nil
}

func (f *fakeStore) ChildSummaries(parentID string) ([]*store.ChildSummary, error) {
	var out []*store.ChildSummary
	for _, childID := range f.children[parentID] {
		cs := &store.ChildSummary{Title: "Community " + childID, Summary: store.PendingSummary}
		if r, ok := f.reports[childID]; ok {
			cs.Title = r.Title
			cs.Summary = r.Summary
		}
		out = append(out, cs)
	}
	return out, nil
}

func (f *fakeStore) UpdateCommunityReport(id, title, summary, fullContent string, embedding []float64) error {
	f.reports[id] = &Report{Title: title, Summary: summary}
	f.updated = append(f.updated, id)
	f.embeddings[id] = embedding
	return nil
}

// promptChat fabricates a distinct report per request and records the user
// prompt it saw.
type promptChat struct {
	prompts []string
	failFor string // substring of prompt that triggers garbage output
	n       int
}

func (p *promptChat) Chat(ctx context.Context, req llm.Request) (*llm.Outcome, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	p.prompts = append(p.prompts, prompt)
	if p.failFor != "" && strings.Contains(prompt, p.failFor) {
		return &llm.Outcome{Kind: llm.OutcomeContent, Content: "I cannot help with that."}, nil
	}
	p.n++
	return &llm.Outcome{
		Kind: llm.OutcomeContent,
		Content: fmt.Sprintf(`{"title": "Report %d", "summary": "Synthesized summary %d.", "rating": 7.0, "findings": [{"summary": "f", "explanation": "e"}]}`,
			p.n, p.n),
	}, nil
}

type fixedEmbedder struct{ calls int }

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	return []float64{0.1, 0.2}, nil
}

func buildTwoLevelStore() *fakeStore {
	st := newFakeStore()
	st.levels[0] = []string{"0-0", "0-1"}
	st.levels[1] = []string{"1-0"}
	st.members["0-0"] = []*store.Member{{Name: "Sarah Chen", Description: "lead engineer"}}
	st.members["0-1"] = []*store.Member{{Name: "Acme", Description: "a company"}}
	st.edges["0-0"] = []*store.MemberEdge{{SourceName: "Sarah Chen", Type: "WORKS_AT", TargetName: "Acme", Description: "employment"}}
	st.children["1-0"] = []string{"0-0", "0-1"}
	return st
}

func TestSummarizeAllProcessesBottomUp(t *testing.T) {
	st := buildTwoLevelStore()
	chat := &promptChat{}
	emb := &fixedEmbedder{}
	s := NewSynthesizer(st, chat, emb, "test-model", nil)

	require.NoError(t, s.SummarizeAll(context.Background()))
	assert.Equal(t, []string{"0-0", "0-1", "1-0"}, st.updated)
	assert.Equal(t, 3, emb.calls, "each report gets embedded")
}

func TestParentContextContainsChildSummaries(t *testing.T) {
	st := buildTwoLevelStore()
	chat := &promptChat{}
	s := NewSynthesizer(st, chat, &fixedEmbedder{}, "test-model", nil)

	require.NoError(t, s.SummarizeAll(context.Background()))

	require.Len(t, chat.prompts, 3)
	parentPrompt := chat.prompts[2]
	assert.Contains(t, parentPrompt, "Sub-Communities (Children)")
	assert.Contains(t, parentPrompt, st.reports["0-0"].Summary,
		"level-1 context must carry the finished level-0 summaries")
	assert.NotContains(t, parentPrompt, "Member Entities",
		"upper levels must not see raw member descriptions")
}

func TestLevelZeroContextFormat(t *testing.T) {
	st := buildTwoLevelStore()
	chat := &promptChat{}
	s := NewSynthesizer(st, chat, &fixedEmbedder{}, "test-model", nil)

	require.NoError(t, s.SummarizeAll(context.Background()))

	prompt := chat.prompts[0]
	assert.Contains(t, prompt, "### Member Entities:")
	assert.Contains(t, prompt, "- Sarah Chen: lead engineer")
	assert.Contains(t, prompt, "### Internal Relationships:")
	assert.Contains(t, prompt, "- Sarah Chen --[WORKS_AT]--> Acme: employment")
}

func TestOneFailureDoesNotBlockOthers(t *testing.T) {
	st := buildTwoLevelStore()
	chat := &promptChat{failFor: "Sarah Chen"}
	s := NewSynthesizer(st, chat, &fixedEmbedder{}, "test-model", nil)

	require.NoError(t, s.SummarizeAll(context.Background()))
	assert.NotContains(t, st.updated, "0-0", "failed community keeps its placeholder")
	assert.Contains(t, st.updated, "0-1")
	assert.Contains(t, st.updated, "1-0")
}

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, fmt.Errorf("embedding service down")
}

func TestEmbeddingFailureStillPersistsReport(t *testing.T) {
	st := buildTwoLevelStore()
	s := NewSynthesizer(st, &promptChat{}, brokenEmbedder{}, "test-model", nil)

	require.NoError(t, s.SummarizeAll(context.Background()))
	require.Contains(t, st.updated, "0-0", "report saved despite failed embedding")
	assert.Nil(t, st.embeddings["0-0"])
}

func TestEmptyContextSkipsCommunity(t *testing.T) {
	st := newFakeStore()
	st.levels[0] = []string{"0-0"}
	chat := &promptChat{}
	s := NewSynthesizer(st, chat, &fixedEmbedder{}, "test-model", nil)

	require.NoError(t, s.SummarizeAll(context.Background()))
	assert.Empty(t, chat.prompts, "no members means no LLM call")
	assert.Empty(t, st.updated)
}

func TestNoCommunitiesIsANoOp(t *testing.T) {
	st := newFakeStore()
	s := NewSynthesizer(st, &promptChat{}, &fixedEmbedder{}, "test-model", nil)
	require.NoError(t, s.SummarizeAll(context.Background()))
	assert.Empty(t, st.updated)
}
