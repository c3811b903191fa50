package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "kgraph.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertNodeAssignsID(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.UpsertNode(&Node{Name: "Sarah Chen", Type: "PERSON", Description: "engineer"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := db.GetNode(id)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "Sarah Chen", n.Name)
	assert.Equal(t, "PERSON", n.Type)
}

func TestUpsertNodeIsIdempotentOnNameTypeDomain(t *testing.T) {
	db := setupTestDB(t)

	id1, err := db.UpsertNode(&Node{Name: "Acme", Type: "ORGANIZATION", Description: "a company"})
	require.NoError(t, err)
	id2, err := db.UpsertNode(&Node{Name: "Acme", Type: "ORGANIZATION", Description: "a bigger company"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	count, err := db.CountNodes()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err := db.GetNode(id1)
	require.NoError(t, err)
	assert.Equal(t, "a bigger company", n.Description, "collision should refresh description")
}

func TestUpsertNodeSeparatesDomains(t *testing.T) {
	db := setupTestDB(t)

	id1, err := db.UpsertNode(&Node{Name: "Mercury", Type: "PROJECT", DomainID: "team-a"})
	require.NoError(t, err)
	id2, err := db.UpsertNode(&Node{Name: "Mercury", Type: "PROJECT", DomainID: "team-b"})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestFindNodeByNameType(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.UpsertNode(&Node{Name: "Sarah Chen", Type: "PERSON"})
	require.NoError(t, err)

	n, err := db.FindNodeByNameType("Sarah Chen", "PERSON", "")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, id, n.ID)

	missing, err := db.FindNodeByNameType("Sarah Chen", "ORGANIZATION", "")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindSimilarNodesThresholdIsStrict(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.UpsertNode(&Node{Name: "A", Type: "CONCEPT", Embedding: []float64{1, 0, 0}})
	require.NoError(t, err)
	_, err = db.UpsertNode(&Node{Name: "B", Type: "CONCEPT", Embedding: []float64{0, 1, 0}})
	require.NoError(t, err)

	// Identical vector: similarity 1.0 > 0.85. Orthogonal: 0.0, excluded.
	results, err := db.FindSimilarNodes([]float64{1, 0, 0}, 0.85, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].Name)
	assert.InDelta(t, 1.0, results[0].Similarity, 0.001)

	// Exactly at the threshold must not match.
	results, err = db.FindSimilarNodes([]float64{1, 0, 0}, 1.0, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFindSimilarNodesRanksDescending(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.UpsertNode(&Node{Name: "close", Type: "CONCEPT", Embedding: []float64{0.9, 0.1, 0}})
	require.NoError(t, err)
	_, err = db.UpsertNode(&Node{Name: "closer", Type: "CONCEPT", Embedding: []float64{1, 0, 0}})
	require.NoError(t, err)

	results, err := db.FindSimilarNodes([]float64{1, 0, 0}, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "closer", results[0].Name)
	assert.Equal(t, "close", results[1].Name)
}

func TestInsertEdgeIgnoresDuplicates(t *testing.T) {
	db := setupTestDB(t)

	a, err := db.UpsertNode(&Node{Name: "A", Type: "PERSON"})
	require.NoError(t, err)
	b, err := db.UpsertNode(&Node{Name: "B", Type: "ORGANIZATION"})
	require.NoError(t, err)

	e := &Edge{SourceID: a, TargetID: b, Type: "WORKS_AT"}
	require.NoError(t, db.InsertEdge(e))
	require.NoError(t, db.InsertEdge(e))

	count, err := db.CountEdges()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Same endpoints, different type is a distinct edge.
	require.NoError(t, db.InsertEdge(&Edge{SourceID: a, TargetID: b, Type: "FOUNDED"}))
	count, err = db.CountEdges()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInsertEventIgnoresDuplicates(t *testing.T) {
	db := setupTestDB(t)

	id, err := db.UpsertNode(&Node{Name: "A", Type: "PERSON"})
	require.NoError(t, err)

	ev := &Event{NodeID: id, Description: "joined the team", RawTime: "June 2024", EventDate: "2024-06-01"}
	require.NoError(t, db.InsertEvent(ev))
	require.NoError(t, db.InsertEvent(&Event{NodeID: id, Description: "joined the team", RawTime: "June 2024", EventDate: "2024-06-01"}))

	events, err := db.EventsForNode(id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2024-06-01", events[0].EventDate)
}

func TestCommunityLifecycle(t *testing.T) {
	db := setupTestDB(t)

	a, err := db.UpsertNode(&Node{Name: "A", Type: "PERSON", Description: "desc a"})
	require.NoError(t, err)
	b, err := db.UpsertNode(&Node{Name: "B", Type: "PERSON", Description: "desc b"})
	require.NoError(t, err)
	require.NoError(t, db.InsertEdge(&Edge{SourceID: a, TargetID: b, Type: "KNOWS"}))

	require.NoError(t, db.CreateCommunity("0-0", 0))
	require.NoError(t, db.CreateCommunity("1-0", 1))
	require.NoError(t, db.AddMembers("0-0", []string{a, b}))
	require.NoError(t, db.AddMembers("1-0", []string{a, b}))
	require.NoError(t, db.AddHierarchy("1-0", "0-0"))

	level, err := db.MaxCommunityLevel()
	require.NoError(t, err)
	assert.Equal(t, 1, level)

	ids, err := db.CommunitiesAtLevel(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"0-0"}, ids)

	members, err := db.CommunityMembers("0-0", 50)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "A", members[0].Name)

	edges, err := db.CommunityEdges("0-0", 50)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "KNOWS", edges[0].Type)

	c, err := db.GetCommunity("0-0")
	require.NoError(t, err)
	assert.Equal(t, PendingSummary, c.Summary)

	require.NoError(t, db.UpdateCommunityReport("0-0", "Pair", "Two people who know each other.", `{"title":"Pair"}`, []float64{1, 0}))

	children, err := db.ChildSummaries("1-0")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Pair", children[0].Title)
	assert.Equal(t, "Two people who know each other.", children[0].Summary)
}

func TestClearCommunitiesLeavesNodesIntact(t *testing.T) {
	db := setupTestDB(t)

	a, err := db.UpsertNode(&Node{Name: "A", Type: "PERSON"})
	require.NoError(t, err)
	require.NoError(t, db.CreateCommunity("0-0", 0))
	require.NoError(t, db.AddMembers("0-0", []string{a}))
	require.NoError(t, db.AddHierarchy("0-0", "0-0"))

	require.NoError(t, db.ClearCommunities())

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats["communities"])
	assert.Equal(t, 0, stats["community_membership"])
	assert.Equal(t, 0, stats["community_hierarchy"])
	assert.Equal(t, 1, stats["nodes"])
}

func TestMaxCommunityLevelEmpty(t *testing.T) {
	db := setupTestDB(t)

	level, err := db.MaxCommunityLevel()
	require.NoError(t, err)
	assert.Equal(t, -1, level)
}

func TestPendingCommunitiesOrderedByLevel(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.CreateCommunity("1-0", 1))
	require.NoError(t, db.CreateCommunity("0-1", 0))
	require.NoError(t, db.CreateCommunity("0-0", 0))
	require.NoError(t, db.UpdateCommunityReport("0-1", "Done", "summary", "", nil))

	ids, err := db.PendingCommunities()
	require.NoError(t, err)
	assert.Equal(t, []string{"0-0", "1-0"}, ids)
}

func TestFindSimilarCommunitiesSkipsPending(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.CreateCommunity("0-0", 0))
	require.NoError(t, db.CreateCommunity("0-1", 0))
	require.NoError(t, db.UpdateCommunityReport("0-0", "Alpha", "about alpha", "", []float64{1, 0, 0}))

	results, err := db.FindSimilarCommunities([]float64{1, 0, 0}, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Alpha", results[0].Title)
	assert.InDelta(t, 1.0, results[0].Similarity, 0.001)
}
