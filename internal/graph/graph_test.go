package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEntityCreatesNode(t *testing.T) {
	g := New(Options{})
	ok := g.AddEntity("Alice", "Person", "Works at Acme", "s1")
	require.True(t, ok)
	assert.Equal(t, 1, g.NodeCount())
}

func TestAddEntityRejectsEmptyName(t *testing.T) {
	g := New(Options{})
	ok := g.AddEntity("   ", "person", "x", "s1")
	assert.False(t, ok)
	assert.Equal(t, 0, g.NodeCount())
}

func TestAddEntityMergesSummaryAndTracksSessions(t *testing.T) {
	g := New(Options{})
	g.AddEntity("Alice", "person", "Works at Acme as an engineer in the downtown office", "s1")
	g.AddEntity("Alice", "person", "Enjoys hiking on weekends with her dog", "s2")

	assert.Equal(t, 1, g.NodeCount())
}

func TestAddEntityAvoidsDuplicateSummaryPrefix(t *testing.T) {
	g := New(Options{})
	long := "a repeated prefix that is over forty characters long and then some extra detail"
	g.AddEntity("Alice", "person", long, "s1")
	g.AddEntity("Alice", "person", long, "s2")

	nodes, _ := g.Snapshot()
	require.Len(t, nodes, 1)
	// Second merge should be a no-op since the 40-char prefix already exists.
	assert.Equal(t, truncateSummary(long), nodes[0].Summary)
}

func TestRelationshipKeyUniqueness(t *testing.T) {
	g := New(Options{})
	a := g.AddRelationship(Edge{Source: "Alice", Relation: "married_to", Target: "Bob"})
	b := g.AddRelationship(Edge{Source: "Alice", Relation: "married_to", Target: "Bob"})

	assert.True(t, a)
	assert.False(t, b)
	assert.Equal(t, 1, g.EdgeCount())
}

func TestFindEntitiesInQueryWholeWordMatch(t *testing.T) {
	g := New(Options{})
	g.AddEntity("Alice Smith", "person", "", "s1")

	found := g.FindEntitiesInQuery("tell me about Alice and her trip")
	assert.Contains(t, found, "Alice Smith")

	notFound := g.FindEntitiesInQuery("Alicexyz is unrelated")
	assert.NotContains(t, notFound, "Alice Smith")
}

func TestGetContextRespectsCaps(t *testing.T) {
	g := New(Options{MaxEntities: 2, MaxRelationships: 2})
	g.AddRelationship(Edge{Source: "A", Relation: "knows", Target: "B"})
	g.AddRelationship(Edge{Source: "A", Relation: "knows", Target: "C"})
	g.AddRelationship(Edge{Source: "A", Relation: "knows", Target: "D"})

	ctx := g.GetContext([]string{"A"}, 2)
	assert.LessOrEqual(t, len(ctx.Entities), 2)
	assert.LessOrEqual(t, len(ctx.Relationships), 2)
}

func TestGetContextSeedHopDoesNotCount(t *testing.T) {
	g := New(Options{})
	g.AddRelationship(Edge{Source: "Alice", Relation: "married_to", Target: "Bob"})
	g.AddRelationship(Edge{Source: "Alice", Relation: "works_at", Target: "Acme"})

	ctx := g.GetContext([]string{"Alice"}, 2)

	names := make([]string, 0)
	for _, n := range ctx.Entities {
		names = append(names, n.Name)
	}
	assert.Contains(t, names, "Alice")
	assert.Contains(t, names, "Bob")
	assert.Contains(t, names, "Acme")
	assert.Len(t, ctx.Relationships, 2)
}

func TestGetContextTerminatesOnCycles(t *testing.T) {
	g := New(Options{})
	g.AddRelationship(Edge{Source: "A", Relation: "knows", Target: "B"})
	g.AddRelationship(Edge{Source: "B", Relation: "knows", Target: "A"})

	assert.NotPanics(t, func() {
		ctx := g.GetContext([]string{"A"}, 5)
		assert.NotEmpty(t, ctx.Entities)
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	g := New(Options{})
	g.AddEntity("Alice", "person", "summary", "s1")
	g.AddRelationship(Edge{Source: "Alice", Relation: "knows", Target: "Bob"})

	nodes, edges := g.Snapshot()

	restored := New(Options{})
	restored.Restore(nodes, edges)

	rn, re := restored.Snapshot()
	assert.ElementsMatch(t, nodes, rn)
	assert.ElementsMatch(t, edges, re)
}

func TestClearRemovesEverything(t *testing.T) {
	g := New(Options{})
	g.AddEntity("Alice", "person", "s", "s1")
	g.AddRelationship(Edge{Source: "Alice", Relation: "knows", Target: "Bob"})

	g.Clear()

	assert.Equal(t, 0, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())
	assert.Empty(t, g.FindEntitiesInQuery("Alice"))
}
