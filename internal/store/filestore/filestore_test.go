package filestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixmem/engine/internal/graph"
	"github.com/helixmem/engine/internal/search"
	"github.com/helixmem/engine/internal/store"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	b, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	snap := store.Snapshot{
		ContainerTag: "t1",
		Chunks: []search.Chunk{
			{ID: "t1_s1_0", ContainerTag: "t1", Content: "hello", SessionID: "s1", Embedding: []float32{0.1, 0.2, 0.3}},
		},
		Nodes: []graph.Node{
			{Name: "Alice", Type: "person", Summary: "x", SessionIDs: map[string]struct{}{"s1": {}}},
		},
		Edges: []graph.Edge{
			{Source: "Alice", Relation: "knows", Target: "Bob"},
		},
	}

	require.NoError(t, b.Save(context.Background(), snap))

	loaded, ok, err := b.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, snap.Chunks, loaded.Chunks)
	assert.Equal(t, snap.Edges, loaded.Edges)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, "Alice", loaded.Nodes[0].Name)
	assert.Contains(t, loaded.Nodes[0].SessionIDs, "s1")
}

func TestLoadMissingContainerReturnsNotOK(t *testing.T) {
	b, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	_, ok, err := b.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearRemovesContainer(t *testing.T) {
	b, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	snap := store.Snapshot{ContainerTag: "t1", Chunks: []search.Chunk{{ID: "c1", Embedding: []float32{1}}}}
	require.NoError(t, b.Save(context.Background(), snap))
	require.NoError(t, b.Clear(context.Background(), "t1"))

	_, ok, err := b.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}
