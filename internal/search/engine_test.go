package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchReturnsExactEmbeddingMatchAtTop(t *testing.T) {
	e := New(Weights{VectorWeight: 0.7, BM25Weight: 0.3})
	target := []float32{1, 0, 0}
	e.AddChunks("t1", []Chunk{
		{ID: "c1", Content: "unrelated text about weather", Embedding: []float32{0, 1, 0}},
		{ID: "c2", Content: "the exact match chunk", Embedding: target},
		{ID: "c3", Content: "another unrelated chunk", Embedding: []float32{0, 0, 1}},
	})

	results := e.Search("t1", target, "the exact match chunk", 3)
	require.NotEmpty(t, results)
	assert.Equal(t, "c2", results[0].Chunk.ID)
}

func TestAddChunksIsIdempotentUpsertByID(t *testing.T) {
	e := New(Weights{VectorWeight: 0.7, BM25Weight: 0.3})
	chunks := []Chunk{{ID: "c1", Content: "hello world", Embedding: []float32{1, 0}}}

	e.AddChunks("t1", chunks)
	first := e.Search("t1", []float32{1, 0}, "hello", 10)

	e.AddChunks("t1", chunks)
	second := e.Search("t1", []float32{1, 0}, "hello", 10)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Score, second[0].Score)
	assert.Equal(t, 1, e.ChunkCount("t1"))
}

func TestAddChunksReplacesOnReingest(t *testing.T) {
	e := New(Weights{VectorWeight: 0.7, BM25Weight: 0.3})
	e.AddChunks("t1", []Chunk{{ID: "c1", Content: "first version", Embedding: []float32{1, 0}}})
	e.AddChunks("t1", []Chunk{{ID: "c1", Content: "second version", Embedding: []float32{0, 1}}})

	assert.Equal(t, 1, e.ChunkCount("t1"))
	results := e.Search("t1", []float32{0, 1}, "second version", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "second version", results[0].Chunk.Content)
}

func TestScoreContract(t *testing.T) {
	e := New(Weights{VectorWeight: 0.7, BM25Weight: 0.3})
	e.AddChunks("t1", []Chunk{
		{ID: "c1", Content: "Alice met Bob in Berlin", Embedding: []float32{1, 0}},
		{ID: "c2", Content: "the weather today is sunny", Embedding: []float32{0.5, 0.5}},
	})

	results := e.Search("t1", []float32{1, 0}, "Alice Berlin", 10)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.VectorScore, 0.0)
		assert.LessOrEqual(t, r.VectorScore, 1.0)
		assert.GreaterOrEqual(t, r.BM25Score, 0.0)
		assert.LessOrEqual(t, r.BM25Score, 1.0)
		assert.InDelta(t, 0.7*r.VectorScore+0.3*r.BM25Score, r.Score, 1e-9)
	}
}

func TestHybridBeatsVectorOnly(t *testing.T) {
	e := New(Weights{VectorWeight: 0.7, BM25Weight: 0.3})
	// Both chunks have identical embeddings so ranking must come from BM25.
	e.AddChunks("t1", []Chunk{
		{ID: "c1", Content: "user met Alice in Berlin", Embedding: []float32{1, 1}},
		{ID: "c2", Content: "user talked about travel", Embedding: []float32{1, 1}},
	})

	results := e.Search("t1", []float32{1, 1}, "Alice Berlin", 10)
	require.Len(t, results, 2)

	var c1, c2 Result
	for _, r := range results {
		if r.Chunk.ID == "c1" {
			c1 = r
		} else {
			c2 = r
		}
	}
	assert.Greater(t, c1.Score, c2.Score)
	assert.Greater(t, c1.BM25Score, 0.0)
	assert.Equal(t, 0.0, c2.BM25Score)
}

func TestClearRemovesAllData(t *testing.T) {
	e := New(Weights{VectorWeight: 0.7, BM25Weight: 0.3})
	e.AddChunks("t1", []Chunk{{ID: "c1", Content: "x", Embedding: []float32{1}}})
	e.Clear("t1")

	assert.False(t, e.HasData("t1"))
	assert.Empty(t, e.Search("t1", []float32{1}, "x", 10))
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := New(Weights{VectorWeight: 0.7, BM25Weight: 0.3})
	chunks := []Chunk{
		{ID: "c1", Content: "hello", Embedding: []float32{1, 2, 3}},
		{ID: "c2", Content: "world", Embedding: []float32{4, 5, 6}},
	}
	e.AddChunks("t1", chunks)

	snap := e.Snapshot("t1")

	e2 := New(Weights{VectorWeight: 0.7, BM25Weight: 0.3})
	e2.Restore("t1", snap)

	assert.Equal(t, e.ChunkCount("t1"), e2.ChunkCount("t1"))
	for _, c := range snap {
		assert.Contains(t, e2.Snapshot("t1"), c)
	}
}
