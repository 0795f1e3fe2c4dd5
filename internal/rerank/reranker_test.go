package rerank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixmem/engine/internal/search"
)

type mockGenerator struct {
	calls    int
	generate func(ctx context.Context, model, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, model, prompt string) (string, error) {
	m.calls++
	return m.generate(ctx, model, prompt)
}

func noSleep(time.Duration) {}

func sampleResults(n int) []search.Result {
	out := make([]search.Result, n)
	for i := range out {
		out[i] = search.Result{Chunk: search.Chunk{ID: string(rune('a' + i)), Content: "content"}, Score: float64(n - i)}
	}
	return out
}

func TestClassifyQueryTypes(t *testing.T) {
	assert.Equal(t, Temporal, Classify("when did I buy the camera"))
	assert.Equal(t, KnowledgeUpdate, Classify("what is my current address"))
	assert.Equal(t, Preference, Classify("what is my favorite food"))
	assert.Equal(t, AssistantRecall, Classify("what did you recommend last time"))
	assert.Equal(t, Factual, Classify("who is Alice"))
	assert.Equal(t, General, Classify("random statement"))
}

func TestRerankReturnsUnchangedWhenUnderK(t *testing.T) {
	results := sampleResults(2)
	gen := &mockGenerator{generate: func(ctx context.Context, model, prompt string) (string, error) {
		t.Fatal("generator should not be called")
		return "", nil
	}}
	d := New(gen, "m", noSleep)

	out := d.Rerank(context.Background(), "who is Alice", results, 5)
	assert.Equal(t, results, out)
}

func TestRerankAppliesScoresAndSorts(t *testing.T) {
	results := sampleResults(3)
	gen := &mockGenerator{generate: func(ctx context.Context, model, prompt string) (string, error) {
		return `[{"index":0,"score":1},{"index":1,"score":9},{"index":2,"score":5}]`, nil
	}}
	d := New(gen, "m", noSleep)

	out := d.Rerank(context.Background(), "who is Alice", results, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Chunk.ID) // index 1 scored 9 -> highest
	assert.Equal(t, "c", out[1].Chunk.ID) // index 2 scored 5
	require.NotNil(t, out[0].RerankScore)
	assert.Equal(t, 0.9, out[0].Score)
}

func TestRerankSkipsBracketBearingProseBeforeTheArray(t *testing.T) {
	results := sampleResults(3)
	gen := &mockGenerator{generate: func(ctx context.Context, model, prompt string) (string, error) {
		return `Looking at [0] and [1], here are the scores: [{"index":0,"score":1},{"index":1,"score":9},{"index":2,"score":5}]`, nil
	}}
	d := New(gen, "m", noSleep)

	out := d.Rerank(context.Background(), "who is Alice", results, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Chunk.ID) // index 1 scored 9 -> highest
	assert.Equal(t, "c", out[1].Chunk.ID) // index 2 scored 5
	assert.Equal(t, 1, gen.calls)
}

func TestRerankFallsBackOnRepeatedMalformedOutput(t *testing.T) {
	results := sampleResults(3)
	gen := &mockGenerator{generate: func(ctx context.Context, model, prompt string) (string, error) {
		return "not json at all", nil
	}}
	d := New(gen, "m", noSleep)

	out := d.Rerank(context.Background(), "who is Alice", results, 2)
	require.Len(t, out, 2)
	assert.Equal(t, results[:2], out)
	assert.Equal(t, 3, gen.calls)
}

func TestRerankFallsBackOnTransportError(t *testing.T) {
	results := sampleResults(3)
	gen := &mockGenerator{generate: func(ctx context.Context, model, prompt string) (string, error) {
		return "", assert.AnError
	}}
	d := New(gen, "m", noSleep)

	out := d.Rerank(context.Background(), "who is Alice", results, 2)
	assert.Equal(t, results[:2], out)
	assert.Equal(t, 3, gen.calls)
}
