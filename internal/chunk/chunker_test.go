package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitShortTextReturnsSingleChunk(t *testing.T) {
	out := Split("hello world", Config{ChunkSize: 1600, ChunkOverlap: 320})
	assert.Equal(t, []string{"hello world"}, out)
}

func TestSplitEmptyTextReturnsNoChunks(t *testing.T) {
	out := Split("   ", Config{})
	assert.Empty(t, out)
}

func TestSplitRespectsMaxLength(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	out := Split(text, Config{ChunkSize: 200, ChunkOverlap: 40})

	assert.NotEmpty(t, out)
	for _, c := range out {
		assert.LessOrEqual(t, len(c), 200)
		assert.NotEmpty(t, c)
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	text := strings.Repeat("a", 90) + ". " + strings.Repeat("b", 90)
	out := Split(text, Config{ChunkSize: 100, ChunkOverlap: 10})

	assert.True(t, strings.HasSuffix(out[0], "a"))
}

func TestSplitNeverEmitsEmptyChunks(t *testing.T) {
	text := strings.Repeat("x\n\n\n", 500)
	out := Split(text, Config{ChunkSize: 50, ChunkOverlap: 5})
	for _, c := range out {
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitUsesDefaultsWhenZero(t *testing.T) {
	text := strings.Repeat("z", 10)
	out := Split(text, Config{})
	assert.Equal(t, []string{text}, out)
}
