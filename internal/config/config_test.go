package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHUNK_SIZE", "CHUNK_OVERLAP", "EMBEDDING_BATCH_SIZE", "EMBEDDING_MODEL",
		"RERANK_OVERFETCH", "EXTRACTION_CONCURRENCY", "MAX_GLOBAL_EXTRACTIONS",
		"VECTOR_WEIGHT", "BM25_WEIGHT", "MAX_GRAPH_ENTITIES", "MAX_GRAPH_RELATIONSHIPS",
		"SNAPSHOT_ROOT", "API_KEY",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY")
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_KEY", "secret")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1600, cfg.ChunkSize)
	assert.Equal(t, 320, cfg.ChunkOverlap)
	assert.Equal(t, 100, cfg.EmbeddingBatchSize)
	assert.Equal(t, 40, cfg.RerankOverfetch)
	assert.Equal(t, 10, cfg.ExtractionConcurrency)
	assert.Equal(t, 300, cfg.MaxGlobalExtractions)
	assert.InDelta(t, 0.7, cfg.VectorWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.BM25Weight, 1e-9)
}

func TestLoadRejectsMismatchedWeights(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_KEY", "secret")
	os.Setenv("VECTOR_WEIGHT", "0.9")
	os.Setenv("BM25_WEIGHT", "0.3")
	defer clearEnv(t)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("API_KEY", "secret")
	os.Setenv("CHUNK_SIZE", "800")
	os.Setenv("MAX_GRAPH_ENTITIES", "5")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, 5, cfg.MaxGraphEntities)
}
