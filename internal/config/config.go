// Package config loads the memory engine's tunables from the environment,
// following the same os.Getenv-plus-default pattern used throughout the
// surrounding toolkit.
package config

import (
	"os"
	"strconv"

	"github.com/helixmem/engine/internal/engineerrors"
)

// Config holds every tunable named in the external interface contract.
type Config struct {
	ChunkSize             int
	ChunkOverlap          int
	EmbeddingBatchSize    int
	EmbeddingModel        string
	RerankOverfetch       int
	ExtractionConcurrency int
	MaxGlobalExtractions  int
	VectorWeight          float64
	BM25Weight            float64
	MaxGraphEntities      int
	MaxGraphRelationships int

	APIKey string

	SnapshotRoot string
}

// Default returns a Config populated with the documented defaults and no
// API key set. Callers typically follow this with Load to apply environment
// overrides.
func Default() *Config {
	return &Config{
		ChunkSize:             1600,
		ChunkOverlap:          320,
		EmbeddingBatchSize:    100,
		EmbeddingModel:        "text-embedding-3-small",
		RerankOverfetch:       40,
		ExtractionConcurrency: 10,
		MaxGlobalExtractions:  300,
		VectorWeight:          0.7,
		BM25Weight:            0.3,
		MaxGraphEntities:      10,
		MaxGraphRelationships: 20,
		SnapshotRoot:          "./data",
	}
}

// Load builds a Config from defaults overridden by environment variables,
// then validates it. API_KEY is required; its absence is a ConfigError.
func Load() (*Config, error) {
	cfg := Default()

	cfg.ChunkSize = intEnv("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = intEnv("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.EmbeddingBatchSize = intEnv("EMBEDDING_BATCH_SIZE", cfg.EmbeddingBatchSize)
	cfg.EmbeddingModel = stringEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.RerankOverfetch = intEnv("RERANK_OVERFETCH", cfg.RerankOverfetch)
	cfg.ExtractionConcurrency = intEnv("EXTRACTION_CONCURRENCY", cfg.ExtractionConcurrency)
	cfg.MaxGlobalExtractions = intEnv("MAX_GLOBAL_EXTRACTIONS", cfg.MaxGlobalExtractions)
	cfg.VectorWeight = floatEnv("VECTOR_WEIGHT", cfg.VectorWeight)
	cfg.BM25Weight = floatEnv("BM25_WEIGHT", cfg.BM25Weight)
	cfg.MaxGraphEntities = intEnv("MAX_GRAPH_ENTITIES", cfg.MaxGraphEntities)
	cfg.MaxGraphRelationships = intEnv("MAX_GRAPH_RELATIONSHIPS", cfg.MaxGraphRelationships)
	cfg.SnapshotRoot = stringEnv("SNAPSHOT_ROOT", cfg.SnapshotRoot)
	cfg.APIKey = os.Getenv("API_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the documented invariants: an API key must be present and
// the fusion weights must sum to 1.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return engineerrors.NewConfigError("APIKey", "API_KEY is required")
	}
	if d := c.VectorWeight + c.BM25Weight - 1.0; d > 1e-9 || d < -1e-9 {
		return engineerrors.NewConfigError("VectorWeight+BM25Weight", "fusion weights must sum to 1")
	}
	return nil
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func floatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func stringEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
