// Package llm defines the external collaborator contracts the engine calls
// out to: an embedding service and a text-generation service used for both
// memory extraction and reranking. A host application supplies concrete
// implementations; this package only fixes the shape of the call.
package llm

import "context"

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, model, text string) ([]float32, error)
	// EmbedMany returns one vector per input text, in order.
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Generator is a plain text-to-text model call, used for both extraction
// and reranking. Output parsing is the caller's responsibility; Generator
// itself is a pure transport boundary.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}
