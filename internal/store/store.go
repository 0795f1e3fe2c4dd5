// Package store defines the persistence contract shared by every backend:
// a per-container snapshot of chunks and entity-graph state. The search
// engine and graph depend only on this interface, never on a concrete
// backend.
package store

import (
	"context"

	"github.com/helixmem/engine/internal/graph"
	"github.com/helixmem/engine/internal/search"
)

// Snapshot is one container's full persisted state.
type Snapshot struct {
	ContainerTag string
	Chunks       []search.Chunk
	Nodes        []graph.Node
	Edges        []graph.Edge
}

// Backend persists and restores container snapshots. Implementations must
// round-trip every field exactly, including embeddings.
type Backend interface {
	// Save writes snap atomically; a partial write must never be observable.
	Save(ctx context.Context, snap Snapshot) error
	// Load reads back a container's snapshot. ok is false if the container
	// has never been saved (not an error).
	Load(ctx context.Context, containerTag string) (Snapshot, bool, error)
	// Clear removes all persisted state for containerTag.
	Clear(ctx context.Context, containerTag string) error
}
