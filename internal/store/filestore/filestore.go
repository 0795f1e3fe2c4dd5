// Package filestore implements the file-backed snapshot persistence
// backend: one search.json and one optional graph.json per container,
// written atomically after each successful ingest.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/helixmem/engine/internal/graph"
	"github.com/helixmem/engine/internal/search"
	"github.com/helixmem/engine/internal/store"
)

type searchPayload struct {
	Chunks []search.Chunk `json:"chunks"`
}

type graphPayload struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// Backend is a store.Backend rooted at a directory; each container gets its
// own subdirectory containing search.json and, when graph data exists,
// graph.json.
type Backend struct {
	root   string
	logger *logrus.Logger
}

// New creates a Backend rooted at root, creating the directory if needed.
func New(root string, logger *logrus.Logger) (*Backend, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Backend{root: root, logger: logger}, nil
}

func (b *Backend) containerDir(tag string) string {
	return filepath.Join(b.root, tag)
}

// Save writes search.json (and graph.json, if non-empty) atomically via a
// temp-file-plus-rename, so a crash mid-write never leaves a truncated file
// visible to a concurrent Load.
func (b *Backend) Save(ctx context.Context, snap store.Snapshot) error {
	dir := b.containerDir(snap.ContainerTag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := writeJSONAtomic(filepath.Join(dir, "search.json"), searchPayload{Chunks: snap.Chunks}); err != nil {
		return err
	}

	if len(snap.Nodes) > 0 || len(snap.Edges) > 0 {
		if err := writeJSONAtomic(filepath.Join(dir, "graph.json"), graphPayload{Nodes: snap.Nodes, Edges: snap.Edges}); err != nil {
			return err
		}
	}

	b.logger.WithFields(logrus.Fields{"container": snap.ContainerTag, "chunks": len(snap.Chunks)}).Debug("snapshot written")
	return nil
}

// Load reads back a container's snapshot, if one exists.
func (b *Backend) Load(ctx context.Context, containerTag string) (store.Snapshot, bool, error) {
	dir := b.containerDir(containerTag)
	searchPath := filepath.Join(dir, "search.json")

	if _, err := os.Stat(searchPath); os.IsNotExist(err) {
		return store.Snapshot{}, false, nil
	}

	var sp searchPayload
	if err := readJSON(searchPath, &sp); err != nil {
		return store.Snapshot{}, false, err
	}

	snap := store.Snapshot{ContainerTag: containerTag, Chunks: sp.Chunks}

	graphPath := filepath.Join(dir, "graph.json")
	if _, err := os.Stat(graphPath); err == nil {
		var gp graphPayload
		if err := readJSON(graphPath, &gp); err != nil {
			return store.Snapshot{}, false, err
		}
		snap.Nodes = gp.Nodes
		snap.Edges = gp.Edges
	}

	return snap, true, nil
}

// Clear deletes the container's directory entirely.
func (b *Backend) Clear(ctx context.Context, containerTag string) error {
	return os.RemoveAll(b.containerDir(containerTag))
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
