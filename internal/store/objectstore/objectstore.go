package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/helixmem/engine/internal/engineerrors"
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

// Backend is a store.Backend that keeps one bucket with two objects per
// container: "<tag>/search.json" and "<tag>/graph.json" (the latter only
// when graph data exists). It is the same JSON wire shape as the file
// snapshot backend, for deployments without a local writable filesystem.
type Backend struct {
	client *Client
	bucket string
}

// NewBackend wraps an already-connected Client, ensuring bucket exists.
func NewBackend(ctx context.Context, client *Client, bucket string) (*Backend, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.CreateBucket(ctx, bucket); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Backend{client: client, bucket: bucket}, nil
}

func searchKey(tag string) string { return tag + "/search.json" }
func graphKey(tag string) string  { return tag + "/graph.json" }

func (b *Backend) Save(ctx context.Context, snap store.Snapshot) error {
	if err := b.putJSON(ctx, searchKey(snap.ContainerTag), searchPayload{Chunks: snap.Chunks}); err != nil {
		return err
	}
	if len(snap.Nodes) > 0 || len(snap.Edges) > 0 {
		if err := b.putJSON(ctx, graphKey(snap.ContainerTag), graphPayload{Nodes: snap.Nodes, Edges: snap.Edges}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Load(ctx context.Context, containerTag string) (store.Snapshot, bool, error) {
	var sp searchPayload
	ok, err := b.getJSON(ctx, searchKey(containerTag), &sp)
	if err != nil {
		return store.Snapshot{}, false, err
	}
	if !ok {
		return store.Snapshot{}, false, nil
	}

	snap := store.Snapshot{ContainerTag: containerTag, Chunks: sp.Chunks}

	var gp graphPayload
	if ok, err := b.getJSON(ctx, graphKey(containerTag), &gp); err != nil {
		return store.Snapshot{}, false, err
	} else if ok {
		snap.Nodes = gp.Nodes
		snap.Edges = gp.Edges
	}

	return snap, true, nil
}

func (b *Backend) Clear(ctx context.Context, containerTag string) error {
	if err := b.client.DeleteObject(ctx, b.bucket, searchKey(containerTag)); err != nil {
		return err
	}
	return b.client.DeleteObject(ctx, b.bucket, graphKey(containerTag))
}

func (b *Backend) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)))
}

func (b *Backend) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key)
	if err != nil {
		if engineerrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}
