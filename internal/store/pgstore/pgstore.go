package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/helixmem/engine/internal/graph"
	"github.com/helixmem/engine/internal/search"
	"github.com/helixmem/engine/internal/store"
)

const (
	chunksTable        = "chunks"
	entitiesTable      = "entities"
	relationshipsTable = "relationships"
)

// Backend is a store.Backend backed by three Postgres tables: chunks (with
// a pgvector embedding column), entities and relationships (plain relational
// rows keyed by container). It is the backend of choice when a deployment
// already runs Postgres and wants snapshot state queryable with SQL, instead
// of opaque JSON blobs on disk or in object storage.
type Backend struct {
	client    *Client
	dimension int
}

// NewBackend wraps an already-connected Client and ensures the three tables
// and the chunks vector index exist. dimension is the embedding width used
// by the configured embedder; it is fixed at table-creation time because
// pgvector columns are dimension-typed.
func NewBackend(ctx context.Context, client *Client, dimension int) (*Backend, error) {
	b := &Backend{client: client, dimension: dimension}
	if err := b.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *Backend) migrate(ctx context.Context) error {
	if err := runMigrations(ctx, b.client.config.ConnectionString(), b.client.logger); err != nil {
		return fmt.Errorf("schema migrations: %w", err)
	}

	pool := b.client.pool

	createChunks := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		container TEXT NOT NULL,
		content TEXT NOT NULL,
		session_id TEXT,
		chunk_index INTEGER,
		date TEXT,
		event_date TEXT,
		metadata JSONB,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, chunksTable, b.dimension)
	if _, err := pool.Exec(ctx, createChunks); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_container_idx ON chunks (container)`); err != nil {
		return fmt.Errorf("create container index: %w", err)
	}

	// HNSW + cosine distance is the only index/metric combination this
	// engine ever queries with (see loadChunks and the search package),
	// so the index is built for that shape directly rather than through
	// a generic index-type/metric switch.
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw
		ON chunks USING hnsw (embedding vector_cosine_ops)`); err != nil {
		return fmt.Errorf("create embedding index: %w", err)
	}

	return nil
}

// Save upserts every chunk, entity and relationship belonging to the
// container. Rows for entities/relationships no longer present in the
// snapshot are left in place; callers that need exact replacement call
// Clear first (the engine does this on re-ingest of a whole container).
func (b *Backend) Save(ctx context.Context, snap store.Snapshot) error {
	if err := b.saveChunks(ctx, snap.ContainerTag, snap.Chunks); err != nil {
		return fmt.Errorf("save chunks: %w", err)
	}
	if err := b.saveEntities(ctx, snap.ContainerTag, snap.Nodes); err != nil {
		return fmt.Errorf("save entities: %w", err)
	}
	if err := b.saveRelationships(ctx, snap.ContainerTag, snap.Edges); err != nil {
		return fmt.Errorf("save relationships: %w", err)
	}
	return nil
}

func (b *Backend) saveChunks(ctx context.Context, containerTag string, chunks []search.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		metaJSON := ""
		if len(c.Metadata) > 0 {
			if raw, err := json.Marshal(c.Metadata); err == nil {
				metaJSON = string(raw)
			}
		}
		batch.Queue(`INSERT INTO chunks (id, embedding, container, content, session_id, chunk_index, date, event_date, metadata, updated_at)
			VALUES ($1, $2::vector, $3, $4, $5, $6, $7, $8, $9, NOW())
			ON CONFLICT (id) DO UPDATE SET
				embedding = EXCLUDED.embedding, container = EXCLUDED.container, content = EXCLUDED.content,
				session_id = EXCLUDED.session_id, chunk_index = EXCLUDED.chunk_index, date = EXCLUDED.date,
				event_date = EXCLUDED.event_date, metadata = EXCLUDED.metadata, updated_at = NOW()`,
			c.ID, vectorToString(c.Embedding), containerTag, c.Content, c.SessionID, c.ChunkIndex, c.Date, c.EventDate, metaJSON)
	}

	br := b.client.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) saveEntities(ctx context.Context, containerTag string, nodes []graph.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	pool := b.client.pool
	for _, n := range nodes {
		ids := make([]string, 0, len(n.SessionIDs))
		for id := range n.SessionIDs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		_, err := pool.Exec(ctx, `INSERT INTO entities (container, name, type, summary, session_ids)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (container, name) DO UPDATE SET
				type = EXCLUDED.type, summary = EXCLUDED.summary, session_ids = EXCLUDED.session_ids`,
			containerTag, n.Name, n.Type, n.Summary, ids)
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) saveRelationships(ctx context.Context, containerTag string, edges []graph.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	pool := b.client.pool
	for _, e := range edges {
		_, err := pool.Exec(ctx, `INSERT INTO relationships (container, source, target, relation, date, session_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (container, source, target, relation) DO UPDATE SET
				date = EXCLUDED.date, session_id = EXCLUDED.session_id`,
			containerTag, e.Source, e.Target, e.Relation, e.Date, e.SessionID)
		if err != nil {
			return err
		}
	}
	return nil
}

// Load reconstructs a full Snapshot for the container from the three
// tables. ok is false only when the container has no chunk rows at all.
func (b *Backend) Load(ctx context.Context, containerTag string) (store.Snapshot, bool, error) {
	chunks, err := b.loadChunks(ctx, containerTag)
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return store.Snapshot{}, false, nil
	}

	nodes, err := b.loadEntities(ctx, containerTag)
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("load entities: %w", err)
	}
	edges, err := b.loadRelationships(ctx, containerTag)
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("load relationships: %w", err)
	}

	return store.Snapshot{ContainerTag: containerTag, Chunks: chunks, Nodes: nodes, Edges: edges}, true, nil
}

func (b *Backend) loadChunks(ctx context.Context, containerTag string) ([]search.Chunk, error) {
	pool := b.client.pool
	// embedding is cast to text and parsed by hand rather than scanned as a
	// native vector type: pgx has no built-in codec for pgvector's "vector"
	// OID without registering the pgvector-go extension type, which nothing
	// else in this module pulls in.
	rows, err := pool.Query(ctx, `SELECT id, content, session_id, chunk_index, date, event_date, metadata, embedding::text
		FROM chunks WHERE container = $1 ORDER BY chunk_index`, containerTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []search.Chunk
	for rows.Next() {
		var c search.Chunk
		var metaRaw *string
		var embeddingText string
		if err := rows.Scan(&c.ID, &c.Content, &c.SessionID, &c.ChunkIndex, &c.Date, &c.EventDate, &metaRaw, &embeddingText); err != nil {
			return nil, err
		}
		c.ContainerTag = containerTag
		c.Embedding = parseVectorText(embeddingText)
		if metaRaw != nil && *metaRaw != "" {
			var meta map[string]string
			if err := json.Unmarshal([]byte(*metaRaw), &meta); err == nil {
				c.Metadata = meta
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (b *Backend) loadEntities(ctx context.Context, containerTag string) ([]graph.Node, error) {
	pool := b.client.pool
	rows, err := pool.Query(ctx, `SELECT name, type, summary, session_ids FROM entities WHERE container = $1`, containerTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var n graph.Node
		var ids []string
		if err := rows.Scan(&n.Name, &n.Type, &n.Summary, &ids); err != nil {
			return nil, err
		}
		n.SessionIDs = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			n.SessionIDs[id] = struct{}{}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (b *Backend) loadRelationships(ctx context.Context, containerTag string) ([]graph.Edge, error) {
	pool := b.client.pool
	rows, err := pool.Query(ctx, `SELECT source, target, relation, date, session_id FROM relationships WHERE container = $1`, containerTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &e.Date, &e.SessionID); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Clear deletes every chunk, entity and relationship row for the container.
func (b *Backend) Clear(ctx context.Context, containerTag string) error {
	pool := b.client.pool
	if _, err := pool.Exec(ctx, `DELETE FROM chunks WHERE container = $1`, containerTag); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM entities WHERE container = $1`, containerTag); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM relationships WHERE container = $1`, containerTag); err != nil {
		return fmt.Errorf("clear relationships: %w", err)
	}
	return nil
}

// parseVectorText parses pgvector's text representation ("[0.1,0.2,0.3]"),
// the inverse of vectorToString, back into a float32 slice.
func parseVectorText(s string) []float32 {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			continue
		}
		out = append(out, float32(f))
	}
	return out
}

// vectorToString renders a float32 slice in pgvector's text input format
// ("[0.1,0.2,0.3]") so it can be bound to a ::vector parameter.
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
