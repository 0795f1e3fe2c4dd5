// Package engine wires the chunker, parser, entity graph, hybrid search
// engine, reranker and persistence backend together into the ingest/search
// orchestrator the host application calls.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/helixmem/engine/internal/cache"
	"github.com/helixmem/engine/internal/chunk"
	"github.com/helixmem/engine/internal/config"
	"github.com/helixmem/engine/internal/engineerrors"
	"github.com/helixmem/engine/internal/graph"
	"github.com/helixmem/engine/internal/llm"
	"github.com/helixmem/engine/internal/lock"
	"github.com/helixmem/engine/internal/metrics"
	"github.com/helixmem/engine/internal/parse"
	"github.com/helixmem/engine/internal/pool"
	"github.com/helixmem/engine/internal/rerank"
	"github.com/helixmem/engine/internal/search"
	"github.com/helixmem/engine/internal/store"
)

// Message is one turn of a conversation session.
type Message struct {
	Speaker   string
	Timestamp *time.Time
	Content   string
}

// Session is one external-input conversation to ingest.
type Session struct {
	SessionID string
	Date      string // YYYY-MM-DD
	Messages  []Message
	Metadata  map[string]string
}

// IngestOptions scopes an ingest call to a container.
type IngestOptions struct {
	ContainerTag string
}

// IngestResult is returned by Ingest; DocumentIDs are the chunk ids written.
type IngestResult struct {
	DocumentIDs []string
}

// Progress is the single callback payload AwaitIndexing invokes.
type Progress struct {
	CompletedIDs []string
	FailedIDs    []string
	Total        int
}

// SearchOptions scopes and bounds a search call.
type SearchOptions struct {
	ContainerTag string
	Limit        int
}

// SearchResult is the wire shape returned to the host application: chunk
// results carry content/scores, graph pseudo-results carry Type plus the
// entity/relationship fields and leave scores at zero.
type SearchResult struct {
	Content     string            `json:"content,omitempty"`
	Score       float64           `json:"score"`
	VectorScore float64           `json:"vectorScore"`
	BM25Score   float64           `json:"bm25Score"`
	RerankScore *float64          `json:"rerankScore,omitempty"`
	SessionID   string            `json:"sessionId,omitempty"`
	ChunkIndex  int               `json:"chunkIndex,omitempty"`
	Date        string            `json:"date,omitempty"`
	EventDate   string            `json:"eventDate,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Type       string `json:"_type,omitempty"`
	Name       string `json:"name,omitempty"`
	EntityType string `json:"entityType,omitempty"`
	Source     string `json:"source,omitempty"`
	Target     string `json:"target,omitempty"`
	Relation   string `json:"relation,omitempty"`
}

const defaultSearchLimit = 10

// Provider is the ingest/search orchestrator: one instance per process,
// shared across every container tag it serves.
type Provider struct {
	cfg             *config.Config
	logger          *logrus.Logger
	embedder        llm.Embedder
	extractor       llm.Generator
	extractionModel string
	rerank          *rerank.Driver
	backend         store.Backend
	metrics         *metrics.Collector

	locks *lock.Manager
	pool  *pool.Pool
	cache *cache.ExtractionCache
	index *search.Engine

	// Sleep backs the embedding-retry linear backoff; overridden in tests.
	Sleep func(time.Duration)

	mu     sync.Mutex
	graphs map[string]*graph.Graph
	loaded map[string]bool
}

// New builds a Provider. cfg must already have passed Validate (New
// re-validates and fails the same way "initialize" does in the external
// interface contract: a missing API key is a ConfigError).
func New(cfg *config.Config, logger *logrus.Logger, embedder llm.Embedder, extractor llm.Generator, extractionModel string, rerankDriver *rerank.Driver, backend store.Backend, metricsCollector *metrics.Collector) (*Provider, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Provider{
		cfg:             cfg,
		logger:          logger,
		embedder:        embedder,
		extractor:       extractor,
		extractionModel: extractionModel,
		rerank:          rerankDriver,
		backend:         backend,
		metrics:         metricsCollector,
		locks:           lock.NewManager(),
		pool:            pool.New(cfg.MaxGlobalExtractions, metricsCollector),
		cache:           cache.New(nil, metricsCollector),
		index:           search.New(search.Weights{VectorWeight: cfg.VectorWeight, BM25Weight: cfg.BM25Weight}),
		Sleep:           time.Sleep,
		graphs:          make(map[string]*graph.Graph),
		loaded:          make(map[string]bool),
	}, nil
}

// NewWithCache is New plus an explicit extraction cache store, for
// deployments running more than one engine process that need the
// singleflight dedup backed by a shared store rather than per-process
// memory. extractionStore nil behaves exactly like New.
func NewWithCache(cfg *config.Config, logger *logrus.Logger, embedder llm.Embedder, extractor llm.Generator, extractionModel string, rerankDriver *rerank.Driver, backend store.Backend, metricsCollector *metrics.Collector, extractionStore cache.Store) (*Provider, error) {
	p, err := New(cfg, logger, embedder, extractor, extractionModel, rerankDriver, backend, metricsCollector)
	if err != nil {
		return nil, err
	}
	if extractionStore != nil {
		p.cache = cache.New(extractionStore, metricsCollector)
	}
	return p, nil
}

func (p *Provider) graphFor(tag string) *graph.Graph {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.graphs[tag]
	if !ok {
		g = graph.New(graph.Options{MaxEntities: p.cfg.MaxGraphEntities, MaxRelationships: p.cfg.MaxGraphRelationships})
		p.graphs[tag] = g
	}
	return g
}

func (p *Provider) isLoaded(tag string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[tag]
}

func (p *Provider) setLoaded(tag string, v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded[tag] = v
}

// ensureLoaded lazily restores a container's snapshot into memory the first
// time it is touched. Callers must already hold tag's write lock.
func (p *Provider) ensureLoaded(ctx context.Context, tag string) error {
	if p.isLoaded(tag) || p.backend == nil {
		p.setLoaded(tag, true)
		return nil
	}
	snap, ok, err := p.backend.Load(ctx, tag)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		p.index.Restore(tag, snap.Chunks)
		p.graphFor(tag).Restore(snap.Nodes, snap.Edges)
	} else {
		// Per the propagation policy, an absent container degrades to an
		// empty index rather than surfacing an error: NotFoundError is
		// constructed and logged, never returned to the caller.
		p.logger.WithError(&engineerrors.NotFoundError{ContainerTag: tag}).Debug("container has no persisted snapshot")
	}
	p.setLoaded(tag, true)
	return nil
}

func (p *Provider) ensureLoadedLocking(ctx context.Context, tag string) error {
	if p.isLoaded(tag) {
		return nil
	}
	unlock := p.locks.Lock(tag)
	defer unlock()
	return p.ensureLoaded(ctx, tag)
}

// Ingest extracts, parses, chunks, embeds and indexes every session, then
// writes through to the persistence backend. The whole call holds the
// container's write lock: two ingests on the same tag serialize, and a
// search on the same tag never observes a partial ingest.
func (p *Provider) Ingest(ctx context.Context, sessions []Session, opts IngestOptions) (IngestResult, error) {
	tag := opts.ContainerTag
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveIngest(time.Since(start))
		}
	}()

	unlock := p.locks.Lock(tag)
	defer unlock()

	if err := p.ensureLoaded(ctx, tag); err != nil {
		return IngestResult{}, err
	}

	raws, err := p.extractAll(ctx, sessions)
	if err != nil {
		return IngestResult{}, fmt.Errorf("extraction: %w", err)
	}

	g := p.graphFor(tag)

	type pendingChunk struct {
		id, sessionID, text, date, eventDate string
		chunkIndex                           int
		metadata                             map[string]string
	}
	var pending []pendingChunk

	for i, s := range sessions {
		result := parse.Parse(raws[i])

		for _, e := range result.Entities {
			g.AddEntity(e.Name, e.Type, e.Summary, s.SessionID)
		}
		for _, r := range result.Relationships {
			g.AddRelationship(graph.Edge{Source: r.Source, Relation: r.Relation, Target: r.Target, Date: r.Date, SessionID: s.SessionID})
		}

		memoryText := fmt.Sprintf("# Memories from %s\n\n%s", s.Date, result.MemoryText)
		texts := chunk.Split(memoryText, chunk.Config{ChunkSize: p.cfg.ChunkSize, ChunkOverlap: p.cfg.ChunkOverlap})

		for idx, text := range texts {
			pending = append(pending, pendingChunk{
				id:         fmt.Sprintf("%s_%s_%d", tag, s.SessionID, idx),
				sessionID:  s.SessionID,
				text:       text,
				date:       s.Date,
				eventDate:  parse.EarliestEventDate(text),
				chunkIndex: idx,
				metadata:   s.Metadata,
			})
		}
	}

	documentIDs := make([]string, 0, len(pending))
	texts := make([]string, 0, len(pending))
	for _, pc := range pending {
		documentIDs = append(documentIDs, pc.id)
		texts = append(texts, pc.text)
	}

	embeddings, err := p.embedBatches(ctx, texts)
	if err != nil {
		return IngestResult{}, fmt.Errorf("embedding: %w", err)
	}

	chunks := make([]search.Chunk, 0, len(pending))
	for i, pc := range pending {
		chunks = append(chunks, search.Chunk{
			ID:           pc.id,
			ContainerTag: tag,
			Content:      pc.text,
			SessionID:    pc.sessionID,
			ChunkIndex:   pc.chunkIndex,
			Embedding:    embeddings[i],
			Date:         pc.date,
			EventDate:    pc.eventDate,
			Metadata:     pc.metadata,
		})
	}

	p.index.AddChunks(tag, chunks)

	if p.backend != nil {
		snapChunks := p.index.Snapshot(tag)
		nodes, edges := g.Snapshot()
		if err := p.backend.Save(ctx, store.Snapshot{ContainerTag: tag, Chunks: snapChunks, Nodes: nodes, Edges: edges}); err != nil {
			p.logger.WithError(err).WithField("container", tag).Error("snapshot write failed")
		}
	}

	return IngestResult{DocumentIDs: documentIDs}, nil
}

// AwaitIndexing invokes onProgress once with every document id reported
// complete; Ingest is synchronous so there is nothing left to await.
func (p *Provider) AwaitIndexing(_ context.Context, result IngestResult, _ string, onProgress func(Progress)) error {
	if onProgress != nil {
		onProgress(Progress{CompletedIDs: result.DocumentIDs, FailedIDs: nil, Total: len(result.DocumentIDs)})
	}
	return nil
}

// extractAll runs per-session extraction with EXTRACTION_CONCURRENCY
// in-flight calls at a time; the global pool additionally caps true
// parallelism across every concurrent Ingest call, not just this one.
func (p *Provider) extractAll(ctx context.Context, sessions []Session) ([]string, error) {
	raws := make([]string, len(sessions))
	errs := make([]error, len(sessions))

	concurrency := p.cfg.ExtractionConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, s := range sessions {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, s Session) {
			defer wg.Done()
			defer func() { <-sem }()
			raws[i], errs[i] = p.extractSession(ctx, s)
		}(i, s)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return raws, nil
}

// extractionRetries and extractionBaseDelay implement the 5-attempt,
// 2s·2^n exponential backoff the extraction transport contract requires;
// embedBatches/embedQuery use a lighter 3-attempt linear backoff because
// extraction calls run against a lower concurrency cap and are costlier
// to re-issue.
const extractionRetries = 5
const extractionBaseDelay = 2 * time.Second

func (p *Provider) extractSession(ctx context.Context, s Session) (string, error) {
	return p.cache.GetOrExtract(ctx, s.SessionID, func(ctx context.Context) (string, error) {
		release, err := p.pool.Acquire(ctx)
		if err != nil {
			return "", err
		}
		defer release()

		prompt := buildExtractionPrompt(s)
		var lastErr error
		for attempt := 1; attempt <= extractionRetries; attempt++ {
			out, err := p.extractor.Generate(ctx, p.extractionModel, prompt)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if attempt < extractionRetries {
				p.Sleep(extractionBaseDelay * time.Duration(1<<(attempt-1)))
			}
		}
		return "", engineerrors.NewTransportError("extraction", extractionRetries, lastErr)
	})
}

func buildExtractionPrompt(s Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation on %s:\n", s.Date)
	for _, m := range s.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Speaker, m.Content)
	}
	b.WriteString("\nExtract memories, entities and relationships using the <memories>/<entities>/<relationships> tags.")
	return b.String()
}

// embedBatches embeds texts in EMBEDDING_BATCH_SIZE groups, retrying each
// batch up to 3 times with linear backoff on transport error.
func (p *Provider) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batchSize := p.cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch := texts[start:end]

		var embeddings [][]float32
		var lastErr error
		for attempt := 1; attempt <= 3; attempt++ {
			e, err := p.embedder.EmbedMany(ctx, p.cfg.EmbeddingModel, batch)
			if err == nil {
				embeddings, lastErr = e, nil
				break
			}
			lastErr = err
			if attempt < 3 {
				p.Sleep(time.Duration(attempt) * time.Second)
			}
		}
		if lastErr != nil {
			return nil, engineerrors.NewTransportError("embedder", 3, lastErr)
		}
		out = append(out, embeddings...)
	}
	return out, nil
}

// Search embeds the query, runs hybrid search with overfetch, optionally
// reranks, and appends bounded graph-context pseudo-results for any entity
// mentioned in the query text.
func (p *Provider) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	tag := opts.ContainerTag
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveSearch(time.Since(start))
		}
	}()

	if err := p.ensureLoadedLocking(ctx, tag); err != nil {
		return nil, err
	}

	unlock := p.locks.RLock(tag)
	defer unlock()

	queryEmbedding, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	overfetch := max(limit, p.cfg.RerankOverfetch)
	hybrid := p.index.Search(tag, queryEmbedding, query, overfetch)

	var ranked []search.Result
	if len(hybrid) > limit && p.rerank != nil {
		before := len(hybrid)
		ranked = p.rerank.Rerank(ctx, query, hybrid, limit)
		if p.metrics != nil && rerankerFellBack(ranked, before) {
			p.metrics.RerankFallbacks.Inc()
		}
	} else {
		ranked = hybrid
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
	}

	out := make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, toSearchResult(r))
	}

	g := p.graphFor(tag)
	if seeds := g.FindEntitiesInQuery(query); len(seeds) > 0 {
		sub := g.GetContext(seeds, 2)
		for _, n := range sub.Entities {
			out = append(out, SearchResult{Type: "entity", Name: n.Name, EntityType: n.Type, Content: n.Summary})
		}
		for _, e := range sub.Relationships {
			out = append(out, SearchResult{Type: "relationship", Source: e.Source, Relation: e.Relation, Target: e.Target, Date: e.Date})
		}
	}

	return out, nil
}

// rerankerFellBack reports whether Rerank's output looks like the
// unscored fallback path rather than a scored result (no result carries a
// RerankScore).
func rerankerFellBack(ranked []search.Result, beforeCount int) bool {
	if len(ranked) == 0 {
		return beforeCount > 0
	}
	for _, r := range ranked {
		if r.RerankScore != nil {
			return false
		}
	}
	return true
}

func (p *Provider) embedQuery(ctx context.Context, query string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		v, err := p.embedder.Embed(ctx, p.cfg.EmbeddingModel, query)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt < 3 {
			p.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return nil, engineerrors.NewTransportError("embedder", 3, lastErr)
}

func toSearchResult(r search.Result) SearchResult {
	return SearchResult{
		Content:     r.Chunk.Content,
		Score:       r.Score,
		VectorScore: r.VectorScore,
		BM25Score:   r.BM25Score,
		RerankScore: r.RerankScore,
		SessionID:   r.Chunk.SessionID,
		ChunkIndex:  r.Chunk.ChunkIndex,
		Date:        r.Chunk.Date,
		EventDate:   r.Chunk.EventDate,
		Metadata:    r.Chunk.Metadata,
	}
}

// Clear removes all chunks, entities and relationships for tag, both in
// memory and in the persistence backend.
func (p *Provider) Clear(ctx context.Context, tag string) error {
	unlock := p.locks.Lock(tag)
	defer unlock()

	p.index.Clear(tag)
	p.graphFor(tag).Clear()
	p.setLoaded(tag, false)

	if p.backend == nil {
		return nil
	}
	return p.backend.Clear(ctx, tag)
}
