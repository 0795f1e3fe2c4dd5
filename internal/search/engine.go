// Package search implements the hybrid search engine: a per-container
// cosine-similarity vector index plus a BM25-style lexical index, fused by
// the fixed 0.7/0.3 weighted scheme fixed by the external contract.
package search

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Chunk is the unit the engine indexes and returns.
type Chunk struct {
	ID           string            `json:"id"`
	ContainerTag string            `json:"containerTag"`
	Content      string            `json:"content"`
	SessionID    string            `json:"sessionId"`
	ChunkIndex   int               `json:"chunkIndex"`
	Embedding    []float32         `json:"embedding"`
	Date         string            `json:"date,omitempty"`
	EventDate    string            `json:"eventDate,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Result pairs a chunk with its fused and component scores. RerankScore is
// nil until a reranker has scored the result.
type Result struct {
	Chunk       Chunk
	Score       float64
	VectorScore float64
	BM25Score   float64
	RerankScore *float64
}

// Weights controls the fusion formula. VectorWeight + BM25Weight should sum
// to 1; Engine does not enforce this itself (config.Validate does).
type Weights struct {
	VectorWeight float64
	BM25Weight   float64
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

func tokenize(s string) []string {
	return tokenPattern.FindAllString(strings.ToLower(s), -1)
}

type containerIndex struct {
	chunks  map[string]*Chunk
	order   []string // insertion order of ids, for stable iteration
	docFreq map[string]int
	termTF  map[string]map[string]int // chunk id -> term -> count
}

func newContainerIndex() *containerIndex {
	return &containerIndex{
		chunks:  make(map[string]*Chunk),
		docFreq: make(map[string]int),
		termTF:  make(map[string]map[string]int),
	}
}

// Engine owns one containerIndex per tag, guarded by its own mutex. Callers
// are expected to additionally hold the appropriate per-container lock from
// package lock for the write-then-persist ordering guarantee; Engine itself
// only guarantees its own internal consistency.
type Engine struct {
	mu      sync.RWMutex
	weights Weights
	tags    map[string]*containerIndex
}

// New creates an empty Engine using the given fusion weights.
func New(weights Weights) *Engine {
	if weights.VectorWeight == 0 && weights.BM25Weight == 0 {
		weights = Weights{VectorWeight: 0.7, BM25Weight: 0.3}
	}
	return &Engine{weights: weights, tags: make(map[string]*containerIndex)}
}

func (e *Engine) indexFor(tag string) *containerIndex {
	idx, ok := e.tags[tag]
	if !ok {
		idx = newContainerIndex()
		e.tags[tag] = idx
	}
	return idx
}

// AddChunks upserts chunks by id. Re-adding an id replaces its content and
// embedding and updates the lexical index accordingly.
func (e *Engine) AddChunks(tag string, chunks []Chunk) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexFor(tag)
	for _, c := range chunks {
		cc := c
		cc.ContainerTag = tag
		if _, exists := idx.chunks[cc.ID]; exists {
			idx.removeFromLexicalIndex(cc.ID)
		} else {
			idx.order = append(idx.order, cc.ID)
		}
		idx.chunks[cc.ID] = &cc
		idx.addToLexicalIndex(cc.ID, cc.Content)
	}
}

func (ci *containerIndex) addToLexicalIndex(id, content string) {
	tf := make(map[string]int)
	for _, tok := range tokenize(content) {
		tf[tok]++
	}
	ci.termTF[id] = tf
	for term := range tf {
		ci.docFreq[term]++
	}
}

func (ci *containerIndex) removeFromLexicalIndex(id string) {
	tf, ok := ci.termTF[id]
	if !ok {
		return
	}
	for term := range tf {
		ci.docFreq[term]--
		if ci.docFreq[term] <= 0 {
			delete(ci.docFreq, term)
		}
	}
	delete(ci.termTF, id)
}

func (ci *containerIndex) avgDocLen() float64 {
	if len(ci.termTF) == 0 {
		return 0
	}
	total := 0
	for _, tf := range ci.termTF {
		for _, c := range tf {
			total += c
		}
	}
	return float64(total) / float64(len(ci.termTF))
}

func (ci *containerIndex) docLen(id string) int {
	total := 0
	for _, c := range ci.termTF[id] {
		total += c
	}
	return total
}

// bm25Score computes the raw (unnormalized) BM25 score of id against the
// tokenized query terms.
func (ci *containerIndex) bm25Score(id string, queryTerms []string) float64 {
	tf, ok := ci.termTF[id]
	if !ok {
		return 0
	}
	n := float64(len(ci.termTF))
	avgLen := ci.avgDocLen()
	dl := float64(ci.docLen(id))

	var score float64
	seen := make(map[string]bool)
	for _, term := range queryTerms {
		if seen[term] {
			continue
		}
		seen[term] = true
		freq := float64(tf[term])
		if freq == 0 {
			continue
		}
		df := float64(ci.docFreq[term])
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		denom := freq + bm25K1*(1-bm25B+bm25B*dl/maxf(avgLen, 1))
		score += idf * (freq * (bm25K1 + 1) / denom)
	}
	return score
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Search performs the documented hybrid search: top-limit by cosine
// similarity, lexical scoring restricted to that candidate set, max-
// normalization within the set, and weighted fusion.
func (e *Engine) Search(tag string, queryEmbedding []float32, queryText string, limit int) []Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	idx, ok := e.tags[tag]
	if !ok || limit <= 0 {
		return nil
	}

	type scored struct {
		id     string
		vector float64
	}
	candidates := make([]scored, 0, len(idx.chunks))
	for id, c := range idx.chunks {
		candidates = append(candidates, scored{id: id, vector: cosineSimilarity(queryEmbedding, c.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].vector > candidates[j].vector })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	queryTerms := tokenize(queryText)
	rawLexical := make(map[string]float64, len(candidates))
	maxLexical := 0.0
	for _, c := range candidates {
		s := idx.bm25Score(c.id, queryTerms)
		rawLexical[c.id] = s
		if s > maxLexical {
			maxLexical = s
		}
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		normLexical := 0.0
		if maxLexical > 0 {
			normLexical = rawLexical[c.id] / maxLexical
		}
		vectorScore := clamp01(c.vector)
		fused := e.weights.VectorWeight*vectorScore + e.weights.BM25Weight*normLexical
		results = append(results, Result{
			Chunk:       *idx.chunks[c.id],
			Score:       fused,
			VectorScore: vectorScore,
			BM25Score:   normLexical,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// HasData reports whether tag has any indexed chunks.
func (e *Engine) HasData(tag string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.tags[tag]
	return ok && len(idx.chunks) > 0
}

// ChunkCount returns the number of indexed chunks for tag.
func (e *Engine) ChunkCount(tag string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.tags[tag]
	if !ok {
		return 0
	}
	return len(idx.chunks)
}

// Clear removes all chunks and lexical index state for tag.
func (e *Engine) Clear(tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tags, tag)
}

// Snapshot returns every chunk currently indexed for tag, in insertion
// order, for serialization.
func (e *Engine) Snapshot(tag string) []Chunk {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.tags[tag]
	if !ok {
		return nil
	}
	out := make([]Chunk, 0, len(idx.order))
	for _, id := range idx.order {
		if c, ok := idx.chunks[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}

// Restore replaces tag's state with chunks from a prior Snapshot.
func (e *Engine) Restore(tag string, chunks []Chunk) {
	e.mu.Lock()
	delete(e.tags, tag)
	e.mu.Unlock()
	e.AddChunks(tag, chunks)
}
