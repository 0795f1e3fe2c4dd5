// Package cache implements the process-wide extraction cache and in-flight
// deduplication described in the concurrency model: completed extractions
// are cached by sessionId, and concurrent callers for the same session
// share one underlying call via golang.org/x/sync/singleflight.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/helixmem/engine/internal/metrics"
)

// Store is the pluggable backing store for completed extraction text. The
// in-process Memory store is always available; Redis is an optional
// multi-instance-capable alternative with the same contract.
type Store interface {
	Get(ctx context.Context, sessionID string) (string, bool, error)
	Set(ctx context.Context, sessionID, text string) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore is a process-local Store guarded by a RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates an empty in-memory extraction cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[sessionID]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = text
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// ExtractionCache combines a Store with singleflight-based in-flight
// deduplication, so two concurrent extraction requests for the same
// sessionId invoke the underlying extractor exactly once.
type ExtractionCache struct {
	store   Store
	group   singleflight.Group
	metrics *metrics.Collector
}

// New wraps store with in-flight deduplication. A nil store uses an
// in-memory MemoryStore. metrics may be nil.
func New(store Store, m *metrics.Collector) *ExtractionCache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &ExtractionCache{store: store, metrics: m}
}

// GetOrExtract returns the cached extraction for sessionID if present,
// otherwise calls extract exactly once even under concurrent callers for
// the same sessionID, caching and returning its result.
func (c *ExtractionCache) GetOrExtract(ctx context.Context, sessionID string, extract func(context.Context) (string, error)) (string, error) {
	if v, ok, err := c.store.Get(ctx, sessionID); err == nil && ok {
		c.recordHit()
		return v, nil
	}

	v, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		if cached, ok, err := c.store.Get(ctx, sessionID); err == nil && ok {
			c.recordHit()
			return cached, nil
		}
		c.recordMiss()
		result, err := extract(ctx)
		if err != nil {
			return "", err
		}
		if err := c.store.Set(ctx, sessionID, result); err != nil {
			return result, nil
		}
		return result, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *ExtractionCache) recordHit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *ExtractionCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

// Invalidate removes sessionID from the cache, e.g. after a container clear.
func (c *ExtractionCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.store.Delete(ctx, sessionID)
}
