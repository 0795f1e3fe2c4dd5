// Package pool implements the process-global, rate-limited extraction task
// pool: at most MaxGlobalExtractions acquires may be outstanding at once,
// with additional callers queued and resumed in arrival order.
package pool

import (
	"context"
	"sync"

	"github.com/helixmem/engine/internal/metrics"
)

// Pool is a FIFO-fair counting semaphore. Go channels already serve blocked
// senders in arrival order, so a buffered channel is sufficient to implement
// the documented FIFO wait queue without a separate queue data structure.
type Pool struct {
	slots   chan struct{}
	mu      sync.Mutex
	inUse   int
	metrics *metrics.Collector
}

// New creates a Pool bounding concurrent acquires at max. metrics may be nil.
func New(max int, m *metrics.Collector) *Pool {
	if max <= 0 {
		max = 1
	}
	return &Pool{slots: make(chan struct{}, max), metrics: m}
}

// Acquire blocks until a slot is free or ctx is cancelled. On success, the
// caller must call the returned release func exactly once, in every exit
// path (success, failure, or cancellation upstream), to avoid leaking slots.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.slots <- struct{}{}:
		p.mu.Lock()
		p.inUse++
		outstanding := p.inUse
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PoolQueueDepth.Set(float64(outstanding))
		}
		released := false
		return func() {
			if released {
				return
			}
			released = true
			p.mu.Lock()
			p.inUse--
			outstanding := p.inUse
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.PoolQueueDepth.Set(float64(outstanding))
			}
			<-p.slots
		}, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// Outstanding returns the number of currently held slots.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity returns the maximum number of concurrently held slots.
func (p *Pool) Capacity() int {
	return cap(p.slots)
}
