package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixmem/engine/internal/metrics"
)

func TestAcquireRespectsCapacity(t *testing.T) {
	p := New(2, nil)
	ctx := context.Background()

	release1, err := p.Acquire(ctx)
	require.NoError(t, err)
	release2, err := p.Acquire(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, p.Outstanding())

	acquired := make(chan struct{})
	go func() {
		release3, err := p.Acquire(ctx)
		require.NoError(t, err)
		close(acquired)
		release3()
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	release1()
	<-acquired
	release2()
}

func TestOutstandingNeverExceedsCapUnderLoad(t *testing.T) {
	p := New(5, nil)
	var wg sync.WaitGroup
	var max int32

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			defer release()
			n := int32(p.Outstanding())
			for {
				old := atomic.LoadInt32(&max)
				if n <= old || atomic.CompareAndSwapInt32(&max, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, max, int32(5))
	assert.Equal(t, 0, p.Outstanding())
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := New(1, nil)
	release, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New(1, nil)
	release, err := p.Acquire(context.Background())
	require.NoError(t, err)

	release()
	release()

	assert.Equal(t, 0, p.Outstanding())
	release2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestAcquireSetsPoolQueueDepthGauge(t *testing.T) {
	m := metrics.New()
	p := New(2, m)

	release1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PoolQueueDepth))

	release2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PoolQueueDepth))

	release1()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PoolQueueDepth))
	release2()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.PoolQueueDepth))
}
