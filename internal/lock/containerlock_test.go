package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMultipleReadersConcurrent(t *testing.T) {
	m := NewManager()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.RLock("t1")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Greater(t, maxActive, int32(1))
}

func TestWriterExcludesReaders(t *testing.T) {
	m := NewManager()
	var writerActive int32
	var violation int32
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		unlock := m.Lock("t1")
		atomic.StoreInt32(&writerActive, 1)
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&writerActive, 0)
		unlock()
	}()

	time.Sleep(5 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		unlock := m.RLock("t1")
		defer unlock()
		if atomic.LoadInt32(&writerActive) == 1 {
			atomic.StoreInt32(&violation, 1)
		}
	}()

	wg.Wait()
	assert.Equal(t, int32(0), violation)
}

func TestDisjointTagsNeverBlock(t *testing.T) {
	m := NewManager()
	done := make(chan struct{})

	unlockA := m.Lock("a")
	go func() {
		m.WithLock("b", func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operation on disjoint tag blocked")
	}
	unlockA()
}

func TestWithLockHelpers(t *testing.T) {
	m := NewManager()
	ran := false
	m.WithLock("t1", func() { ran = true })
	assert.True(t, ran)

	m.WithRLock("t1", func() { ran = true })
	assert.True(t, ran)
}
