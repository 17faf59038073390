package messaging

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBlocksOverBudget(t *testing.T) {
	l := newMemoryLimiter(100)
	l.acquire(60)
	acquired := make(chan struct{})
	go func() {
		l.acquire(60)
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("acquire should have blocked over budget")
	case <-time.After(100 * time.Millisecond):
	}
	l.release(60)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
	l.release(60)
}

func TestMemoryLimiterOversizedRequestAdmits(t *testing.T) {
	l := newMemoryLimiter(100)
	// An oversized request is clamped to the budget instead of deadlocking
	l.acquire(1000)
	l.release(1000)
	l.acquire(50)
	l.release(50)
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	l := newMemoryLimiter(10)
	var inFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.acquire(5)
			n := atomic.AddInt32(&inFlight, 1)
			require.LessOrEqual(t, n, int32(2))
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			l.release(5)
		}()
	}
	wg.Wait()
}
