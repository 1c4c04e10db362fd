package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(context.Background(), 3)
	var running, peak int32
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		p.Go(func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestPool_ErrorCancelsRest(t *testing.T) {
	p := NewPool(context.Background(), 1)
	fatal := errors.New("fatal")

	p.Go(func(ctx context.Context) error { return fatal })
	// blocks until the first task finished and cancelled the pool
	started := p.Go(func(ctx context.Context) error {
		t.Error("task ran after the pool was cancelled")
		return nil
	})
	if err := p.Wait(); !errors.Is(err, fatal) {
		t.Errorf("Wait() = %v, want fatal", err)
	}
	if started && p.Context().Err() == nil {
		t.Error("pool context not cancelled")
	}
}
