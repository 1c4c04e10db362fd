package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs tasks on at most Concurrency goroutines. Go blocks while the
// pool is full. The first task error cancels Context(); tasks report
// per-item failures some other way and return an error only when the
// whole run must stop.
type Pool struct {
	g   *errgroup.Group
	ctx context.Context
}

func NewPool(ctx context.Context, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	return &Pool{g: g, ctx: gctx}
}

// Context is cancelled when the parent is or a task fails
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Go schedules task, blocking until a slot is free. It returns false
// without running task once the pool's context is done.
func (p *Pool) Go(task func(ctx context.Context) error) bool {
	if p.ctx.Err() != nil {
		return false
	}
	p.g.Go(func() error {
		if err := p.ctx.Err(); err != nil {
			return nil
		}
		return task(p.ctx)
	})
	return true
}

// Wait blocks until every scheduled task finished and returns the first
// task error
func (p *Pool) Wait() error {
	return p.g.Wait()
}
