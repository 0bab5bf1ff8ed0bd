package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// ErrPoolClosed is returned when submitting to a released pool
var ErrPoolClosed = errors.New("worker pool closed")

// Pool is the bounded goroutine pool shared by every coordinator and the
// watcher for file reads, hashing and extraction.
type Pool struct {
	pool *ants.Pool
}

// New creates a pool with size workers, runtime.NumCPU() when size <= 0.
// Submit blocks while every worker is busy.
func New(size int) (*Pool, error) {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p, err := ants.NewPool(size, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Pool{pool: p}, nil
}

// Submit runs task on a pool worker
func (p *Pool) Submit(task func()) error {
	if err := p.pool.Submit(task); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// Cap returns the number of workers
func (p *Pool) Cap() int { return p.pool.Cap() }

// Running returns the number of busy workers
func (p *Pool) Running() int { return p.pool.Running() }

// Release stops the pool; queued submissions fail with ErrPoolClosed
func (p *Pool) Release() {
	p.pool.Release()
}

// Group runs related tasks on the pool and collects the first error.
// The first failure cancels the group's context.
type Group struct {
	pool   *Pool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	once sync.Once
	err  error
}

// NewGroup starts a task group bound to ctx
func (p *Pool) NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{pool: p, ctx: ctx, cancel: cancel}
}

// Context is cancelled when the group fails or its parent is done
func (g *Group) Context() context.Context { return g.ctx }

// Go submits fn. Tasks submitted after the group's context ended are not run.
func (g *Group) Go(fn func(ctx context.Context) error) {
	if g.ctx.Err() != nil {
		g.fail(g.ctx.Err())
		return
	}
	g.wg.Add(1)
	err := g.pool.Submit(func() {
		defer g.wg.Done()
		if g.ctx.Err() != nil {
			g.fail(g.ctx.Err())
			return
		}
		if err := fn(g.ctx); err != nil {
			g.fail(err)
		}
	})
	if err != nil {
		g.wg.Done()
		g.fail(err)
	}
}

// Wait blocks until every submitted task finished and returns the first error
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

func (g *Group) fail(err error) {
	g.once.Do(func() {
		g.err = err
		g.cancel()
	})
}
