// Package queue serializes outbound upstream calls. Work is dispatched in FIFO
// order with at most MaxConcurrent items in flight.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// MaxConcurrent is the in-flight ceiling. The upstream rate-limits aggressively,
// so calls go out one at a time.
const MaxConcurrent = 1

// Work is a unit of queued work.
type Work func(ctx context.Context) (any, error)

// Future is the eventual outcome of a queued Work.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

// Done is closed once the work has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the work settles or ctx is done. Returning early on ctx does
// not cancel the work; its result is simply discarded.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) settle(val any, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

type task struct {
	ctx    context.Context
	work   Work
	future *Future
}

// Queue is a FIFO work queue.
type Queue struct {
	mu      sync.Mutex
	pending []*task
	active  int
	limiter *rate.Limiter
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// WithMinInterval spaces dispatches at least d apart. Zero disables spacing.
func (q *Queue) WithMinInterval(d time.Duration) *Queue {
	q.mu.Lock()
	defer q.mu.Unlock()
	if d <= 0 {
		q.limiter = nil
		return q
	}
	q.limiter = rate.NewLimiter(rate.Every(d), 1)
	return q
}

// Add enqueues work and returns its future. The work runs with ctx once it
// reaches the head of the queue and a slot is free.
func (q *Queue) Add(ctx context.Context, work Work) *Future {
	t := &task{
		ctx:    ctx,
		work:   work,
		future: &Future{done: make(chan struct{})},
	}

	q.mu.Lock()
	q.pending = append(q.pending, t)
	log.Debug().Int("pending", len(q.pending)).Int("active", q.active).Msg("Queued upstream request")
	q.mu.Unlock()

	q.process()
	return t.future
}

// Do enqueues fn and waits for its typed result.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	future := q.Add(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})

	var zero T
	val, err := future.Wait(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected queue result type %T", val)
	}
	return typed, nil
}

// Pending returns the number of tasks waiting to be dispatched.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of tasks currently running.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// process promotes pending tasks while capacity allows. The capacity check and
// the increment happen under one lock.
func (q *Queue) process() {
	for {
		q.mu.Lock()
		if q.active >= MaxConcurrent || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		t := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		if err := t.ctx.Err(); err != nil {
			q.mu.Unlock()
			t.future.settle(nil, err)
			continue
		}

		q.active++
		limiter := q.limiter
		q.mu.Unlock()

		go q.run(t, limiter)
	}
}

func (q *Queue) run(t *task, limiter *rate.Limiter) {
	val, err := q.execute(t, limiter)
	t.future.settle(val, err)

	q.mu.Lock()
	q.active--
	q.mu.Unlock()

	q.process()
}

func (q *Queue) execute(t *task, limiter *rate.Limiter) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic in queued request")
			val, err = nil, fmt.Errorf("queued request panicked: %v", r)
		}
	}()

	if limiter != nil {
		if err := limiter.Wait(t.ctx); err != nil {
			return nil, err
		}
	}
	return t.work(t.ctx)
}
