package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// promise is the single implementation of both Promise and Future. The result
// is published exactly once by closing the done channel, after which any
// number of consumers may read it without synchronization.
type promise[T any] struct {
	// done is closed once the result has been stored.
	done chan struct{}

	// once guards the transition from pending to completed.
	once sync.Once

	// result holds the outcome. Only written before done is closed.
	result fn.Result[T]
}

// NewPromise creates a new unresolved promise.
func NewPromise[T any]() Promise[T] {
	return &promise[T]{
		done: make(chan struct{}),
	}
}

// Complete attempts to set the result. Only the first call wins; later calls
// report false and leave the stored result untouched.
func (p *promise[T]) Complete(result fn.Result[T]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})

	return completed
}

// Future returns the consumer-side view of this promise.
func (p *promise[T]) Future() Future[T] {
	return p
}

// Await blocks until the promise is completed or the context is cancelled.
func (p *promise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// OnComplete invokes f with the result once available, from a fresh
// goroutine. If the context is cancelled first, f receives the context error
// instead.
func (p *promise[T]) OnComplete(ctx context.Context, f func(fn.Result[T])) {
	go func() {
		f(p.Await(ctx))
	}()
}
