package actor

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// envelope wraps a message with its associated promise and caller context. A
// nil promise marks a tell (fire-and-forget) operation; a non-nil promise
// marks an ask awaiting a response.
type envelope[M Message, R any] struct {
	message   M
	promise   Promise[R]
	callerCtx context.Context
}

// ChannelMailbox is a Mailbox backed by a buffered Go channel. Sends hold a
// read lock for their whole duration so Close (which takes the write lock)
// can never close the channel out from under an in-flight send.
type ChannelMailbox[M Message, R any] struct {
	ch chan envelope[M, R]

	// closed is read lock-free on the send fast path.
	closed atomic.Bool

	mu        sync.RWMutex
	closeOnce sync.Once

	// actorCtx is the owning actor's lifecycle context. Receives stop when
	// it is cancelled.
	actorCtx context.Context
}

// NewChannelMailbox creates a channel-backed mailbox with the given capacity.
// Capacity values below one are clamped to one so the mailbox is always
// buffered.
func NewChannelMailbox[M Message, R any](
	actorCtx context.Context, capacity int,
) *ChannelMailbox[M, R] {

	if capacity <= 0 {
		capacity = 1
	}

	return &ChannelMailbox[M, R]{
		ch:       make(chan envelope[M, R], capacity),
		actorCtx: actorCtx,
	}
}

// Send blocks until the envelope is accepted or either context is cancelled.
func (m *ChannelMailbox[M, R]) Send(ctx context.Context,
	env envelope[M, R]) bool {

	if ctx.Err() != nil || m.actorCtx.Err() != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false
	}

	select {
	case m.ch <- env:
		return true

	case <-ctx.Done():
		return false

	case <-m.actorCtx.Done():
		return false
	}
}

// TrySend attempts a non-blocking enqueue.
func (m *ChannelMailbox[M, R]) TrySend(env envelope[M, R]) bool {
	if m.actorCtx.Err() != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false
	}

	select {
	case m.ch <- env:
		return true
	default:
		return false
	}
}

// Receive returns an iterator over envelopes in the mailbox. The context is
// checked before every receive so shutdown is deterministic rather than
// racing the ready channel in the select.
func (m *ChannelMailbox[M, R]) Receive(
	ctx context.Context) iter.Seq[envelope[M, R]] {

	return func(yield func(envelope[M, R]) bool) {
		for {
			if ctx.Err() != nil {
				return
			}

			select {
			case env, ok := <-m.ch:
				if !ok {
					return
				}
				if !yield(env) {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}
}

// Close closes the mailbox, preventing any further sends. Safe to call more
// than once.
func (m *ChannelMailbox[M, R]) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		log.DebugS(m.actorCtx, "Mailbox closing",
			"remaining_messages", len(m.ch))

		m.closed.Store(true)
		close(m.ch)
	})
}

// IsClosed reports whether the mailbox has been closed.
func (m *ChannelMailbox[M, R]) IsClosed() bool {
	return m.closed.Load()
}

// Drain yields any envelopes left after Close without blocking. Calling it
// on an open mailbox returns immediately.
func (m *ChannelMailbox[M, R]) Drain() iter.Seq[envelope[M, R]] {
	return func(yield func(envelope[M, R]) bool) {
		if !m.IsClosed() {
			return
		}

		for {
			select {
			case env, ok := <-m.ch:
				if !ok {
					return
				}
				if !yield(env) {
					return
				}

			default:
				return
			}
		}
	}
}
