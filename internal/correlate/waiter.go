// Package correlate turns "wait for a code addressed to X, with a deadline"
// intents into single-shot hub subscriptions. Both external entry points
// (HTTP and WebSocket) go through the same Waiter, so the one-wait-per-client
// rule holds across them.
package correlate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/codewatch/codewatch/internal/actorutil"
	"github.com/codewatch/codewatch/internal/baselib/actor"
	"github.com/codewatch/codewatch/internal/fanout"
	"github.com/codewatch/codewatch/internal/watch"
)

// pendingWait is one outstanding wait. Its goroutine owns the deadline timer
// and the hub subscription, and always removes both together.
type pendingWait struct {
	subscriberID string
	pattern      fanout.Pattern

	// cancelCh carries the cancellation reason. Buffered so signalling
	// never blocks, even after the wait already resolved.
	cancelCh chan error
}

// Waiter correlates wait intents with extracted events.
type Waiter struct {
	hub     actor.ActorRef[fanout.HubRequest, fanout.HubResponse]
	watcher actor.TellOnlyRef[watch.WatcherRequest]

	mu      sync.Mutex
	pending map[string]*pendingWait
}

// NewWaiter creates a Waiter bound to the fanout hub and the mailbox
// watcher.
func NewWaiter(hub actor.ActorRef[fanout.HubRequest, fanout.HubResponse],
	watcher actor.TellOnlyRef[watch.WatcherRequest]) *Waiter {

	return &Waiter{
		hub:     hub,
		watcher: watcher,
		pending: make(map[string]*pendingWait),
	}
}

// Wait registers a single-shot wait for clientID on the given recipient
// pattern and returns a future that resolves with the matching event, or
// with ErrWaitTimeout, ErrWaitCancelled, or ErrWaitSuperseded.
//
// A client with an outstanding wait has it cancelled (as superseded) before
// the new one is created, even when the new wait times out immediately. A
// non-positive timeout resolves as a timeout without registering anything.
func (w *Waiter) Wait(ctx context.Context, clientID, recipient string,
	timeout time.Duration) actor.Future[fanout.Event] {

	promise := actor.NewPromise[fanout.Event]()

	w.mu.Lock()
	if old, ok := w.pending[clientID]; ok {
		// Drop the entry before signalling so no later wait can signal
		// the same cancel channel twice.
		delete(w.pending, clientID)
		old.cancelCh <- ErrWaitSuperseded
	}

	if timeout <= 0 {
		w.mu.Unlock()
		promise.Complete(fn.Err[fanout.Event](ErrWaitTimeout))
		return promise.Future()
	}

	pattern := fanout.ParsePattern(recipient)
	pw := &pendingWait{
		subscriberID: uuid.NewString(),
		pattern:      pattern,
		cancelCh:     make(chan error, 1),
	}
	w.pending[clientID] = pw
	w.mu.Unlock()

	delivery := make(chan fanout.Event, 1)
	_, err := actorutil.AskAwait[fanout.HubRequest, fanout.HubResponse](
		ctx, w.hub, fanout.SubscribeMsg{
			Pattern:      pattern,
			SubscriberID: pw.subscriberID,
			DeliveryChan: delivery,
		},
	)
	if err != nil {
		w.remove(clientID, pw)
		promise.Complete(fn.Err[fanout.Event](err))
		return promise.Future()
	}

	log.DebugS(ctx, "Wait registered",
		"client_id", clientID, "pattern", pattern.Key(),
		"timeout", timeout)

	// Close the race with mail that arrived before this wait existed.
	w.watcher.Tell(ctx, watch.CheckNowMsg{Reason: "wait registered"})

	go w.runWait(clientID, pw, delivery, timeout, promise)

	return promise.Future()
}

// runWait resolves the wait on first delivery, deadline expiry, or
// cancellation, then tears the timer and subscription down together.
func (w *Waiter) runWait(clientID string, pw *pendingWait,
	delivery <-chan fanout.Event, timeout time.Duration,
	promise actor.Promise[fanout.Event]) {

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ctx := context.Background()

	select {
	case ev := <-delivery:
		log.InfoS(ctx, "Wait resolved with code",
			"client_id", clientID, "code", ev.Code)
		promise.Complete(fn.Ok(ev))

	case <-timer.C:
		log.DebugS(ctx, "Wait timed out",
			"client_id", clientID, "pattern", pw.pattern.Key())
		promise.Complete(fn.Err[fanout.Event](ErrWaitTimeout))

	case reason := <-pw.cancelCh:
		log.DebugS(ctx, "Wait cancelled",
			"client_id", clientID, "reason", reason)
		promise.Complete(fn.Err[fanout.Event](reason))
	}

	w.hub.Tell(ctx, fanout.UnsubscribeMsg{
		Pattern:      pw.pattern,
		SubscriberID: pw.subscriberID,
	})
	w.remove(clientID, pw)
}

// Cancel drops clientID's outstanding wait, resolving its future with
// ErrWaitCancelled. Cancelling a client with no wait is a no-op.
func (w *Waiter) Cancel(clientID string) bool {
	w.mu.Lock()
	pw, ok := w.pending[clientID]
	if ok {
		delete(w.pending, clientID)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}

	pw.cancelCh <- ErrWaitCancelled
	return true
}

// PendingCount returns the number of outstanding waits.
func (w *Waiter) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// remove deletes the pending entry, but only if it still belongs to this
// wait; a superseding wait may have replaced it already.
func (w *Waiter) remove(clientID string, pw *pendingWait) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cur, ok := w.pending[clientID]; ok && cur == pw {
		delete(w.pending, clientID)
	}
}
