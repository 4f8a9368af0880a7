package actor

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// defaultCleanupTimeout bounds how long a Stoppable behavior may spend in
// OnStop during shutdown.
const defaultCleanupTimeout = 5 * time.Second

// Config holds the parameters for creating a new Actor. It is generic over M
// (message type) and R (response type) to match the actor's behavior.
type Config[M Message, R any] struct {
	// ID is the unique identifier for the actor.
	ID string

	// Behavior defines how the actor responds to messages.
	Behavior Behavior[M, R]

	// MailboxSize is the buffer capacity of the actor's mailbox.
	MailboxSize int

	// Wg, if non-nil, tracks the actor goroutine's lifecycle: Add(1) on
	// Start, Done() when the process loop exits. This is what makes
	// system shutdown deterministic.
	Wg *sync.WaitGroup

	// CleanupTimeout bounds OnStop cleanup. Zero means the default.
	CleanupTimeout time.Duration
}

// Actor encapsulates a behavior and processes messages from its mailbox
// sequentially in its own goroutine. All behavior state is therefore mutated
// from a single goroutine and needs no locking.
type Actor[M Message, R any] struct {
	id       string
	behavior Behavior[M, R]
	mailbox  Mailbox[M, R]

	ctx    context.Context
	cancel context.CancelFunc

	wg             *sync.WaitGroup
	cleanupTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once

	ref ActorRef[M, R]
}

// New creates a new actor instance. The message loop does not run until
// Start is called.
func New[M Message, R any](cfg Config[M, R]) *Actor[M, R] {
	ctx, cancel := context.WithCancel(context.Background())

	capacity := cfg.MailboxSize
	if capacity <= 0 {
		capacity = 1
	}

	cleanup := cfg.CleanupTimeout
	if cleanup <= 0 {
		cleanup = defaultCleanupTimeout
	}

	a := &Actor[M, R]{
		id:             cfg.ID,
		behavior:       cfg.Behavior,
		mailbox:        NewChannelMailbox[M, R](ctx, capacity),
		ctx:            ctx,
		cancel:         cancel,
		wg:             cfg.Wg,
		cleanupTimeout: cleanup,
	}
	a.ref = &actorRef[M, R]{actor: a}

	return a
}

// Start launches the actor's message loop in a new goroutine. Repeated calls
// are no-ops.
func (a *Actor[M, R]) Start() {
	a.startOnce.Do(func() {
		log.DebugS(a.ctx, "Starting actor", "actor_id", a.id)

		if a.wg != nil {
			a.wg.Add(1)
		}
		go a.process()
	})
}

// Stop signals the actor to terminate its message loop and shut down. The
// goroutine exits once it observes the cancellation, closes the mailbox, and
// fails any remaining asks with ErrActorTerminated.
func (a *Actor[M, R]) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
	})
}

// Ref returns a reference for sending messages to this actor without exposing
// the Actor struct itself.
func (a *Actor[M, R]) Ref() ActorRef[M, R] {
	return a.ref
}

// TellRef returns a fire-and-forget-only reference to this actor.
func (a *Actor[M, R]) TellRef() TellOnlyRef[M] {
	return a.ref
}

// process is the actor's event loop. The deferred WaitGroup Done runs even if
// the behavior panics, so the owning system can always finish shutdown.
func (a *Actor[M, R]) process() {
	if a.wg != nil {
		defer a.wg.Done()
	}

	for env := range a.mailbox.Receive(a.ctx) {
		// Asks observe both the actor lifecycle and the caller's
		// deadline. Tells are already decoupled from their caller:
		// once enqueued they run under the actor context alone.
		processCtx := a.ctx
		var cancel context.CancelFunc = func() {}
		if env.promise != nil {
			processCtx, cancel = mergeContexts(a.ctx, env.callerCtx)
		}

		result := a.behavior.Receive(processCtx, env.message)
		cancel()

		if env.promise != nil {
			env.promise.Complete(result)
		}
	}

	// The actor context has been cancelled: refuse new sends, then fail
	// any asks that made it into the mailbox before the close.
	a.mailbox.Close()

	drained := 0
	for env := range a.mailbox.Drain() {
		drained++
		if env.promise != nil {
			env.promise.Complete(fn.Err[R](ErrActorTerminated))
		}
	}

	if stoppable, ok := a.behavior.(Stoppable); ok {
		cleanupCtx, cancel := context.WithTimeout(
			context.Background(), a.cleanupTimeout,
		)
		defer cancel()

		if err := stoppable.OnStop(cleanupCtx); err != nil {
			log.WarnS(a.ctx, "Actor cleanup error during shutdown",
				err, "actor_id", a.id)
		}
	}

	log.DebugS(a.ctx, "Actor terminated",
		"actor_id", a.id,
		"drained_messages", drained)
}

// actorRef is the concrete ActorRef implementation backed by a live actor.
type actorRef[M Message, R any] struct {
	actor *Actor[M, R]
}

// ID returns the unique identifier of the referenced actor.
func (r *actorRef[M, R]) ID() string {
	return r.actor.id
}

// Tell sends a message without waiting for a response. Messages that cannot
// be enqueued (terminated actor, cancelled caller) are dropped.
func (r *actorRef[M, R]) Tell(ctx context.Context, msg M) {
	env := envelope[M, R]{
		message:   msg,
		callerCtx: ctx,
	}

	if !r.actor.mailbox.Send(ctx, env) {
		log.DebugS(ctx, "Tell dropped",
			"actor_id", r.actor.id,
			"msg_type", msg.MessageType())
	}
}

// Ask sends a message and returns a Future for the response.
func (r *actorRef[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	promise := NewPromise[R]()

	if r.actor.ctx.Err() != nil {
		promise.Complete(fn.Err[R](ErrActorTerminated))
		return promise.Future()
	}

	env := envelope[M, R]{
		message:   msg,
		promise:   promise,
		callerCtx: ctx,
	}

	if !r.actor.mailbox.Send(ctx, env) {
		// Actor termination takes precedence over caller
		// cancellation when attributing the failure.
		switch {
		case r.actor.ctx.Err() != nil:
			promise.Complete(fn.Err[R](ErrActorTerminated))

		case ctx.Err() != nil:
			promise.Complete(fn.Err[R](ctx.Err()))

		default:
			promise.Complete(fn.Err[R](ErrActorTerminated))
		}
	}

	return promise.Future()
}

// mergeContexts returns a context that is cancelled as soon as either parent
// is, preserving the earlier of the two deadlines. The monitoring goroutine
// exits once any cancellation is observed.
func mergeContexts(ctx1, ctx2 context.Context) (context.Context,
	context.CancelFunc) {

	deadline1, has1 := ctx1.Deadline()
	deadline2, has2 := ctx2.Deadline()

	base := ctx1
	if has2 && (!has1 || deadline2.Before(deadline1)) {
		base = ctx2
	}

	merged, cancel := context.WithCancel(base)

	go func() {
		select {
		case <-ctx1.Done():
			cancel()
		case <-ctx2.Done():
			cancel()
		case <-merged.Done():
		}
	}()

	return merged, cancel
}
