package actor

import (
	"context"
	"errors"
	"iter"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrActorTerminated indicates that an operation failed because the target
// actor was terminated or in the process of shutting down.
var ErrActorTerminated = errors.New("actor terminated")

// BaseMessage is a helper struct that can be embedded in message types defined
// outside the actor package to satisfy the Message interface's unexported
// messageMarker method.
type BaseMessage struct{}

// messageMarker implements the unexported method of the Message interface.
func (BaseMessage) messageMarker() {}

// Message is a sealed interface for actor messages. Only types embedding
// BaseMessage (or defined in this package) can satisfy it, which keeps the
// set of valid message types closed per actor protocol.
type Message interface {
	// messageMarker seals the interface (see BaseMessage for embedding).
	messageMarker()

	// MessageType returns the type name of the message for routing and
	// log filtering.
	MessageType() string
}

// Future represents the result of an asynchronous computation. Consumers can
// block on the result (Await) or register a callback to run on completion
// (OnComplete).
type Future[T any] interface {
	// Await blocks until the result is available or the context is
	// cancelled, then returns it.
	Await(ctx context.Context) fn.Result[T]

	// OnComplete registers a function to be called once the result is
	// ready. If the passed context is cancelled before the future
	// completes, the callback is invoked with the context's error.
	OnComplete(ctx context.Context, f func(fn.Result[T]))
}

// Promise is the producer side of a Future. The producer of an asynchronous
// result uses a Promise to set the outcome exactly once, while consumers use
// the associated Future to retrieve it.
type Promise[T any] interface {
	// Future returns the Future associated with this Promise.
	Future() Future[T]

	// Complete attempts to set the result of the future. It returns true
	// if this call was the one that completed it, and false if the future
	// had already been completed.
	Complete(result fn.Result[T]) bool
}

// BaseActorRef is a non-generic base interface for all actor references.
type BaseActorRef interface {
	// ID returns the unique identifier for this actor.
	ID() string
}

// TellOnlyRef is a reference to an actor that only supports fire-and-forget
// message passing. Handing one out restricts the holder from issuing Asks.
type TellOnlyRef[M Message] interface {
	BaseActorRef

	// Tell sends a message without waiting for a response. If the context
	// is cancelled before the message reaches the actor's mailbox, the
	// message may be dropped.
	Tell(ctx context.Context, msg M)
}

// ActorRef is a reference to an actor that supports both tell and ask
// operations.
type ActorRef[M Message, R any] interface {
	TellOnlyRef[M]

	// Ask sends a message and returns a Future for the response. The
	// Future completes with the actor's reply, or with an error if the
	// send fails.
	Ask(ctx context.Context, msg M) Future[R]
}

// Behavior defines how an actor processes incoming messages. The provided
// context merges the actor's lifecycle context with the caller's request
// context for Ask operations, so behaviors can observe both system shutdown
// and caller deadlines.
type Behavior[M Message, R any] interface {
	Receive(ctx context.Context, msg M) fn.Result[R]
}

// Stoppable is an optional interface behaviors can implement to release
// external resources (network sessions, file handles) when their actor shuts
// down. OnStop runs after the message loop exits, bounded by a cleanup
// deadline.
type Stoppable interface {
	OnStop(ctx context.Context) error
}

// Mailbox is the actor's message queue abstraction. Send and TrySend may be
// called concurrently; Receive and Drain are confined to the actor's own
// goroutine; Close is idempotent and may race with sends.
type Mailbox[M Message, R any] interface {
	// Send blocks until the envelope is accepted, the caller's context is
	// cancelled, or the actor's context is cancelled. It reports whether
	// the envelope was enqueued.
	Send(ctx context.Context, env envelope[M, R]) bool

	// TrySend attempts a non-blocking enqueue.
	TrySend(env envelope[M, R]) bool

	// Receive returns an iterator over envelopes, stopping when the given
	// context is cancelled or the mailbox is closed.
	Receive(ctx context.Context) iter.Seq[envelope[M, R]]

	// Close prevents further sends. Idempotent.
	Close()

	// IsClosed reports whether Close has been called.
	IsClosed() bool

	// Drain yields envelopes left in the mailbox after Close.
	Drain() iter.Seq[envelope[M, R]]
}
