package actor

import (
	"context"
	"sync"
)

// SystemConfig holds configuration parameters for the ActorSystem.
type SystemConfig struct {
	// MailboxCapacity is the default capacity for actor mailboxes.
	MailboxCapacity int
}

// DefaultSystemConfig returns the default system configuration.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		MailboxCapacity: 100,
	}
}

// stoppable is the minimal surface the system needs from a managed actor.
type stoppable interface {
	Stop()
}

// ActorSystem manages the lifecycle of a set of actors and coordinates their
// graceful shutdown. Actors register through RegisterWithSystem, which wires
// them into the system's WaitGroup so Shutdown can block until every actor
// goroutine has fully exited.
type ActorSystem struct {
	config SystemConfig

	// actors stores all managed actors keyed by ID, guarded by mu.
	actors map[string]stoppable
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	// actorWg tracks running actor goroutines for deterministic shutdown.
	actorWg sync.WaitGroup
}

// NewActorSystem creates a new actor system with the default configuration.
func NewActorSystem() *ActorSystem {
	return NewActorSystemWithConfig(DefaultSystemConfig())
}

// NewActorSystemWithConfig creates a new actor system with a custom
// configuration.
func NewActorSystemWithConfig(config SystemConfig) *ActorSystem {
	ctx, cancel := context.WithCancel(context.Background())

	return &ActorSystem{
		config: config,
		actors: make(map[string]stoppable),
		ctx:    ctx,
		cancel: cancel,
	}
}

// newStoppedActorRef builds a reference whose every operation fails with
// ErrActorTerminated. Returned instead of nil when registration is refused,
// so callers can never trip over a nil ref.
func newStoppedActorRef[M Message, R any](id string) ActorRef[M, R] {
	a := New(Config[M, R]{ID: id})
	a.Stop()
	return a.Ref()
}

// RegisterWithSystem creates, starts, and tracks an actor with the given ID
// and behavior, returning its reference. If the system is already shutting
// down, a stopped reference is returned. This is a package-level generic
// function because methods cannot introduce their own type parameters.
func RegisterWithSystem[M Message, R any](as *ActorSystem, id string,
	behavior Behavior[M, R]) ActorRef[M, R] {

	if as.ctx.Err() != nil {
		return newStoppedActorRef[M, R](id)
	}

	a := New(Config[M, R]{
		ID:          id,
		Behavior:    behavior,
		MailboxSize: as.config.MailboxCapacity,
		Wg:          &as.actorWg,
	})
	a.Start()

	as.mu.Lock()
	as.actors[id] = a
	as.mu.Unlock()

	log.DebugS(as.ctx, "Actor registered with system", "actor_id", id)

	return a.Ref()
}

// StopAndRemoveActor stops the actor with the given ID and removes it from
// the system. It reports whether the actor was found.
func (as *ActorSystem) StopAndRemoveActor(id string) bool {
	as.mu.Lock()
	defer as.mu.Unlock()

	a, ok := as.actors[id]
	if !ok {
		return false
	}

	a.Stop()
	delete(as.actors, id)

	return true
}

// Shutdown stops every managed actor and blocks until all actor goroutines
// have exited or the context expires. Cancelling the system context first
// closes the registration window, so no actor can slip in between the
// snapshot and the wait.
func (as *ActorSystem) Shutdown(ctx context.Context) error {
	as.cancel()

	as.mu.Lock()
	toStop := make([]stoppable, 0, len(as.actors))
	for _, a := range as.actors {
		toStop = append(toStop, a)
	}
	as.actors = nil
	as.mu.Unlock()

	log.InfoS(ctx, "Actor system shutting down",
		"num_actors", len(toStop))

	for _, a := range toStop {
		a.Stop()
	}

	done := make(chan struct{})
	go func() {
		as.actorWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.InfoS(ctx, "Actor system shutdown completed")
		return nil

	case <-ctx.Done():
		log.ErrorS(ctx, "Actor system shutdown incomplete, "+
			"some actors may have leaked", ctx.Err())

		return ctx.Err()
	}
}
