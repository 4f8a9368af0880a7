package actor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// echoMsg is a trivial test message carrying a payload to be echoed back.
type echoMsg struct {
	BaseMessage
	payload string
}

func (echoMsg) MessageType() string { return "echoMsg" }

func newEchoBehavior() Behavior[echoMsg, string] {
	return NewFunctionBehavior(
		func(_ context.Context, msg echoMsg) fn.Result[string] {
			return fn.Ok(msg.payload)
		},
	)
}

// TestAskRoundTrip verifies that an Ask returns the behavior's response.
func TestAskRoundTrip(t *testing.T) {
	system := NewActorSystem()
	defer system.Shutdown(context.Background())

	ref := RegisterWithSystem(system, "echo", newEchoBehavior())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result := ref.Ask(ctx, echoMsg{payload: "ping"}).Await(ctx)
	resp, err := result.Unpack()
	require.NoError(t, err)
	require.Equal(t, "ping", resp)
}

// TestTellProcessed verifies that Tell messages reach the behavior.
func TestTellProcessed(t *testing.T) {
	system := NewActorSystem()
	defer system.Shutdown(context.Background())

	var count atomic.Int64
	behavior := NewFunctionBehavior(
		func(_ context.Context, _ echoMsg) fn.Result[string] {
			count.Add(1)
			return fn.Ok("")
		},
	)

	ref := RegisterWithSystem(system, "counter", behavior)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ref.Tell(ctx, echoMsg{})
	}

	require.Eventually(t, func() bool {
		return count.Load() == 5
	}, time.Second, 10*time.Millisecond)
}

// TestAskAfterShutdown verifies that asks against a stopped actor fail with
// ErrActorTerminated instead of hanging.
func TestAskAfterShutdown(t *testing.T) {
	system := NewActorSystem()

	ref := RegisterWithSystem(system, "echo", newEchoBehavior())
	require.NoError(t, system.Shutdown(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result := ref.Ask(ctx, echoMsg{payload: "ping"}).Await(ctx)
	_, err := result.Unpack()
	require.ErrorIs(t, err, ErrActorTerminated)
}

// stoppableBehavior records whether OnStop ran.
type stoppableBehavior struct {
	stopped atomic.Bool
}

func (s *stoppableBehavior) Receive(_ context.Context,
	_ echoMsg) fn.Result[string] {

	return fn.Ok("")
}

func (s *stoppableBehavior) OnStop(_ context.Context) error {
	s.stopped.Store(true)
	return errors.New("cleanup failed")
}

// TestStoppableOnStop verifies the OnStop hook runs during shutdown, and that
// an OnStop error does not break shutdown.
func TestStoppableOnStop(t *testing.T) {
	system := NewActorSystem()

	behavior := &stoppableBehavior{}
	RegisterWithSystem[echoMsg, string](system, "stoppable", behavior)

	require.NoError(t, system.Shutdown(context.Background()))
	require.True(t, behavior.stopped.Load())
}

// TestPromiseFirstCompleteWins verifies that only the first Complete call
// takes effect.
func TestPromiseFirstCompleteWins(t *testing.T) {
	p := NewPromise[int]()

	require.True(t, p.Complete(fn.Ok(1)))
	require.False(t, p.Complete(fn.Ok(2)))

	result := p.Future().Await(context.Background())
	v, err := result.Unpack()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

// TestRegisterAfterShutdown verifies registration on a shut-down system
// yields a safe, terminated reference.
func TestRegisterAfterShutdown(t *testing.T) {
	system := NewActorSystem()
	require.NoError(t, system.Shutdown(context.Background()))

	ref := RegisterWithSystem(system, "late", newEchoBehavior())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := ref.Ask(ctx, echoMsg{}).Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrActorTerminated)
}
