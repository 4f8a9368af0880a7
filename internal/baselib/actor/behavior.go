package actor

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// FunctionBehavior adapts a plain function to the Behavior interface. Handy
// for small actors and tests that don't warrant a dedicated type.
type FunctionBehavior[M Message, R any] struct {
	receive func(ctx context.Context, msg M) fn.Result[R]
}

// NewFunctionBehavior wraps f as an actor behavior.
func NewFunctionBehavior[M Message, R any](
	f func(ctx context.Context, msg M) fn.Result[R],
) *FunctionBehavior[M, R] {

	return &FunctionBehavior[M, R]{receive: f}
}

// Receive implements Behavior by delegating to the wrapped function.
func (b *FunctionBehavior[M, R]) Receive(ctx context.Context,
	msg M) fn.Result[R] {

	return b.receive(ctx, msg)
}
