// Package actorutil provides convenience helpers for interacting with the
// actor runtime in internal/baselib/actor.
package actorutil

import (
	"context"
	"fmt"

	"github.com/codewatch/codewatch/internal/baselib/actor"
)

// AskAwait sends an Ask message to an actor and blocks until the response is
// available, unpacking the Result into a plain value/error pair.
func AskAwait[M actor.Message, R any](
	ctx context.Context,
	ref actor.ActorRef[M, R],
	msg M,
) (R, error) {

	future := ref.Ask(ctx, msg)
	return future.Await(ctx).Unpack()
}

// AskAwaitTyped is AskAwait with an additional type assertion on the
// response, for actors whose response type is a union interface.
func AskAwaitTyped[M actor.Message, R any, T any](
	ctx context.Context,
	ref actor.ActorRef[M, R],
	msg M,
) (T, error) {

	resp, err := AskAwait(ctx, ref, msg)
	if err != nil {
		var zero T
		return zero, err
	}

	typed, ok := any(resp).(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf(
			"unexpected response type: got %T, want %T",
			resp, zero,
		)
	}

	return typed, nil
}
