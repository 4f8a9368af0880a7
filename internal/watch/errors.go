package watch

import "errors"

var (
	// ErrUnknownRequestType is returned when the watcher receives a
	// request type it does not handle.
	ErrUnknownRequestType = errors.New("unknown watcher request type")

	// ErrNotConnected is returned when an operation needs a live mail
	// session but the watcher is not connected.
	ErrNotConnected = errors.New("mail session not connected")

	// ErrReconnectBudgetExhausted is reported when the watcher has used
	// up its reconnection attempts and stopped trying. No further mail
	// is observed until the process restarts.
	ErrReconnectBudgetExhausted = errors.New(
		"reconnect budget exhausted, mailbox watching stopped",
	)
)
