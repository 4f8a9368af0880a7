package correlate

import "errors"

var (
	// ErrWaitTimeout is the result of a wait whose deadline passed with
	// no matching code arriving.
	ErrWaitTimeout = errors.New("timed out waiting for verification code")

	// ErrWaitCancelled is the result of a wait the client explicitly
	// cancelled.
	ErrWaitCancelled = errors.New("wait cancelled")

	// ErrWaitSuperseded is the result of a wait replaced by a newer wait
	// from the same client.
	ErrWaitSuperseded = errors.New("wait superseded by a newer wait")
)
