package watch

import (
	"time"

	"github.com/codewatch/codewatch/internal/baselib/actor"
)

// WatcherRequest is the union type for all watcher requests.
type WatcherRequest interface {
	actor.Message
	isWatcherRequest()
}

// WatcherResponse is the union type for all watcher responses.
type WatcherResponse interface {
	isWatcherResponse()
}

func (StartMsg) isWatcherRequest()    {}
func (CheckNowMsg) isWatcherRequest() {}
func (StatusMsg) isWatcherRequest()   {}
func (connectMsg) isWatcherRequest()  {}
func (connLostMsg) isWatcherRequest() {}

func (AckResponse) isWatcherResponse() {}
func (StatusData) isWatcherResponse()  {}

// StartMsg boots the watcher: it records the watcher's own reference for
// timer-driven messages, starts the periodic check ticker, and kicks off the
// first connection attempt.
type StartMsg struct {
	actor.BaseMessage

	// Self is the watcher's own mailbox reference. Reconnect timers and
	// transport push notifications deliver through it so all state
	// changes stay on the actor timeline.
	Self actor.TellOnlyRef[WatcherRequest]
}

// MessageType implements actor.Message.
func (StartMsg) MessageType() string { return "StartMsg" }

// CheckNowMsg asks the watcher to scan the mailbox for unread messages.
// Sends are safe from any goroutine; the actor mailbox serializes them
// against the periodic timer and transport push notifications.
type CheckNowMsg struct {
	actor.BaseMessage

	// Reason records what triggered the check, for logging.
	Reason string
}

// MessageType implements actor.Message.
func (CheckNowMsg) MessageType() string { return "CheckNowMsg" }

// StatusMsg requests a snapshot of the watcher's state.
type StatusMsg struct {
	actor.BaseMessage
}

// MessageType implements actor.Message.
func (StatusMsg) MessageType() string { return "StatusMsg" }

// connectMsg is the internal trigger for a connection attempt, sent by
// StartMsg handling and by reconnect timers.
type connectMsg struct {
	actor.BaseMessage
}

// MessageType implements actor.Message.
func (connectMsg) MessageType() string { return "connectMsg" }

// connLostMsg reports that the transport session died mid-flight.
type connLostMsg struct {
	actor.BaseMessage

	err error
}

// MessageType implements actor.Message.
func (connLostMsg) MessageType() string { return "connLostMsg" }

// AckResponse is the empty acknowledgement for fire-and-style requests.
type AckResponse struct{}

// StatusData is the response to StatusMsg.
type StatusData struct {
	// State is the connection state name.
	State string

	// Connected reports whether a live session is established.
	Connected bool

	// ConnectedSince is when the current session was established; zero
	// when disconnected.
	ConnectedSince time.Time

	// ReconnectAttempts is the current consecutive failed attempt count.
	ReconnectAttempts int

	// ProcessedMessages is the dedup ledger size.
	ProcessedMessages int
}
