package fanout

import (
	"errors"

	"github.com/codewatch/codewatch/internal/baselib/actor"
)

// ErrUnknownRequestType is returned when the hub receives a request type it
// does not handle.
var ErrUnknownRequestType = errors.New("unknown hub request type")

// HubRequest is the union type for all hub requests.
type HubRequest interface {
	actor.Message
	isHubRequest()
}

// HubResponse is the union type for all hub responses.
type HubResponse interface {
	isHubResponse()
}

func (SubscribeMsg) isHubRequest()   {}
func (UnsubscribeMsg) isHubRequest() {}
func (DispatchMsg) isHubRequest()    {}
func (StatsMsg) isHubRequest()       {}

func (SubscribeResponse) isHubResponse()   {}
func (UnsubscribeResponse) isHubResponse() {}
func (DispatchResponse) isHubResponse()    {}
func (StatsResponse) isHubResponse()       {}

// SubscribeMsg registers a subscriber under a recipient pattern.
type SubscribeMsg struct {
	actor.BaseMessage

	// Pattern selects which events this subscriber receives.
	Pattern Pattern

	// SubscriberID is a unique identifier for this subscriber.
	SubscriberID string

	// DeliveryChan receives matching events. Sends are non-blocking, so
	// the channel should be buffered.
	DeliveryChan chan<- Event
}

// MessageType implements actor.Message.
func (SubscribeMsg) MessageType() string { return "SubscribeMsg" }

// SubscribeResponse is the response to SubscribeMsg.
type SubscribeResponse struct {
	Success bool
}

// UnsubscribeMsg removes a subscriber from a pattern.
type UnsubscribeMsg struct {
	actor.BaseMessage

	// Pattern is the pattern the subscriber was registered under.
	Pattern Pattern

	// SubscriberID identifies which subscriber to remove.
	SubscriberID string
}

// MessageType implements actor.Message.
func (UnsubscribeMsg) MessageType() string { return "UnsubscribeMsg" }

// UnsubscribeResponse is the response to UnsubscribeMsg.
type UnsubscribeResponse struct {
	Success bool
}

// DispatchMsg fans an extracted event out to every matching subscriber.
type DispatchMsg struct {
	actor.BaseMessage

	// Event is the extracted event to deliver.
	Event Event
}

// MessageType implements actor.Message.
func (DispatchMsg) MessageType() string { return "DispatchMsg" }

// DispatchResponse is the response to DispatchMsg.
type DispatchResponse struct {
	// DeliveredCount is the number of subscriber deliveries that
	// succeeded.
	DeliveredCount int
}

// StatsMsg requests a snapshot of registry occupancy.
type StatsMsg struct {
	actor.BaseMessage
}

// MessageType implements actor.Message.
func (StatsMsg) MessageType() string { return "StatsMsg" }

// StatsResponse is the response to StatsMsg.
type StatsResponse struct {
	// ActiveSubscriptions is the total subscriber count across all
	// patterns.
	ActiveSubscriptions int

	// ActivePatterns is the number of distinct patterns with at least
	// one subscriber.
	ActivePatterns int
}
