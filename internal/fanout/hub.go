package fanout

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// subscriber holds one registered subscription.
type subscriber struct {
	id           string
	deliveryChan chan<- Event
}

// Hub is the actor that owns the pattern registry and fans extracted events
// out to subscribers.
//
// All state lives inside the actor: external code subscribes, unsubscribes,
// and dispatches via messages, so no locking is needed and dispatch never
// races a registration. Delivery uses non-blocking channel sends, so one slow
// subscriber cannot stall delivery to the others.
type Hub struct {
	// subscribers maps pattern keys to their subscribers.
	subscribers map[string][]subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string][]subscriber),
	}
}

// Receive implements actor.Behavior by dispatching to type-specific
// handlers.
func (h *Hub) Receive(_ context.Context,
	msg HubRequest) fn.Result[HubResponse] {

	switch m := msg.(type) {
	case SubscribeMsg:
		return fn.Ok[HubResponse](h.handleSubscribe(m))

	case UnsubscribeMsg:
		return fn.Ok[HubResponse](h.handleUnsubscribe(m))

	case DispatchMsg:
		return fn.Ok[HubResponse](h.handleDispatch(m))

	case StatsMsg:
		return fn.Ok[HubResponse](h.handleStats())

	default:
		return fn.Err[HubResponse](ErrUnknownRequestType)
	}
}

// handleSubscribe adds a subscriber under the message's pattern key.
func (h *Hub) handleSubscribe(msg SubscribeMsg) SubscribeResponse {
	key := msg.Pattern.Key()

	// Re-subscribing with the same ID is a no-op.
	subs := h.subscribers[key]
	for _, s := range subs {
		if s.id == msg.SubscriberID {
			return SubscribeResponse{Success: true}
		}
	}

	h.subscribers[key] = append(subs, subscriber{
		id:           msg.SubscriberID,
		deliveryChan: msg.DeliveryChan,
	})

	log.DebugS(context.Background(), "Subscriber registered",
		"pattern", key, "subscriber_id", msg.SubscriberID)

	return SubscribeResponse{Success: true}
}

// handleUnsubscribe removes a subscriber, dropping the pattern entry
// entirely once its last subscriber is gone.
func (h *Hub) handleUnsubscribe(msg UnsubscribeMsg) UnsubscribeResponse {
	key := msg.Pattern.Key()

	subs := h.subscribers[key]
	for i, s := range subs {
		if s.id != msg.SubscriberID {
			continue
		}

		h.subscribers[key] = append(subs[:i], subs[i+1:]...)
		if len(h.subscribers[key]) == 0 {
			delete(h.subscribers, key)
		}

		log.DebugS(context.Background(), "Subscriber removed",
			"pattern", key, "subscriber_id", msg.SubscriberID)

		return UnsubscribeResponse{Success: true}
	}

	// Unknown subscriber, removal is idempotent.
	return UnsubscribeResponse{Success: true}
}

// handleDispatch delivers the event under every matching pattern key, in
// recipient order. A domain wildcard subscriber is notified once per matching
// recipient; the global wildcard key is included exactly once per event no
// matter how many recipients matched.
func (h *Hub) handleDispatch(msg DispatchMsg) DispatchResponse {
	delivered := 0
	for _, key := range matchKeys(msg.Event) {
		for _, s := range h.subscribers[key] {
			// Non-blocking send. A full channel means the
			// subscriber is not keeping up; skip it rather than
			// stall everyone else.
			select {
			case s.deliveryChan <- msg.Event:
				delivered++
			default:
				log.WarnS(context.Background(),
					"Dropping event for slow subscriber",
					nil, "pattern", key,
					"subscriber_id", s.id)
			}
		}
	}

	log.DebugS(context.Background(), "Event dispatched",
		"code", msg.Event.Code, "recipients", len(msg.Event.Recipients),
		"delivered", delivered)

	return DispatchResponse{DeliveredCount: delivered}
}

// handleStats snapshots registry occupancy.
func (h *Hub) handleStats() StatsResponse {
	total := 0
	for _, subs := range h.subscribers {
		total += len(subs)
	}

	return StatsResponse{
		ActiveSubscriptions: total,
		ActivePatterns:      len(h.subscribers),
	}
}
