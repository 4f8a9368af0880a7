package correlate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch/internal/actorutil"
	"github.com/codewatch/codewatch/internal/baselib/actor"
	"github.com/codewatch/codewatch/internal/fanout"
	"github.com/codewatch/codewatch/internal/watch"
)

// waiterHarness wires a Waiter to a real hub and a stub watcher that only
// counts check requests.
type waiterHarness struct {
	waiter     *Waiter
	hubRef     actor.ActorRef[fanout.HubRequest, fanout.HubResponse]
	checkCount atomic.Int32
}

func newWaiterHarness(t *testing.T) *waiterHarness {
	t.Helper()

	as := actor.NewActorSystem()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		require.NoError(t, as.Shutdown(ctx))
	})

	h := &waiterHarness{}

	h.hubRef = actor.RegisterWithSystem[fanout.HubRequest,
		fanout.HubResponse](as, "hub", fanout.NewHub())

	watcherRef := actor.RegisterWithSystem[watch.WatcherRequest,
		watch.WatcherResponse](as, "watcher",
		actor.NewFunctionBehavior(
			func(_ context.Context,
				msg watch.WatcherRequest,
			) fn.Result[watch.WatcherResponse] {

				if _, ok := msg.(watch.CheckNowMsg); ok {
					h.checkCount.Add(1)
				}
				return fn.Ok[watch.WatcherResponse](
					watch.AckResponse{},
				)
			},
		))

	h.waiter = NewWaiter(h.hubRef, watcherRef)
	return h
}

func (h *waiterHarness) dispatch(t *testing.T, ev fanout.Event) {
	t.Helper()

	_, err := actorutil.AskAwait[fanout.HubRequest, fanout.HubResponse](
		context.Background(), h.hubRef, fanout.DispatchMsg{Event: ev},
	)
	require.NoError(t, err)
}

func (h *waiterHarness) hubStats(t *testing.T) fanout.StatsResponse {
	t.Helper()

	resp, err := actorutil.AskAwait[fanout.HubRequest, fanout.HubResponse](
		context.Background(), h.hubRef, fanout.StatsMsg{},
	)
	require.NoError(t, err)
	return resp.(fanout.StatsResponse)
}

// TestWaitResolvesOnDelivery checks a wait resolves with the first matching
// event and cleans up its subscription.
func TestWaitResolvesOnDelivery(t *testing.T) {
	h := newWaiterHarness(t)
	ctx := context.Background()

	future := h.waiter.Wait(
		ctx, "client-1", "alice@example.com", 5*time.Second,
	)
	require.Equal(t, 1, h.waiter.PendingCount())
	require.Eventually(t, func() bool {
		return h.checkCount.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	h.dispatch(t, fanout.Event{
		Recipients: []string{"alice@example.com"},
		Sender:     "noreply@service.io",
		Code:       "123456",
		ReceivedAt: time.Now(),
	})

	ev, err := future.Await(ctx).Unpack()
	require.NoError(t, err)
	require.Equal(t, "123456", ev.Code)

	require.Eventually(t, func() bool {
		return h.waiter.PendingCount() == 0 &&
			h.hubStats(t).ActiveSubscriptions == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// TestWaitTimeout checks expiry resolves the future with ErrWaitTimeout and
// removes the subscription along with the timer.
func TestWaitTimeout(t *testing.T) {
	h := newWaiterHarness(t)
	ctx := context.Background()

	future := h.waiter.Wait(
		ctx, "client-1", "alice@example.com", 30*time.Millisecond,
	)

	_, err := future.Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrWaitTimeout)

	require.Eventually(t, func() bool {
		return h.waiter.PendingCount() == 0 &&
			h.hubStats(t).ActiveSubscriptions == 0
	}, 5*time.Second, 10*time.Millisecond)

	// A late event must go nowhere.
	h.dispatch(t, fanout.Event{
		Recipients: []string{"alice@example.com"},
		Code:       "999999",
	})
}

// TestWaitZeroTimeout checks a non-positive timeout resolves as an immediate
// timeout without registering anything.
func TestWaitZeroTimeout(t *testing.T) {
	h := newWaiterHarness(t)
	ctx := context.Background()

	future := h.waiter.Wait(ctx, "client-1", "alice@example.com", 0)

	_, err := future.Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrWaitTimeout)

	require.Zero(t, h.waiter.PendingCount())
	require.Zero(t, h.checkCount.Load())
	require.Zero(t, h.hubStats(t).ActiveSubscriptions)
}

// TestWaitZeroTimeoutSupersedes checks an immediate-timeout wait still
// displaces the client's outstanding one.
func TestWaitZeroTimeoutSupersedes(t *testing.T) {
	h := newWaiterHarness(t)
	ctx := context.Background()

	first := h.waiter.Wait(
		ctx, "client-1", "alice@example.com", 5*time.Second,
	)

	second := h.waiter.Wait(ctx, "client-1", "alice@example.com", 0)

	_, err := first.Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrWaitSuperseded)

	_, err = second.Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrWaitTimeout)

	require.Eventually(t, func() bool {
		return h.waiter.PendingCount() == 0 &&
			h.hubStats(t).ActiveSubscriptions == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// TestWaitSupersede checks a client's new wait cancels its old one.
func TestWaitSupersede(t *testing.T) {
	h := newWaiterHarness(t)
	ctx := context.Background()

	first := h.waiter.Wait(
		ctx, "client-1", "alice@example.com", 5*time.Second,
	)
	second := h.waiter.Wait(
		ctx, "client-1", "bob@example.com", 5*time.Second,
	)

	_, err := first.Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrWaitSuperseded)

	require.Equal(t, 1, h.waiter.PendingCount())

	h.dispatch(t, fanout.Event{
		Recipients: []string{"bob@example.com"},
		Code:       "777777",
	})

	ev, err := second.Await(ctx).Unpack()
	require.NoError(t, err)
	require.Equal(t, "777777", ev.Code)
}

// TestWaitIndependentClients checks waits from different clients coexist.
func TestWaitIndependentClients(t *testing.T) {
	h := newWaiterHarness(t)
	ctx := context.Background()

	f1 := h.waiter.Wait(
		ctx, "client-1", "alice@example.com", 5*time.Second,
	)
	f2 := h.waiter.Wait(
		ctx, "client-2", "*@example.com", 5*time.Second,
	)
	require.Equal(t, 2, h.waiter.PendingCount())

	h.dispatch(t, fanout.Event{
		Recipients: []string{"alice@example.com"},
		Code:       "424242",
	})

	ev1, err := f1.Await(ctx).Unpack()
	require.NoError(t, err)
	require.Equal(t, "424242", ev1.Code)

	ev2, err := f2.Await(ctx).Unpack()
	require.NoError(t, err)
	require.Equal(t, "424242", ev2.Code)
}

// TestCancel checks explicit cancellation resolves with ErrWaitCancelled
// and is idempotent.
func TestCancel(t *testing.T) {
	h := newWaiterHarness(t)
	ctx := context.Background()

	future := h.waiter.Wait(
		ctx, "client-1", "alice@example.com", 5*time.Second,
	)

	require.True(t, h.waiter.Cancel("client-1"))

	_, err := future.Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrWaitCancelled)

	require.False(t, h.waiter.Cancel("client-1"))
	require.Zero(t, h.waiter.PendingCount())

	require.Eventually(t, func() bool {
		return h.hubStats(t).ActiveSubscriptions == 0
	}, 5*time.Second, 10*time.Millisecond)
}
