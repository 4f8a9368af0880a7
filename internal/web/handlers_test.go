package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch/internal/actorutil"
	"github.com/codewatch/codewatch/internal/baselib/actor"
	"github.com/codewatch/codewatch/internal/correlate"
	"github.com/codewatch/codewatch/internal/fanout"
	"github.com/codewatch/codewatch/internal/watch"
)

// webHarness runs a full server over a real fanout hub and correlator, with
// a stub watcher that counts check triggers.
type webHarness struct {
	server     *Server
	ts         *httptest.Server
	waiter     *correlate.Waiter
	hubRef     actor.ActorRef[fanout.HubRequest, fanout.HubResponse]
	checkCount atomic.Int32
}

func newWebHarness(t *testing.T) *webHarness {
	t.Helper()

	as := actor.NewActorSystem()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		require.NoError(t, as.Shutdown(ctx))
	})

	h := &webHarness{}

	h.hubRef = actor.RegisterWithSystem[fanout.HubRequest,
		fanout.HubResponse](as, "hub", fanout.NewHub())

	watcherRef := actor.RegisterWithSystem[watch.WatcherRequest,
		watch.WatcherResponse](as, "watcher",
		actor.NewFunctionBehavior(
			func(_ context.Context,
				msg watch.WatcherRequest,
			) fn.Result[watch.WatcherResponse] {

				switch msg.(type) {
				case watch.CheckNowMsg:
					h.checkCount.Add(1)
					return fn.Ok[watch.WatcherResponse](
						watch.AckResponse{},
					)

				case watch.StatusMsg:
					return fn.Ok[watch.WatcherResponse](
						watch.StatusData{
							State:     "watching",
							Connected: true,
						},
					)

				default:
					return fn.Ok[watch.WatcherResponse](
						watch.AckResponse{},
					)
				}
			},
		))

	h.waiter = correlate.NewWaiter(h.hubRef, watcherRef)

	h.server = NewServer(Config{
		Addr:                  ":0",
		DefaultWaitTimeout:    time.Second,
		WSDefaultWaitTimeout:  time.Second,
		WSClientCheckInterval: 20 * time.Millisecond,
	}, h.waiter, watcherRef, h.hubRef)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		require.NoError(t, h.server.Shutdown(ctx))
	})

	h.ts = httptest.NewServer(h.server.Handler())
	t.Cleanup(h.ts.Close)

	return h
}

func (h *webHarness) dispatch(t *testing.T, ev fanout.Event) {
	t.Helper()

	_, err := actorutil.AskAwait[fanout.HubRequest, fanout.HubResponse](
		context.Background(), h.hubRef, fanout.DispatchMsg{Event: ev},
	)
	require.NoError(t, err)
}

// waitForSubscriptions blocks until the hub holds n subscriptions.
func (h *webHarness) waitForSubscriptions(t *testing.T, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		resp, err := actorutil.AskAwait[fanout.HubRequest,
			fanout.HubResponse](
			context.Background(), h.hubRef, fanout.StatsMsg{},
		)
		require.NoError(t, err)
		return resp.(fanout.StatsResponse).ActiveSubscriptions == n
	}, 5*time.Second, 5*time.Millisecond)
}

func (h *webHarness) postJSON(t *testing.T, path string,
	body any) *http.Response {

	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(
		h.ts.URL+path, "application/json", bytes.NewReader(data),
	)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// TestHealth checks the liveness endpoint.
func TestHealth(t *testing.T) {
	h := newWebHarness(t)

	resp, err := http.Get(h.ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	require.Equal(t, "ok", body["status"])
}

// TestStatus checks the operational snapshot endpoint.
func TestStatus(t *testing.T) {
	h := newWebHarness(t)

	resp, err := http.Get(h.ts.URL + "/v1/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	require.Equal(t, true, body["emailConnected"])
	require.Equal(t, "watching", body["state"])
	require.Equal(t, float64(0), body["pendingWaits"])
	require.Equal(t, float64(0), body["wsClients"])
}

// TestCheckMail checks the manual trigger reaches the watcher.
func TestCheckMail(t *testing.T) {
	h := newWebHarness(t)

	resp := h.postJSON(t, "/v1/check-mail", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	require.Equal(t, true, body["success"])
	require.GreaterOrEqual(t, h.checkCount.Load(), int32(1))
}

// TestWaitForCodeMissingEmail checks the 400 path.
func TestWaitForCodeMissingEmail(t *testing.T) {
	h := newWebHarness(t)

	resp := h.postJSON(t, "/v1/wait-for-code", map[string]any{
		"timeout": 1000,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	require.Equal(t, false, body["success"])
}

// TestWaitForCodeTimeout checks the 408 path.
func TestWaitForCodeTimeout(t *testing.T) {
	h := newWebHarness(t)

	resp := h.postJSON(t, "/v1/wait-for-code", map[string]any{
		"email":   "alice@example.com",
		"timeout": 50,
	})
	require.Equal(t, http.StatusRequestTimeout, resp.StatusCode)

	body := decodeBody(t, resp)
	require.Equal(t, false, body["success"])
}

// TestWaitForCodeZeroTimeout checks an explicit zero timeout resolves as an
// immediate timeout rather than falling back to the default.
func TestWaitForCodeZeroTimeout(t *testing.T) {
	h := newWebHarness(t)

	start := time.Now()
	resp := h.postJSON(t, "/v1/wait-for-code", map[string]any{
		"email":   "alice@example.com",
		"timeout": 0,
	})
	require.Equal(t, http.StatusRequestTimeout, resp.StatusCode)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

// TestWaitForCodeDelivery checks the long-poll happy path end to end.
func TestWaitForCodeDelivery(t *testing.T) {
	h := newWebHarness(t)

	type result struct {
		status int
		body   map[string]any
	}
	resultCh := make(chan result, 1)

	go func() {
		resp := h.postJSON(t, "/v1/wait-for-code", map[string]any{
			"email":   "alice@example.com",
			"timeout": 5000,
		})
		resultCh <- result{
			status: resp.StatusCode,
			body:   decodeBody(t, resp),
		}
	}()

	h.waitForSubscriptions(t, 1)
	h.dispatch(t, fanout.Event{
		Recipients: []string{"alice@example.com"},
		Sender:     "noreply@service.io",
		Subject:    "Login code",
		Code:       "482913",
		ReceivedAt: time.Now(),
	})

	select {
	case res := <-resultCh:
		require.Equal(t, http.StatusOK, res.status)
		require.Equal(t, true, res.body["success"])

		data, ok := res.body["data"].(map[string]any)
		require.True(t, ok, fmt.Sprintf("bad body: %v", res.body))
		require.Equal(t, "482913", data["code"])
		require.Equal(t, "noreply@service.io", data["from"])

	case <-time.After(5 * time.Second):
		t.Fatal("request never resolved")
	}

	// The wait-registration trigger fired at least once.
	require.GreaterOrEqual(t, h.checkCount.Load(), int32(1))
}
