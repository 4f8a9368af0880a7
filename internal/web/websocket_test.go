package web

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/codewatch/codewatch/internal/fanout"
)

// dialWS connects to the harness's /ws endpoint and consumes the initial
// connected message.
func dialWS(t *testing.T, h *webHarness) *websocket.Conn {
	t.Helper()

	url := strings.Replace(h.ts.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readWS(t, conn)
	require.Equal(t, WSMsgTypeConnected, msg.Type)
	require.NotEmpty(t, msg.ClientID)

	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func sendWS(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// TestWSPing checks the keepalive intent.
func TestWSPing(t *testing.T) {
	h := newWebHarness(t)
	conn := dialWS(t, h)

	sendWS(t, conn, map[string]any{"type": "ping"})
	require.Equal(t, WSMsgTypePong, readWS(t, conn).Type)
}

// TestWSUnknownIntent checks malformed and unknown intents get error
// replies without killing the connection.
func TestWSUnknownIntent(t *testing.T) {
	h := newWebHarness(t)
	conn := dialWS(t, h)

	sendWS(t, conn, map[string]any{"type": "bogus"})
	require.Equal(t, WSMsgTypeError, readWS(t, conn).Type)

	// Still alive.
	sendWS(t, conn, map[string]any{"type": "ping"})
	require.Equal(t, WSMsgTypePong, readWS(t, conn).Type)
}

// TestWSWaitForCode checks the full wait flow over one connection.
func TestWSWaitForCode(t *testing.T) {
	h := newWebHarness(t)
	conn := dialWS(t, h)

	sendWS(t, conn, map[string]any{
		"type": "wait_for_code",
		"payload": map[string]any{
			"email":   "alice@example.com",
			"timeout": 5000,
		},
	})

	msg := readWS(t, conn)
	require.Equal(t, WSMsgTypeWaiting, msg.Type)
	require.Equal(t, "alice@example.com", msg.Email)

	h.waitForSubscriptions(t, 1)
	h.dispatch(t, fanout.Event{
		Recipients: []string{"alice@example.com"},
		Sender:     "noreply@service.io",
		Code:       "314159",
		ReceivedAt: time.Now(),
	})

	msg = readWS(t, conn)
	require.Equal(t, WSMsgTypeCodeReceived, msg.Type)

	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "314159", payload["code"])
}

// TestWSWaitMissingEmail checks the error reply for an empty wait intent.
func TestWSWaitMissingEmail(t *testing.T) {
	h := newWebHarness(t)
	conn := dialWS(t, h)

	sendWS(t, conn, map[string]any{
		"type":    "wait_for_code",
		"payload": map[string]any{},
	})
	require.Equal(t, WSMsgTypeError, readWS(t, conn).Type)
}

// TestWSWaitTimeout checks a timed-out wait pushes a timeout message.
func TestWSWaitTimeout(t *testing.T) {
	h := newWebHarness(t)
	conn := dialWS(t, h)

	sendWS(t, conn, map[string]any{
		"type": "wait_for_code",
		"payload": map[string]any{
			"email":   "alice@example.com",
			"timeout": 50,
		},
	})

	require.Equal(t, WSMsgTypeWaiting, readWS(t, conn).Type)
	require.Equal(t, WSMsgTypeTimeout, readWS(t, conn).Type)
}

// TestWSCancelWait checks explicit cancellation is acknowledged and the
// wait never resolves afterwards.
func TestWSCancelWait(t *testing.T) {
	h := newWebHarness(t)
	conn := dialWS(t, h)

	sendWS(t, conn, map[string]any{
		"type": "wait_for_code",
		"payload": map[string]any{
			"email":   "alice@example.com",
			"timeout": 5000,
		},
	})
	require.Equal(t, WSMsgTypeWaiting, readWS(t, conn).Type)

	sendWS(t, conn, map[string]any{"type": "cancel_wait"})
	require.Equal(t, WSMsgTypeWaitCancelled, readWS(t, conn).Type)

	require.Eventually(t, func() bool {
		return h.waiter.PendingCount() == 0
	}, 5*time.Second, 10*time.Millisecond)

	// A late event must not produce a code_received push.
	h.dispatch(t, fanout.Event{
		Recipients: []string{"alice@example.com"},
		Code:       "111111",
	})
	sendWS(t, conn, map[string]any{"type": "ping"})
	require.Equal(t, WSMsgTypePong, readWS(t, conn).Type)
}

// TestWSSupersede checks a new wait on the same connection replaces the old
// one.
func TestWSSupersede(t *testing.T) {
	h := newWebHarness(t)
	conn := dialWS(t, h)

	sendWS(t, conn, map[string]any{
		"type": "wait_for_code",
		"payload": map[string]any{
			"email":   "alice@example.com",
			"timeout": 5000,
		},
	})
	require.Equal(t, WSMsgTypeWaiting, readWS(t, conn).Type)

	sendWS(t, conn, map[string]any{
		"type": "wait_for_code",
		"payload": map[string]any{
			"email":   "bob@example.com",
			"timeout": 5000,
		},
	})
	require.Equal(t, WSMsgTypeWaiting, readWS(t, conn).Type)

	// Only the newer wait is live.
	require.Eventually(t, func() bool {
		return h.waiter.PendingCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.waitForSubscriptions(t, 1)
	h.dispatch(t, fanout.Event{
		Recipients: []string{"bob@example.com"},
		Code:       "654321",
		ReceivedAt: time.Now(),
	})

	msg := readWS(t, conn)
	require.Equal(t, WSMsgTypeCodeReceived, msg.Type)

	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "654321", payload["code"])
}

// TestWSDisconnectCancelsWait checks a dropped connection clears its
// pending wait.
func TestWSDisconnectCancelsWait(t *testing.T) {
	h := newWebHarness(t)
	conn := dialWS(t, h)

	sendWS(t, conn, map[string]any{
		"type": "wait_for_code",
		"payload": map[string]any{
			"email":   "alice@example.com",
			"timeout": 60000,
		},
	})
	require.Equal(t, WSMsgTypeWaiting, readWS(t, conn).Type)
	require.Equal(t, 1, h.waiter.PendingCount())

	conn.Close()

	require.Eventually(t, func() bool {
		return h.waiter.PendingCount() == 0 &&
			h.server.wsHub.ClientCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
