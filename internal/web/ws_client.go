package web

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codewatch/codewatch/internal/correlate"
	"github.com/codewatch/codewatch/internal/watch"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Size of the client send buffer.
	sendBufferSize = 64
)

// WSClient represents a single WebSocket connection. Its id doubles as the
// wait-owner identity in the correlator, which enforces the one outstanding
// wait per connection rule.
type WSClient struct {
	id     string
	server *Server
	conn   *websocket.Conn

	// send carries outbound messages to writePump.
	send chan *WSMessage

	mu     sync.Mutex
	closed bool
}

// NewWSClient creates a client for an upgraded connection.
func NewWSClient(server *Server, conn *websocket.Conn,
	id string) *WSClient {

	return &WSClient{
		id:     id,
		server: server,
		conn:   conn,
		send:   make(chan *WSMessage, sendBufferSize),
	}
}

// Send queues a message for the client. Messages are dropped rather than
// blocking when the buffer is full.
func (c *WSClient) Send(msg *WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		log.WarnS(context.Background(),
			"WebSocket send buffer full, dropping message", nil,
			"client_id", c.id, "type", msg.Type)
	}
}

// Close tears the connection down and drops any outstanding wait.
func (c *WSClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.conn.Close()
	c.server.waiter.Cancel(c.id)
}

// readPump reads client intents until the connection dies, then unregisters
// the client (which cancels its pending wait).
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.server.wsHub.unregister <- c:
		case <-c.server.wsHub.ctx.Done():
			c.Close()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {

				log.DebugS(context.Background(),
					"WebSocket read error",
					"client_id", c.id, "err", err)
			}
			return
		}

		c.handleIntent(data)
	}
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(
					websocket.CloseMessage, []byte{},
				)
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			err = c.conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}

// handleIntent processes one decoded client message.
func (c *WSClient) handleIntent(data []byte) {
	var intent wsIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		c.Send(&WSMessage{
			Type:    WSMsgTypeError,
			Message: "invalid message format",
		})
		return
	}

	switch intent.Type {
	case wsIntentWaitForCode:
		c.handleWaitForCode(intent)

	case wsIntentCancelWait:
		c.server.waiter.Cancel(c.id)
		c.Send(&WSMessage{
			Type:    WSMsgTypeWaitCancelled,
			Message: "wait cancelled",
		})

	case wsIntentPing:
		c.Send(&WSMessage{Type: WSMsgTypePong})

	default:
		log.DebugS(context.Background(),
			"Unknown WebSocket intent",
			"client_id", c.id, "type", intent.Type)
		c.Send(&WSMessage{
			Type:    WSMsgTypeError,
			Message: "unknown message type",
		})
	}
}

// handleWaitForCode starts (or supersedes) this connection's wait and
// pushes the outcome back over the socket when it resolves.
func (c *WSClient) handleWaitForCode(intent wsIntent) {
	email := intent.Payload.Email
	if email == "" {
		c.Send(&WSMessage{
			Type:    WSMsgTypeError,
			Message: "missing email address",
		})
		return
	}

	timeout := c.server.cfg.WSDefaultWaitTimeout
	if intent.Payload.Timeout != nil {
		timeout = time.Duration(*intent.Payload.Timeout) *
			time.Millisecond
	}

	log.InfoS(context.Background(), "WebSocket wait for code",
		"client_id", c.id, "email", email, "timeout", timeout)

	future := c.server.waiter.Wait(
		context.Background(), c.id, email, timeout,
	)

	c.Send(&WSMessage{
		Type:    WSMsgTypeWaiting,
		Email:   email,
		Message: "waiting for verification code",
	})

	go func() {
		// While the wait is outstanding, nudge the watcher on a
		// fixed cadence in case the transport's push notifications
		// are not firing.
		done := make(chan struct{})
		go c.runRepeatChecks(done)

		result := future.Await(context.Background())
		close(done)

		ev, err := result.Unpack()
		switch {
		case err == nil:
			c.Send(&WSMessage{
				Type:    WSMsgTypeCodeReceived,
				Payload: newCodeEvent(ev),
			})

		case errors.Is(err, correlate.ErrWaitTimeout):
			c.Send(&WSMessage{
				Type:    WSMsgTypeTimeout,
				Message: "timed out waiting for " +
					"verification code",
			})

		default:
			// Cancelled or superseded: the triggering path
			// already answered the client.
		}
	}()
}

// runRepeatChecks triggers periodic mailbox checks until done is closed.
func (c *WSClient) runRepeatChecks(done <-chan struct{}) {
	interval := c.server.cfg.WSClientCheckInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.server.watcher.Tell(
				context.Background(), watch.CheckNowMsg{
					Reason: "ws client interval",
				},
			)

		case <-done:
			return
		}
	}
}
