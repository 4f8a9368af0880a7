package web

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket message types pushed to clients.
const (
	WSMsgTypeConnected     = "connected"
	WSMsgTypeWaiting       = "waiting_for_code"
	WSMsgTypeCodeReceived  = "code_received"
	WSMsgTypeTimeout       = "timeout"
	WSMsgTypeWaitCancelled = "wait_cancelled"
	WSMsgTypePong          = "pong"
	WSMsgTypeError         = "error"
)

// Client intent types received over the socket.
const (
	wsIntentWaitForCode = "wait_for_code"
	wsIntentCancelWait  = "cancel_wait"
	wsIntentPing        = "ping"
)

// WSMessage is a message sent to a WebSocket client.
type WSMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	Email    string `json:"email,omitempty"`
	Message  string `json:"message,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// wsIntent is a message received from a WebSocket client.
type wsIntent struct {
	Type    string `json:"type"`
	Payload struct {
		Email string `json:"email"`

		// Timeout is in milliseconds. Missing means the server
		// default; explicit zero times out immediately.
		Timeout *int64 `json:"timeout"`
	} `json:"payload"`
}

// upgrader upgrades HTTP connections to WebSocket. Cross-origin automation
// clients are the normal case for this service, so origins are not checked.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSHub tracks the set of active WebSocket clients.
type WSHub struct {
	clients map[*WSClient]struct{}

	register   chan *WSClient
	unregister chan *WSClient

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWSHub creates a hub. Call Run to start its loop.
func NewWSHub() *WSHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSHub{
		clients:    make(map[*WSClient]struct{}),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run is the hub's main loop. It owns client set membership.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
			}
			h.clients = make(map[*WSClient]struct{})
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()

			log.DebugS(h.ctx, "WebSocket client registered",
				"client_id", client.id, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
			}
			total := len(h.clients)
			h.mu.Unlock()

			if ok {
				client.Close()
				log.DebugS(h.ctx,
					"WebSocket client unregistered",
					"client_id", client.id,
					"total", total)
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and closes every client.
func (h *WSHub) Stop() {
	h.cancel()
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.DebugS(r.Context(), "WebSocket upgrade failed",
			"err", err)
		return
	}

	client := NewWSClient(s, conn, "ws-"+uuid.NewString())

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.ctx.Done():
		conn.Close()
		return
	}

	client.Send(&WSMessage{
		Type:     WSMsgTypeConnected,
		ClientID: client.id,
		Message:  "connected",
	})

	go client.writePump()
	go client.readPump()
}
