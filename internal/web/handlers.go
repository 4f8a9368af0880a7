package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/codewatch/codewatch/internal/actorutil"
	"github.com/codewatch/codewatch/internal/correlate"
	"github.com/codewatch/codewatch/internal/fanout"
	"github.com/codewatch/codewatch/internal/watch"
)

// codeEvent is the JSON shape of an extracted event returned to callers.
type codeEvent struct {
	From       string    `json:"from"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	Code       string    `json:"code"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func newCodeEvent(ev fanout.Event) codeEvent {
	return codeEvent{
		From:       ev.Sender,
		To:         ev.Recipients,
		Subject:    ev.Subject,
		Code:       ev.Code,
		ReceivedAt: ev.ReceivedAt,
	}
}

// waitForCodeRequest is the body of POST /v1/wait-for-code. Timeout is in
// milliseconds; a missing timeout uses the server default, while an explicit
// zero or negative value times out immediately.
type waitForCodeRequest struct {
	Email   string `json:"email"`
	Timeout *int64 `json:"timeout"`
}

// statusResponse is the body of GET /v1/status.
type statusResponse struct {
	EmailConnected      bool      `json:"emailConnected"`
	State               string    `json:"state"`
	ConnectedSince      time.Time `json:"connectedSince,omitzero"`
	ReconnectAttempts   int       `json:"reconnectAttempts"`
	ProcessedMessages   int       `json:"processedMessages"`
	ActiveSubscriptions int       `json:"activeSubscriptions"`
	PendingWaits        int       `json:"pendingWaits"`
	WSClients           int       `json:"wsClients"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.DebugS(context.Background(),
			"Failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}

// handleHealth is a trivial liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// handleStatus reports the mailbox connection state and registry occupancy.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := actorutil.AskAwaitTyped[watch.WatcherRequest,
		watch.WatcherResponse, watch.StatusData](
		ctx, s.watcher, watch.StatusMsg{},
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stats, err := actorutil.AskAwaitTyped[fanout.HubRequest,
		fanout.HubResponse, fanout.StatsResponse](
		ctx, s.hub, fanout.StatsMsg{},
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		EmailConnected:      status.Connected,
		State:               status.State,
		ConnectedSince:      status.ConnectedSince,
		ReconnectAttempts:   status.ReconnectAttempts,
		ProcessedMessages:   status.ProcessedMessages,
		ActiveSubscriptions: stats.ActiveSubscriptions,
		PendingWaits:        s.waiter.PendingCount(),
		WSClients:           s.wsHub.ClientCount(),
	})
}

// handleCheckMail triggers an immediate mailbox scan and waits for the
// watcher to acknowledge it.
func (s *Server) handleCheckMail(w http.ResponseWriter, r *http.Request) {
	_, err := actorutil.AskAwait[watch.WatcherRequest,
		watch.WatcherResponse](r.Context(), s.watcher, watch.CheckNowMsg{
		Reason: "manual",
	})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleWaitForCode blocks until a code addressed to the requested recipient
// arrives, or the timeout passes (408).
func (s *Server) handleWaitForCode(w http.ResponseWriter, r *http.Request) {
	var req waitForCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing email address")
		return
	}

	timeout := s.cfg.DefaultWaitTimeout
	if req.Timeout != nil {
		timeout = time.Duration(*req.Timeout) * time.Millisecond
	}

	// Every HTTP request is its own wait owner, so concurrent requests
	// never supersede each other.
	clientID := "http-" + uuid.NewString()

	log.InfoS(r.Context(), "HTTP wait for code",
		"client_id", clientID, "email", req.Email,
		"timeout", timeout)

	future := s.waiter.Wait(r.Context(), clientID, req.Email, timeout)

	ev, err := future.Await(r.Context()).Unpack()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    newCodeEvent(ev),
		})

	case errors.Is(err, correlate.ErrWaitTimeout):
		writeError(w, http.StatusRequestTimeout,
			"timed out waiting for verification code")

	case r.Context().Err() != nil:
		// Caller went away; drop the wait and write nothing.
		s.waiter.Cancel(clientID)

	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
