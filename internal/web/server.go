// Package web provides the two external entry points into the code watcher:
// a blocking HTTP API and a persistent WebSocket channel. Both funnel their
// wait/cancel intents through the shared correlate.Waiter, so neither ever
// touches the mailbox session or the registry directly.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/codewatch/codewatch/internal/baselib/actor"
	"github.com/codewatch/codewatch/internal/correlate"
	"github.com/codewatch/codewatch/internal/fanout"
	"github.com/codewatch/codewatch/internal/watch"
)

// Config holds configuration for the web server.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string

	// DefaultWaitTimeout applies to HTTP wait requests that omit a
	// timeout.
	DefaultWaitTimeout time.Duration

	// WSDefaultWaitTimeout applies to WebSocket waits that omit a
	// timeout.
	WSDefaultWaitTimeout time.Duration

	// WSClientCheckInterval is how often an outstanding WebSocket wait
	// nudges the watcher to re-scan the mailbox.
	WSClientCheckInterval time.Duration
}

// Server is the HTTP and WebSocket server.
type Server struct {
	cfg Config

	waiter  *correlate.Waiter
	watcher actor.ActorRef[watch.WatcherRequest, watch.WatcherResponse]
	hub     actor.ActorRef[fanout.HubRequest, fanout.HubResponse]

	wsHub *WSHub
	mux   *http.ServeMux
	srv   *http.Server
}

// NewServer creates the server and wires its routes. Call Start to begin
// serving.
func NewServer(cfg Config, waiter *correlate.Waiter,
	watcher actor.ActorRef[watch.WatcherRequest, watch.WatcherResponse],
	hub actor.ActorRef[fanout.HubRequest, fanout.HubResponse]) *Server {

	s := &Server{
		cfg:     cfg,
		waiter:  waiter,
		watcher: watcher,
		hub:     hub,
		mux:     http.NewServeMux(),
	}

	s.wsHub = NewWSHub()
	go s.wsHub.Run()

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
	s.mux.HandleFunc("POST /v1/check-mail", s.handleCheckMail)
	s.mux.HandleFunc("POST /v1/wait-for-code", s.handleWaitForCode)
	s.mux.HandleFunc("/ws", s.handleWebSocket)

	return s
}

// Handler returns the server's root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server until Shutdown or a listen error.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,

		// No write timeout: wait-for-code responses are held open up
		// to the caller's wait deadline.
	}

	log.InfoS(context.Background(), "Starting web server",
		"addr", s.cfg.Addr)

	return s.srv.ListenAndServe()
}

// Shutdown stops the WebSocket hub and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.wsHub != nil {
		s.wsHub.Stop()
	}

	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
