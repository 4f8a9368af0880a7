// Package watch owns the single stateful mailbox session. The Watcher actor
// runs the connect/search/fetch cycle, feeds fetched messages through the
// code extractor, consults the dedup ledger, and hands extracted events to
// the fanout hub.
package watch

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/codewatch/codewatch/internal/baselib/actor"
	"github.com/codewatch/codewatch/internal/extract"
	"github.com/codewatch/codewatch/internal/fanout"
)

// staleThreshold is how old an unread, unparseable message may get before
// the watcher marks it read anyway, so mail the extractor can never parse
// does not accumulate as perpetually unread.
const staleThreshold = 30 * time.Minute

// State is the mailbox connection state.
type State uint8

const (
	// StateDisconnected is the initial state before any dial.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateWatching means the session is live and the mailbox selected.
	StateWatching

	// StateReconnecting means the session died and a retry is scheduled.
	StateReconnecting

	// StateFailed means the reconnect budget is exhausted. Terminal.
	StateFailed

	// StateClosed means the watcher was shut down. Terminal.
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateWatching:
		return "watching"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WatcherConfig bundles the watcher's collaborators and tunables.
type WatcherConfig struct {
	// Dialer establishes mail sessions.
	Dialer Dialer

	// Extractor scans fetched messages for verification codes.
	Extractor *extract.Extractor

	// Hub receives a DispatchMsg for every extracted event.
	Hub actor.TellOnlyRef[fanout.HubRequest]

	// ReconnectMaxAttempts bounds consecutive failed connection
	// attempts.
	ReconnectMaxAttempts int

	// ReconnectDelay is the fixed delay between attempts.
	ReconnectDelay time.Duration

	// CheckInterval is the periodic mailbox check cadence.
	CheckInterval time.Duration
}

// Watcher is the actor behavior owning the mailbox session. All fields are
// touched only from the actor's message loop, except fatal, which is closed
// once and only read externally.
type Watcher struct {
	cfg WatcherConfig

	state   State
	session Session
	ledger  *Ledger

	self        actor.TellOnlyRef[WatcherRequest]
	attempts    int
	connectedAt time.Time

	reconnectTimer *time.Timer
	tickerStop     chan struct{}

	// fatal is closed when the reconnect budget is exhausted, so the
	// process can notice that no further mail will be observed.
	fatal chan struct{}
}

// NewWatcher creates a watcher in the disconnected state. It does nothing
// until it receives a StartMsg.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		cfg:    cfg,
		state:  StateDisconnected,
		ledger: NewLedger(),
		fatal:  make(chan struct{}),
	}
}

// Fatal returns a channel that is closed when the watcher gives up
// reconnecting for good.
func (w *Watcher) Fatal() <-chan struct{} {
	return w.fatal
}

// Receive implements actor.Behavior.
func (w *Watcher) Receive(ctx context.Context,
	msg WatcherRequest) fn.Result[WatcherResponse] {

	switch m := msg.(type) {
	case StartMsg:
		w.handleStart(ctx, m)
		return fn.Ok[WatcherResponse](AckResponse{})

	case connectMsg:
		w.handleConnect(ctx)
		return fn.Ok[WatcherResponse](AckResponse{})

	case CheckNowMsg:
		w.runCheck(ctx, m.Reason)
		return fn.Ok[WatcherResponse](AckResponse{})

	case connLostMsg:
		w.handleConnLost(ctx, m.err)
		return fn.Ok[WatcherResponse](AckResponse{})

	case StatusMsg:
		return fn.Ok[WatcherResponse](w.handleStatus())

	default:
		return fn.Err[WatcherResponse](ErrUnknownRequestType)
	}
}

// handleStart records the self reference, starts the periodic check ticker,
// and kicks off the first connection attempt.
func (w *Watcher) handleStart(ctx context.Context, msg StartMsg) {
	if w.self != nil {
		// Already started.
		return
	}
	w.self = msg.Self

	w.tickerStop = make(chan struct{})
	go w.runTicker(w.tickerStop)

	w.handleConnect(ctx)
}

// runTicker nudges the actor on the fixed check cadence. It runs outside the
// actor loop and only ever talks to it through Tell.
func (w *Watcher) runTicker(stop chan struct{}) {
	if w.cfg.CheckInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.self.Tell(context.Background(), CheckNowMsg{
				Reason: "interval",
			})

		case <-stop:
			return
		}
	}
}

// handleConnect attempts to establish the mail session.
func (w *Watcher) handleConnect(ctx context.Context) {
	switch w.state {
	case StateFailed, StateClosed, StateWatching:
		return
	}

	w.state = StateConnecting
	log.DebugS(ctx, "Connecting to mailbox",
		"attempt", w.attempts+1)

	session, err := w.cfg.Dialer.Dial(ctx, w.onNewMail)
	if err != nil {
		log.WarnS(ctx, "Mailbox connection failed", err,
			"attempt", w.attempts+1)
		w.scheduleReconnect(ctx)
		return
	}

	w.session = session
	w.state = StateWatching
	w.attempts = 0
	w.connectedAt = time.Now()

	log.InfoS(ctx, "Mailbox connected")

	// Scan right away so mail that arrived while we were down is picked
	// up without waiting for the next tick.
	w.runCheck(ctx, "connect")
}

// onNewMail is invoked from a transport goroutine when the server pushes a
// new-mail notification. It funnels the signal back onto the actor timeline.
func (w *Watcher) onNewMail() {
	w.self.Tell(context.Background(), CheckNowMsg{Reason: "push"})
}

// scheduleReconnect books the next connection attempt, or gives up when the
// budget is spent.
func (w *Watcher) scheduleReconnect(ctx context.Context) {
	w.attempts++
	if w.attempts > w.cfg.ReconnectMaxAttempts {
		w.state = StateFailed
		log.ErrorS(ctx, "Mailbox watching stopped",
			ErrReconnectBudgetExhausted,
			"attempts", w.attempts-1)
		close(w.fatal)
		return
	}

	w.state = StateReconnecting
	log.InfoS(ctx, "Scheduling mailbox reconnect",
		"attempt", w.attempts,
		"max_attempts", w.cfg.ReconnectMaxAttempts,
		"delay", w.cfg.ReconnectDelay)

	self := w.self
	w.reconnectTimer = time.AfterFunc(w.cfg.ReconnectDelay, func() {
		self.Tell(context.Background(), connectMsg{})
	})
}

// handleConnLost tears down the dead session and enters the reconnect path.
func (w *Watcher) handleConnLost(ctx context.Context, cause error) {
	if w.state != StateWatching {
		return
	}

	log.WarnS(ctx, "Mailbox connection lost", cause)

	if w.session != nil {
		_ = w.session.Close(ctx)
		w.session = nil
	}

	w.scheduleReconnect(ctx)
}

// runCheck scans the mailbox for unread messages and processes each one. It
// runs entirely on the actor timeline, so concurrent triggers (ticker, push
// notifications, explicit requests) are naturally serialized.
func (w *Watcher) runCheck(ctx context.Context, reason string) {
	if w.state != StateWatching {
		log.DebugS(ctx, "Skipping mailbox check",
			"reason", reason, "state", w.state)
		return
	}

	log.DebugS(ctx, "Checking mailbox", "reason", reason)

	uids, err := w.session.UnseenUIDs(ctx)
	if err != nil {
		w.handleOpError(ctx, "search", err)
		return
	}

	for _, uid := range uids {
		if w.ledger.Contains(uid) {
			continue
		}
		w.processMessage(ctx, uid)
	}

	w.sweepStale(ctx)
}

// processMessage fetches, parses, and extracts from a single message. A
// failure here only skips this message; the rest of the batch continues.
func (w *Watcher) processMessage(ctx context.Context, uid uint32) {
	raw, err := w.session.FetchMessage(ctx, uid)
	if err != nil {
		log.WarnS(ctx, "Failed to fetch message", err, "uid", uid)
		return
	}

	codeOpt := w.cfg.Extractor.Extract(raw.Subject, raw.Text, raw.HTML)
	if codeOpt.IsNone() {
		log.DebugS(ctx, "No code found in message",
			"uid", uid, "subject", raw.Subject)
		return
	}
	code := codeOpt.UnwrapOr("")

	// Ledger before fanout: a retried fetch of this UID must never
	// notify subscribers twice.
	w.ledger.Add(uid)

	if err := w.session.MarkSeen(ctx, []uint32{uid}); err != nil {
		log.WarnS(ctx, "Failed to mark message seen", err,
			"uid", uid)
	}

	event := fanout.Event{
		Recipients: raw.To,
		Sender:     raw.From,
		Subject:    raw.Subject,
		Code:       code,
		ReceivedAt: raw.ReceivedAt,
	}

	log.InfoS(ctx, "Verification code extracted",
		"uid", uid, "sender", raw.From,
		"recipients", len(raw.To), "code", code)

	w.cfg.Hub.Tell(ctx, fanout.DispatchMsg{Event: event})
}

// sweepStale bulk-marks unread messages older than the staleness threshold
// as read, so unparseable mail stops showing up in every scan.
func (w *Watcher) sweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-staleThreshold)

	uids, err := w.session.UnseenUIDsBefore(ctx, cutoff)
	if err != nil {
		w.handleOpError(ctx, "stale search", err)
		return
	}
	if len(uids) == 0 {
		return
	}

	if err := w.session.MarkSeen(ctx, uids); err != nil {
		log.WarnS(ctx, "Failed to mark stale messages seen", err,
			"count", len(uids))
		return
	}

	log.InfoS(ctx, "Marked stale unread messages as seen",
		"count", len(uids))
}

// handleOpError distinguishes a dead session from a transient operation
// failure. A Noop probe that also fails means the connection is gone; the
// current cycle is abandoned either way.
func (w *Watcher) handleOpError(ctx context.Context, op string, err error) {
	log.WarnS(ctx, "Mailbox operation failed", err, "op", op)

	if probeErr := w.session.Noop(ctx); probeErr != nil {
		w.handleConnLost(ctx, probeErr)
	}
}

// handleStatus snapshots the watcher state.
func (w *Watcher) handleStatus() StatusData {
	status := StatusData{
		State:             w.state.String(),
		Connected:         w.state == StateWatching,
		ReconnectAttempts: w.attempts,
		ProcessedMessages: w.ledger.Len(),
	}
	if w.state == StateWatching {
		status.ConnectedSince = w.connectedAt
	}

	return status
}

// OnStop implements actor.Stoppable: it stops timers and tears down the
// session when the actor shuts down.
func (w *Watcher) OnStop(ctx context.Context) error {
	if w.state == StateClosed {
		return nil
	}
	w.state = StateClosed

	if w.reconnectTimer != nil {
		w.reconnectTimer.Stop()
	}
	if w.tickerStop != nil {
		close(w.tickerStop)
	}

	if w.session != nil {
		err := w.session.Close(ctx)
		w.session = nil
		return err
	}

	return nil
}
