package watch

// Ledger tracks the mailbox UIDs whose messages have already produced a
// fanout, so a re-fetch of the same message never re-notifies subscribers.
// It only grows for the lifetime of the process, which is an accepted
// tradeoff given typical mailbox volumes.
//
// The ledger is mutated only from the watcher actor's timeline, so it needs
// no locking.
type Ledger struct {
	seen map[uint32]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		seen: make(map[uint32]struct{}),
	}
}

// Contains reports whether the UID has already been processed.
func (l *Ledger) Contains(uid uint32) bool {
	_, ok := l.seen[uid]
	return ok
}

// Add records a UID as processed. Adding an already-present UID is a no-op.
func (l *Ledger) Add(uid uint32) {
	l.seen[uid] = struct{}{}
}

// Len returns the number of recorded UIDs.
func (l *Ledger) Len() int {
	return len(l.seen)
}
