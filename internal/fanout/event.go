package fanout

import "time"

// Event is the record produced once per message a verification code was
// extracted from. It is immutable after construction.
type Event struct {
	// Recipients is the ordered "To" address list with duplicates
	// removed.
	Recipients []string

	// Sender is the "From" address.
	Sender string

	// Subject is the message subject.
	Subject string

	// Code is the extracted verification code.
	Code string

	// ReceivedAt is when the message arrived at the mailbox.
	ReceivedAt time.Time
}
