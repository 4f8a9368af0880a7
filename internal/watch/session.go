package watch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/codewatch/codewatch/internal/config"
)

// RawMessage is a fetched mailbox message, reduced to the fields the
// extractor and fanout care about.
type RawMessage struct {
	// UID is the mailbox-assigned message identifier.
	UID uint32

	// From is the sender address.
	From string

	// To is the ordered recipient list with duplicates removed.
	To []string

	// Subject is the decoded subject line.
	Subject string

	// Text is the text/plain body, if any.
	Text string

	// HTML is the text/html body, if any.
	HTML string

	// ReceivedAt is the server's internal date for the message.
	ReceivedAt time.Time
}

// Session is one live, authenticated mailbox session. Implementations are
// not safe for concurrent use; the watcher actor is the single owner and
// serializes every call.
type Session interface {
	// UnseenUIDs returns the UIDs of all unread messages.
	UnseenUIDs(ctx context.Context) ([]uint32, error)

	// UnseenUIDsBefore returns the UIDs of unread messages received
	// before the given time.
	UnseenUIDsBefore(ctx context.Context, before time.Time) ([]uint32,
		error)

	// FetchMessage fetches and parses one message by UID.
	FetchMessage(ctx context.Context, uid uint32) (*RawMessage, error)

	// MarkSeen flags the given messages as read.
	MarkSeen(ctx context.Context, uids []uint32) error

	// Noop probes the connection. An error means the session is dead.
	Noop(ctx context.Context) error

	// Close logs out and tears the session down.
	Close(ctx context.Context) error
}

// Dialer establishes mail sessions. onNewMail is invoked (from a transport
// goroutine) whenever the server pushes a new-mail notification on the
// session; callers must treat it as a wakeup signal only.
type Dialer interface {
	Dial(ctx context.Context, onNewMail func()) (Session, error)
}

// imapDialer dials real IMAP sessions per the mail configuration.
type imapDialer struct {
	cfg config.MailConfig
}

// NewIMAPDialer builds a Dialer for the configured IMAP endpoint.
func NewIMAPDialer(cfg config.MailConfig) Dialer {
	return &imapDialer{cfg: cfg}
}

// Dial connects, authenticates, and selects the watched mailbox.
func (d *imapDialer) Dial(_ context.Context,
	onNewMail func()) (Session, error) {

	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					onNewMail()
				}
			},
		},
	}
	if d.cfg.TLSSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	addr := d.cfg.Addr()

	var (
		client *imapclient.Client
		err    error
	)
	if d.cfg.TLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	err = client.Login(d.cfg.Username, d.cfg.Password).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("authenticating %s: %w",
			d.cfg.Username, err)
	}

	if _, err := client.Select(d.cfg.Mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", d.cfg.Mailbox, err)
	}

	return &imapSession{client: client}, nil
}

// imapSession implements Session over a go-imap v2 client.
type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) UnseenUIDs(ctx context.Context) ([]uint32, error) {
	return s.search(ctx, &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	})
}

func (s *imapSession) UnseenUIDsBefore(ctx context.Context,
	before time.Time) ([]uint32, error) {

	return s.search(ctx, &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Before:  before,
	})
}

func (s *imapSession) search(_ context.Context,
	criteria *imap.SearchCriteria) ([]uint32, error) {

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching mailbox: %w", err)
	}

	raw := data.AllUIDs()
	uids := make([]uint32, len(raw))
	for i, uid := range raw {
		uids[i] = uint32(uid)
	}

	return uids, nil
}

func (s *imapSession) FetchMessage(_ context.Context,
	uid uint32) (*RawMessage, error) {

	uidSet := imap.UIDSetNum(imap.UID(uid))

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{
		Envelope:     true,
		InternalDate: true,
		UID:          true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message UID %d: %w",
			uid, err)
	}

	raw := &RawMessage{
		UID:        uid,
		ReceivedAt: buf.InternalDate,
	}

	if buf.Envelope != nil {
		raw.Subject = buf.Envelope.Subject
		if len(buf.Envelope.From) > 0 {
			raw.From = buf.Envelope.From[0].Addr()
		}

		seen := make(map[string]struct{}, len(buf.Envelope.To))
		for _, to := range buf.Envelope.To {
			addr := to.Addr()
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			raw.To = append(raw.To, addr)
		}
	}

	if body := buf.FindBodySection(bodySection); body != nil {
		raw.Text, raw.HTML = parseBody(body)
	}

	if err := fetchCmd.Close(); err != nil {
		return raw, fmt.Errorf("closing fetch for UID %d: %w",
			uid, err)
	}

	return raw, nil
}

func (s *imapSession) MarkSeen(_ context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	nums := make([]imap.UID, len(uids))
	for i, uid := range uids {
		nums[i] = imap.UID(uid)
	}

	cmd := s.client.Store(imap.UIDSetNum(nums...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("marking %d messages seen: %w",
			len(uids), err)
	}

	return nil
}

func (s *imapSession) Noop(_ context.Context) error {
	return s.client.Noop().Wait()
}

func (s *imapSession) Close(_ context.Context) error {
	return s.client.Logout().Wait()
}

// parseBody extracts the inline text/plain and text/html parts of a raw
// RFC 5322 message. A body that fails MIME parsing is treated as one big
// plain text blob rather than discarded.
func parseBody(raw []byte) (text, html string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			// Attachments are out of scope for code extraction.
			continue
		}

		contentType, _, _ := header.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			text += string(body)
		case strings.HasPrefix(contentType, "text/html"):
			html += string(body)
		}
	}

	return text, html
}
