package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"mailai-go/internal/config"
	"mailai-go/internal/models"
)

const (
	dialTimeout    = 10 * time.Second
	commandTimeout = 30 * time.Second
	// idleRestart bounds a single IDLE command; well under the RFC 2177
	// 29 minute limit.
	idleRestart = 5 * time.Minute
)

// Mailbox is one persona's IMAP connection. All methods are called from that
// persona's poller goroutine only; the type is not safe for concurrent use.
type Mailbox struct {
	persona *config.Persona
	// minDays/maxDays bound the age of messages considered for a reply;
	// anything older than maxDays is stale, anything younger than minDays is
	// left for a human first.
	minDays int
	maxDays int

	client *client.Client
	// notify carries at most one pending new-mail signal, fed by the drain
	// goroutine that owns the client's updates channel.
	notify    chan struct{}
	drainStop chan struct{}
}

// NewMailbox creates an unconnected mailbox for the persona. minDays and
// maxDays bound the message age window; zero disables the respective bound.
func NewMailbox(persona *config.Persona, minDays, maxDays int) *Mailbox {
	return &Mailbox{persona: persona, minDays: minDays, maxDays: maxDays}
}

// Connect dials, authenticates and selects INBOX.
func (m *Mailbox) Connect() error {
	addr := fmt.Sprintf("%s:%d", m.persona.EmailIMAP, m.persona.EmailPort)
	dialer := &net.Dialer{Timeout: dialTimeout}

	c, err := client.DialWithDialerTLS(dialer, addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err)
	}
	c.Timeout = commandTimeout

	if err := c.Login(m.persona.EmailUser, m.persona.EmailPassword); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login to IMAP server as %s: %w", m.persona.EmailUser, err)
	}

	if _, err := c.Select("INBOX", false); err != nil {
		c.Logout()
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	updates := make(chan client.Update, 16)
	m.notify = make(chan struct{}, 1)
	m.drainStop = make(chan struct{})
	go drainUpdates(updates, m.notify, m.drainStop)
	c.Updates = updates
	m.client = c

	logrus.WithField("persona", m.persona.ID).Info("IMAP connection ready")
	return nil
}

// Connected reports whether a live connection is held.
func (m *Mailbox) Connected() bool {
	return m.client != nil && m.client.State() != imap.LogoutState
}

// Close logs out and drops the connection.
func (m *Mailbox) Close() {
	if m.client == nil {
		return
	}
	if err := m.client.Logout(); err != nil {
		logrus.WithField("persona", m.persona.ID).Debugf("IMAP logout: %v", err)
	}
	close(m.drainStop)
	m.client = nil
}

// drainUpdates consumes unilateral server updates for the lifetime of one
// connection. The client blocks delivering updates once the channel buffer
// fills, which would stall every in-flight command during a long processing
// cycle, so the channel must always have a reader. Mailbox updates collapse
// into a single pending new-mail notification; everything else is discarded.
func drainUpdates(updates <-chan client.Update, notify chan<- struct{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				select {
				case notify <- struct{}{}:
				default:
				}
			}
		}
	}
}

// searchCriteria returns the unanswered-message search for the persona's
// marking strategy: UNSEEN for the seen strategy, everything without the
// custom answered keyword otherwise.
func (m *Mailbox) searchCriteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if m.persona.Marking == config.MarkSeen {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	} else {
		criteria.WithoutFlags = []string{models.AnsweredFlag}
	}
	now := time.Now()
	if m.maxDays > 0 {
		criteria.Since = now.AddDate(0, 0, -m.maxDays)
	}
	if m.minDays > 0 {
		criteria.Before = now.AddDate(0, 0, -m.minDays)
	}
	return criteria
}

// FetchBatch searches for unanswered messages and fetches up to max of
// them. Bodies are fetched with PEEK so nothing is implicitly marked before
// the lifecycle controller decides.
func (m *Mailbox) FetchBatch(max int) ([]models.EmailMessage, error) {
	if m.client == nil {
		return nil, fmt.Errorf("mailbox not connected")
	}

	uids, err := m.client.UidSearch(m.searchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > max {
		uids = uids[:max]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- m.client.UidFetch(seqset, items, messages)
	}()

	var emails []models.EmailMessage
	for msg := range messages {
		email, err := m.parseMessage(msg, section)
		if err != nil {
			logrus.WithField("persona", m.persona.ID).Warnf("Failed to parse message %d: %v", msg.Uid, err)
			continue
		}
		emails = append(emails, email)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	logrus.WithField("persona", m.persona.ID).Infof("Fetched %d unanswered message(s)", len(emails))
	return emails, nil
}

// parseMessage converts a fetched IMAP message into the transient model.
func (m *Mailbox) parseMessage(msg *imap.Message, section *imap.BodySectionName) (models.EmailMessage, error) {
	email := models.EmailMessage{
		UID:       msg.Uid,
		PersonaID: m.persona.ID,
		Keywords:  msg.Flags,
	}

	if env := msg.Envelope; env != nil {
		email.Subject = env.Subject
		email.Date = env.Date
		email.MessageID = env.MessageId
		if len(env.From) > 0 {
			email.From = env.From[0].Address()
		}
		for _, addr := range env.To {
			email.To = append(email.To, addr.Address())
		}
		for _, addr := range env.Cc {
			email.CC = append(email.CC, addr.Address())
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return email, fmt.Errorf("no body section in fetch response")
	}
	body, err := extractText(r)
	if err != nil {
		return email, err
	}
	email.Body = body
	return email, nil
}

// extractText pulls the text/plain part out of the raw message, falling back
// to text/html content as-is.
func extractText(r io.Reader) (string, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("failed to read message: %w", err)
	}

	var plain, html string
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("failed to read part: %w", err)
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("failed to read part body: %w", err)
			}
			contentType := part.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") && plain == "" {
				plain = string(content)
			} else if strings.Contains(contentType, "text/html") && html == "" {
				html = string(content)
			}
		}
	} else {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read message body: %w", err)
		}
		contentType := entity.Header.Get("Content-Type")
		if strings.Contains(contentType, "text/html") {
			html = string(content)
		} else {
			plain = string(content)
		}
	}

	if plain != "" {
		return plain, nil
	}
	return html, nil
}

// MarkAnswered applies the durable marker for the persona's strategy. This
// runs after a non-empty completion and before delivery, so a crash between
// mark and send leaves a marked-but-unanswered message rather than a
// double reply.
func (m *Mailbox) MarkAnswered(uid uint32, marking config.Marking) error {
	if m.client == nil {
		return fmt.Errorf("mailbox not connected")
	}

	flag := models.AnsweredFlag
	if marking == config.MarkSeen {
		flag = imap.SeenFlag
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := m.client.UidStore(seqset, item, []interface{}{flag}, nil); err != nil {
		return fmt.Errorf("failed to mark message %d with %s: %w", uid, flag, err)
	}
	logrus.WithField("persona", m.persona.ID).Infof("Marked message %d with %s", uid, flag)
	return nil
}

// WaitNewMail blocks until the server announces new mail, a kick arrives, the
// idle window expires, or the context ends. A non-nil error means the
// connection is broken and the caller should reconnect.
func (m *Mailbox) WaitNewMail(ctx context.Context, kick <-chan struct{}) error {
	if m.client == nil {
		return fmt.Errorf("mailbox not connected")
	}

	stop := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() {
		// Falls back to NOOP polling when the server lacks IDLE.
		idleDone <- m.client.Idle(stop, &client.IdleOptions{PollInterval: time.Minute})
	}()

	timer := time.NewTimer(idleRestart)
	defer timer.Stop()

	stopIdle := func() error {
		close(stop)
		return <-idleDone
	}

	select {
	case <-ctx.Done():
		stopIdle()
		return nil
	case <-kick:
		return stopIdle()
	case <-timer.C:
		return stopIdle()
	case err := <-idleDone:
		if err != nil {
			return fmt.Errorf("idle failed: %w", err)
		}
		return nil
	case <-m.notify:
		logrus.WithField("persona", m.persona.ID).Debug("New mail notification")
		return stopIdle()
	}
}
