// Package smtp delivers generated replies through each persona's SMTPS
// submission endpoint.
package smtp

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"mailai-go/internal/config"
	"mailai-go/internal/models"
)

// Sender sends reply mail for any persona. A fresh connection is made per
// message; outbound volume is low enough that pooling is not worth the
// bookkeeping.
type Sender struct {
	mode    config.Mode
	bcc     []string
	limiter *rate.Limiter
}

// NewSender creates a sender. bcc lists addresses silently copied on every
// reply.
func NewSender(mode config.Mode, bcc []string) *Sender {
	return &Sender{
		mode: mode,
		bcc:  bcc,
		// Pace outbound submissions so a burst of admitted messages cannot
		// trip provider spam heuristics.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// SendReply submits the generated reply for msg through the persona's SMTP
// host. It returns only after the server accepted the message.
func (s *Sender) SendReply(ctx context.Context, persona *config.Persona, msg *models.EmailMessage, body string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("outbound pacing interrupted: %w", err)
	}

	raw, err := s.buildReply(persona, msg, body)
	if err != nil {
		return fmt.Errorf("failed to build reply: %w", err)
	}

	rcpts := append([]string{msg.From}, s.bcc...)

	addr := fmt.Sprintf("%s:%d", persona.EmailSMTP, persona.EmailSMTPPort)
	client, err := smtp.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err)
	}
	defer client.Close()

	auth := sasl.NewPlainClient("", persona.EmailUser, persona.EmailPassword)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed for %s: %w", persona.EmailUser, err)
	}

	if err := client.SendMail(persona.EmailUser, rcpts, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send reply to %s: %w", msg.From, err)
	}

	logrus.WithFields(logrus.Fields{
		"persona": persona.ID,
		"to":      msg.From,
		"bcc":     len(s.bcc),
	}).Info("Reply sent")
	return nil
}

// buildReply renders the reply as a plain-text MIME message threading back
// onto the original via In-Reply-To/References.
func (s *Sender) buildReply(persona *config.Persona, msg *models.EmailMessage, body string) ([]byte, error) {
	var buf bytes.Buffer

	subject := "Re: " + msg.Subject
	if s.mode == config.ModeTesting {
		subject = "[TEST] " + subject
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: persona.EmailUser}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.From}})
	if len(s.bcc) > 0 {
		bcc := make([]*mail.Address, 0, len(s.bcc))
		for _, addr := range s.bcc {
			bcc = append(bcc, &mail.Address{Address: addr})
		}
		h.SetAddressList("Bcc", bcc)
	}
	h.SetSubject(subject)
	if msg.MessageID != "" {
		h.Set("In-Reply-To", msg.MessageID)
		h.Set("References", msg.MessageID)
	}
	if s.mode == config.ModeTesting {
		h.Set("X-MailAI-Mode", "testing")
	}

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}

	return buf.Bytes(), nil
}
