package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailai-go/internal/config"
	"mailai-go/internal/models"
)

func replyFixture() (*config.Persona, *models.EmailMessage) {
	persona := &config.Persona{
		ID:        "support",
		EmailUser: "support@example.com",
	}
	msg := &models.EmailMessage{
		UID:       7,
		From:      "alice@example.com",
		Subject:   "Invoice question",
		MessageID: "<abc123@example.com>",
	}
	return persona, msg
}

func TestBuildReply(t *testing.T) {
	sender := NewSender(config.ModeProduction, nil)
	persona, msg := replyFixture()

	raw, err := sender.buildReply(persona, msg, "Here is your invoice.")
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, "From: <support@example.com>")
	assert.Contains(t, text, "To: <alice@example.com>")
	assert.Contains(t, text, "Subject: Re: Invoice question")
	assert.Contains(t, text, "In-Reply-To: <abc123@example.com>")
	assert.Contains(t, text, "References: <abc123@example.com>")
	assert.NotContains(t, text, "X-MailAI-Mode")
	assert.Contains(t, text, "Here is your invoice.")
}

func TestBuildReplyTestingMode(t *testing.T) {
	sender := NewSender(config.ModeTesting, nil)
	persona, msg := replyFixture()

	raw, err := sender.buildReply(persona, msg, "body")
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, "Subject: [TEST] Re: Invoice question")
	assert.Contains(t, text, "X-MailAI-Mode: testing")
}

func TestBuildReplyIncludesBcc(t *testing.T) {
	sender := NewSender(config.ModeProduction, []string{"audit@example.com"})
	persona, msg := replyFixture()

	raw, err := sender.buildReply(persona, msg, "body")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Bcc: <audit@example.com>")
}
