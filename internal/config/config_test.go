package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeEnvFile(t, `MAILAI_MODE=production
MAILAI_PORT=9090
MAILAI_COOLDOWN_PERIOD=10
MAILAI_MAX_EMAILS_PER_DAY=25
MAILAI_BCC_EMAILS=audit@example.com, boss@example.com
MAILAI_PERSONA_SUPPORT=1
MAILAI_SUPPORT_EMAIL_USER=support@example.com
MAILAI_SUPPORT_EMAIL_PASSWORD=abcd efgh ijkl
MAILAI_SUPPORT_EMAIL_IMAP=imap.example.com
MAILAI_SUPPORT_EMAIL_PORT=1993
MAILAI_SUPPORT_MARKING=seen
MAILAI_SUPPORT_PROMPT=prompts/support.txt
MAILAI_SUPPORT_AI=openai
MAILAI_SUPPORT_OPENAI_API_KEY=sk-test
MAILAI_SUPPORT_OPENAI_MODEL=gpt-4o-mini
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.Equal(t, 9090, cfg.MonitorPort)
	assert.Equal(t, 10*time.Minute, cfg.CooldownPeriod)
	assert.Equal(t, 25, cfg.MaxEmailsPerDay)
	assert.Equal(t, []string{"audit@example.com", "boss@example.com"}, cfg.BCCEmails)
	assert.Equal(t, path, cfg.StateFile)

	persona := cfg.Personas["support"]
	require.NotNil(t, persona)
	assert.Equal(t, "support@example.com", persona.EmailUser)
	// App passwords are pasted with spaces; they must be stripped.
	assert.Equal(t, "abcdefghijkl", persona.EmailPassword)
	assert.Equal(t, "imap.example.com", persona.EmailIMAP)
	assert.Equal(t, 1993, persona.EmailPort)
	assert.Equal(t, MarkSeen, persona.Marking)
	assert.Equal(t, "prompts/support.txt", persona.Prompt)
	assert.Equal(t, "openai", persona.AI.Provider)
	assert.Equal(t, "sk-test", persona.AI.Params["api_key"])
	assert.Equal(t, "gpt-4o-mini", persona.AI.Params["model"])
}

func TestLoadDefaults(t *testing.T) {
	path := writeEnvFile(t, `MAILAI_PERSONA_SUPPORT=1
MAILAI_SUPPORT_EMAIL_USER=support@example.com
MAILAI_SUPPORT_EMAIL_PASSWORD=secret
MAILAI_SUPPORT_EMAIL_IMAP=imap.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeDevelopment, cfg.Mode)
	assert.Equal(t, 8080, cfg.MonitorPort)
	assert.Equal(t, 5*time.Minute, cfg.CooldownPeriod)
	assert.Equal(t, 10, cfg.MaxEmailsPerDay)

	persona := cfg.Personas["support"]
	require.NotNil(t, persona)
	assert.Equal(t, 993, persona.EmailPort)
	assert.Equal(t, 465, persona.EmailSMTPPort)
	assert.Equal(t, MarkFlag, persona.Marking)
	// SMTP host falls back to the IMAP host.
	assert.Equal(t, "imap.example.com", persona.EmailSMTP)
	assert.Equal(t, "unavailable", persona.AI.Provider)
	assert.Equal(t, "Service unavailable", persona.AI.UnavailableMessage)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeEnvFile(t, `MAILAI_MODE=production
MAILAI_PERSONA_SUPPORT=1
MAILAI_SUPPORT_EMAIL_USER=support@example.com
MAILAI_SUPPORT_EMAIL_PASSWORD=secret
MAILAI_SUPPORT_EMAIL_IMAP=imap.example.com
`)
	t.Setenv("MAILAI_MODE", "testing")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeTesting, cfg.Mode)
}

func TestUppercaseProviderRejected(t *testing.T) {
	path := writeEnvFile(t, `MAILAI_PERSONA_SUPPORT=1
MAILAI_SUPPORT_EMAIL_USER=support@example.com
MAILAI_SUPPORT_EMAIL_PASSWORD=secret
MAILAI_SUPPORT_EMAIL_IMAP=imap.example.com
MAILAI_SUPPORT_AI=OpenAI
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lowercase")
}

func TestValidateRejectsBadMode(t *testing.T) {
	path := writeEnvFile(t, `MAILAI_MODE=staging
MAILAI_PERSONA_SUPPORT=1
MAILAI_SUPPORT_EMAIL_USER=support@example.com
MAILAI_SUPPORT_EMAIL_PASSWORD=secret
MAILAI_SUPPORT_EMAIL_IMAP=imap.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}

func TestValidateRequiresPersonas(t *testing.T) {
	path := writeEnvFile(t, "MAILAI_MODE=production\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no personas")
}

func TestPersonaValidateNamesMissingFields(t *testing.T) {
	persona := &Persona{ID: "support", Marking: MarkFlag, AI: AIConfig{Provider: "openai"}}
	err := persona.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email_user")
	assert.Contains(t, err.Error(), "email_password")
	assert.Contains(t, err.Error(), "email_imap")
}

func TestManagedAddresses(t *testing.T) {
	cfg := &Config{Personas: map[string]*Persona{
		"a": {EmailUser: "a@example.com"},
		"b": {EmailUser: "b@example.com"},
	}}
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, cfg.ManagedAddresses())
}
