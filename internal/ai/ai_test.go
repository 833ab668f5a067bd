package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailai-go/internal/config"
)

func TestRegistryForPersona(t *testing.T) {
	registry := NewRegistry()

	persona := &config.Persona{ID: "support", AI: config.AIConfig{
		Provider: "unavailable",
	}}
	provider, err := registry.ForPersona(persona)
	require.NoError(t, err)
	assert.Equal(t, "unavailable", provider.Name())

	persona.AI.Provider = "nope"
	_, err = registry.ForPersona(persona)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
}

func TestUnavailableProvider(t *testing.T) {
	provider, err := newUnavailable(config.AIConfig{UnavailableMessage: "Out of office."})
	require.NoError(t, err)

	response, err := provider.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Out of office.", response)
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	_, err := newOpenAI(config.AIConfig{Params: map[string]string{"model": "gpt-4o-mini"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestOpenAIRejectsBadParams(t *testing.T) {
	_, err := newOpenAI(config.AIConfig{Params: map[string]string{
		"api_key": "sk-test", "temperature": "1.5",
	}})
	assert.Error(t, err)

	_, err = newOpenAI(config.AIConfig{Params: map[string]string{
		"api_key": "sk-test", "max_tokens": "-1",
	}})
	assert.Error(t, err)
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hello there"}}]}`))
	}))
	defer srv.Close()

	provider, err := newOpenAI(config.AIConfig{Params: map[string]string{
		"api_key":  "sk-test",
		"base_url": srv.URL,
	}})
	require.NoError(t, err)

	response, err := provider.Complete(context.Background(), BuildMessages("Be brief.", "alice@example.com", "hi", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", response)
}

func TestOpenAICompleteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	provider, err := newOpenAI(config.AIConfig{Params: map[string]string{
		"api_key": "sk-test", "base_url": srv.URL,
	}})
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestLoadPrompt(t *testing.T) {
	prompt, err := LoadPrompt("")
	require.NoError(t, err)
	assert.Empty(t, prompt)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("Answer in French."), 0o644))

	prompt, err = LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "Answer in French.", prompt)

	prompt, err = LoadPrompt("file://" + path)
	require.NoError(t, err)
	assert.Equal(t, "Answer in French.", prompt)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Answer in German."))
	}))
	defer srv.Close()

	prompt, err = LoadPrompt(srv.URL + "/prompt")
	require.NoError(t, err)
	assert.Equal(t, "Answer in German.", prompt)

	_, err = LoadPrompt(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestBuildMessages(t *testing.T) {
	messages := BuildMessages("Sign as Support.", "alice@example.com", "hi", "hello there")
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, BasePrompt)
	assert.Contains(t, messages[0].Content, "Sign as Support.")
	assert.Equal(t, "user", messages[1].Role)
	assert.Contains(t, messages[1].Content, "From: alice@example.com")
	assert.Contains(t, messages[1].Content, "Subject: hi")
	assert.Contains(t, messages[1].Content, "hello there")
}
