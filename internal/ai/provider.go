package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"mailai-go/internal/config"
)

// Message is one entry of the prompt conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider generates a reply from a prompt conversation. Implementations
// must respect the context deadline.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Factory builds a provider from a persona's AI configuration.
type Factory func(cfg config.AIConfig) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("openai", newOpenAI)
	r.Register("unavailable", newUnavailable)
	return r
}

// Register adds a provider factory under the given (lowercase) name.
func (r *Registry) Register(name string, factory Factory) {
	r.factories[name] = factory
}

// ForPersona instantiates the provider a persona is configured with.
func (r *Registry) ForPersona(p *config.Persona) (Provider, error) {
	factory, ok := r.factories[p.AI.Provider]
	if !ok {
		names := make([]string, 0, len(r.factories))
		for name := range r.factories {
			names = append(names, name)
		}
		return nil, fmt.Errorf("unknown AI provider %q for persona %q, available: %s",
			p.AI.Provider, p.ID, strings.Join(names, ", "))
	}
	provider, err := factory(p.AI)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider for persona %q: %w", p.AI.Provider, p.ID, err)
	}
	return provider, nil
}

// unavailable is the fallback provider: it answers every message with a
// fixed out-of-service note.
type unavailable struct {
	message string
}

func newUnavailable(cfg config.AIConfig) (Provider, error) {
	msg := cfg.UnavailableMessage
	if msg == "" {
		msg = "Service unavailable"
	}
	return &unavailable{message: msg}, nil
}

func (u *unavailable) Name() string { return "unavailable" }

func (u *unavailable) Complete(ctx context.Context, messages []Message) (string, error) {
	return u.message, nil
}

// BasePrompt frames every persona's custom prompt.
const BasePrompt = "You are an email assistant answering on behalf of the mailbox owner. " +
	"Write a concise, polite reply to the message below. Do not invent commitments " +
	"the owner has not made."

// LoadPrompt resolves a persona prompt reference: a local path, a file://
// URL or an http(s):// URL. An empty reference yields an empty prompt.
func LoadPrompt(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(ref)
		if err != nil {
			return "", fmt.Errorf("failed to fetch prompt from %s: %w", ref, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("failed to fetch prompt from %s: status %d", ref, resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt body from %s: %w", ref, err)
		}
		return string(body), nil
	case strings.HasPrefix(ref, "file://"):
		ref = strings.TrimPrefix(ref, "file://")
		fallthrough
	default:
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file %s: %w", ref, err)
		}
		return string(data), nil
	}
}

// BuildMessages merges the base prompt with the persona prompt and the mail
// body into the conversation handed to the provider.
func BuildMessages(personaPrompt, sender, subject, body string) []Message {
	system := BasePrompt
	if personaPrompt != "" {
		system = system + "\n" + personaPrompt
	}
	user := fmt.Sprintf("From: %s\nSubject: %s\n\n%s", sender, subject, body)
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
