// Package plugins defines the typed hook points around message processing.
// A plugin implements only the capabilities it supports; dispatch is a
// statically-checked type assertion per hook, not name-based lookup.
package plugins

import (
	"context"

	"github.com/sirupsen/logrus"

	"mailai-go/internal/models"
)

// Plugin is a marker for anything registered with the registry. Capabilities
// are the optional interfaces below.
type Plugin interface {
	Name() string
}

// BeforeProcess runs after a message is admitted and before the completion
// request. It may normalize or annotate the message in place.
type BeforeProcess interface {
	BeforeProcess(ctx context.Context, msg *models.EmailMessage) error
}

// AfterProcess runs on the generated response before delivery and may
// rewrite it.
type AfterProcess interface {
	AfterProcess(ctx context.Context, msg *models.EmailMessage, response string) (string, error)
}

// OnError observes per-message failures. Observers must not panic; their
// own errors are logged and swallowed.
type OnError interface {
	OnError(ctx context.Context, msg *models.EmailMessage, err error)
}

// Registry holds the registered plugins in registration order.
type Registry struct {
	plugins []Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a plugin.
func (r *Registry) Register(p Plugin) {
	logrus.Infof("Registered plugin: %s", p.Name())
	r.plugins = append(r.plugins, p)
}

// RunBeforeProcess invokes every BeforeProcess capability in order. The
// first error aborts the chain.
func (r *Registry) RunBeforeProcess(ctx context.Context, msg *models.EmailMessage) error {
	for _, p := range r.plugins {
		hook, ok := p.(BeforeProcess)
		if !ok {
			continue
		}
		if err := hook.BeforeProcess(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// RunAfterProcess pipes the response through every AfterProcess capability.
func (r *Registry) RunAfterProcess(ctx context.Context, msg *models.EmailMessage, response string) (string, error) {
	for _, p := range r.plugins {
		hook, ok := p.(AfterProcess)
		if !ok {
			continue
		}
		out, err := hook.AfterProcess(ctx, msg, response)
		if err != nil {
			return response, err
		}
		response = out
	}
	return response, nil
}

// RunOnError notifies every OnError capability. Failures here never mask the
// original error.
func (r *Registry) RunOnError(ctx context.Context, msg *models.EmailMessage, procErr error) {
	for _, p := range r.plugins {
		hook, ok := p.(OnError)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logrus.Errorf("Plugin %s panicked in OnError: %v", p.Name(), rec)
				}
			}()
			hook.OnError(ctx, msg, procErr)
		}()
	}
}
