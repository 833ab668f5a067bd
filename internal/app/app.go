package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"mailai-go/internal/ai"
	"mailai-go/internal/auditlog"
	"mailai-go/internal/config"
	"mailai-go/internal/dedup"
	"mailai-go/internal/handlers"
	"mailai-go/internal/metrics"
	"mailai-go/internal/plugins"
	"mailai-go/internal/poller"
	"mailai-go/internal/processor"
	"mailai-go/internal/ratelimit"
	"mailai-go/internal/server"
	"mailai-go/internal/smtp"
	"mailai-go/internal/state"
)

// ErrRestartRequested signals that a meaningful configuration change was
// detected and the process should re-exec itself.
var ErrRestartRequested = errors.New("configuration changed, restart requested")

// Run initializes and starts the application, blocking until shutdown.
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting MailAI responder")

	envPath := os.Getenv("MAILAI_ENV_FILE")
	if envPath == "" {
		envPath = ".env"
	}

	cfg, err := config.Load(envPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Mode == config.ModeDevelopment {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.Infof("Running in %s mode with %d persona(s)", cfg.Mode, len(cfg.Personas))

	store := state.NewEnvStore(cfg.StateFile)
	counters := store.Load()

	// The restart watcher follows the config file; counters may live in a
	// separate state file that must stay unwatched.
	restart := make(chan struct{}, 1)
	watcher, err := state.NewWatcher(envPath, func() {
		select {
		case restart <- struct{}{}:
		default:
		}
	})
	if err != nil {
		logrus.WithError(err).Warn("Env file watching disabled")
	} else {
		if cfg.StateFile == envPath {
			// Counter writes land in the watched file; the guard keeps the
			// watcher from reacting to them.
			store.SetGuard(watcher)
		}
		defer watcher.Close()
	}

	audit, err := auditlog.Open(cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	registry := ai.NewRegistry()
	providers := make(map[string]ai.Provider, len(cfg.Personas))
	prompts := make(map[string]string, len(cfg.Personas))
	for id, persona := range cfg.Personas {
		provider, err := registry.ForPersona(persona)
		if err != nil {
			return err
		}
		providers[id] = provider

		prompt, err := ai.LoadPrompt(persona.Prompt)
		if err != nil {
			return fmt.Errorf("failed to load prompt for persona %q: %w", id, err)
		}
		prompts[id] = prompt
		logrus.Infof("Persona %q uses provider %s (marking: %s)", id, provider.Name(), persona.Marking)
	}

	limiter := ratelimit.New(ratelimit.Policy{
		MaxDailyEmails:   cfg.MaxEmailsPerDay,
		CooldownPeriod:   cfg.CooldownPeriod,
		ManagedAddresses: cfg.ManagedAddresses(),
	})
	tracker := dedup.NewTracker()
	hooks := registerPlugins()
	m := metrics.NewMetrics()
	sender := smtp.NewSender(cfg.Mode, cfg.BCCEmails)

	controller := processor.NewController(cfg, limiter, tracker, store, sender,
		providers, prompts, hooks, m, audit, counters)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := poller.NewManager(cfg, controller, m)
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pollers: %w", err)
	}

	h := handlers.NewHandlers(cfg, controller, tracker, audit)
	router := server.SetupRouter(cfg, h)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MonitorPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logrus.Infof("Starting monitor HTTP server on port %d", cfg.MonitorPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logrus.Infof("Received %s signal, shutting down", sig)
	case err := <-manager.Fatal():
		logrus.Errorf("Shutting down due to processing error in %s mode: %v", cfg.Mode, err)
		runErr = err
	case <-restart:
		runErr = ErrRestartRequested
	}

	cancel()
	manager.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	// Counters survive restarts; flush them last.
	if err := controller.Flush(); err != nil {
		logrus.Errorf("Failed to save counters during shutdown: %v", err)
	}

	if runErr != nil && !errors.Is(runErr, ErrRestartRequested) {
		return runErr
	}
	logrus.Info("Server stopped gracefully")
	return runErr
}

// registerPlugins wires the built-in hook plugins. Third-party deployments
// extend this list.
func registerPlugins() *plugins.Registry {
	r := plugins.NewRegistry()
	return r
}
