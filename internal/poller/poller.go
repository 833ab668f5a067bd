// Package poller runs one event-driven fetch/process pipeline per persona.
// Personas are independent of each other; within one persona the pipeline is
// strictly serial, so a new-mail notification arriving mid-batch simply
// queues behind the current cycle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mailai-go/internal/config"
	"mailai-go/internal/fetcher"
	"mailai-go/internal/metrics"
	"mailai-go/internal/processor"
)

// reconnectDelay is the fixed backoff between IMAP reconnect attempts.
// Deliberately constant: repeated failures retry at the same interval until
// shutdown.
const reconnectDelay = 30 * time.Second

// Poller drives one persona's mailbox.
type Poller struct {
	persona    *config.Persona
	cfg        *config.Config
	mailbox    *fetcher.Mailbox
	controller *processor.Controller
	metrics    *metrics.Metrics
	kick       chan struct{}
	fatal      chan<- error
}

// Kick requests an immediate poll cycle. Non-blocking; a pending kick is
// enough.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) run(ctx context.Context) {
	log := logrus.WithField("persona", p.persona.ID)

	for {
		if ctx.Err() != nil {
			p.mailbox.Close()
			return
		}

		if !p.mailbox.Connected() {
			if err := p.mailbox.Connect(); err != nil {
				log.Errorf("IMAP connection failed: %v", err)
				if p.metrics != nil {
					p.metrics.Reconnects.Inc()
				}
				if !sleep(ctx, reconnectDelay) {
					return
				}
				continue
			}
		}

		if err := p.cycle(ctx); err != nil {
			var procErr *processingError
			if errors.As(err, &procErr) {
				// Fail fast outside production so problems surface during
				// development; app handles the escalation.
				log.Errorf("Stopping due to processing error in %s mode: %v", p.cfg.Mode, procErr.err)
				p.fatal <- procErr.err
				return
			}
			log.Errorf("Mailbox cycle failed, reconnecting in %s: %v", reconnectDelay, err)
			p.mailbox.Close()
			if p.metrics != nil {
				p.metrics.Reconnects.Inc()
			}
			if !sleep(ctx, reconnectDelay) {
				return
			}
			continue
		}

		if err := p.mailbox.WaitNewMail(ctx, p.kick); err != nil {
			log.Errorf("IMAP connection lost, reconnecting in %s: %v", reconnectDelay, err)
			p.mailbox.Close()
			if p.metrics != nil {
				p.metrics.Reconnects.Inc()
			}
			if !sleep(ctx, reconnectDelay) {
				return
			}
		}
	}
}

// cycle fetches up to MaxEmailsPerBatch messages and feeds them to the
// controller in BatchSize chunks, so cancellation and reconnects never strand
// more than one chunk of work.
func (p *Poller) cycle(ctx context.Context) error {
	msgs, err := p.mailbox.FetchBatch(p.cfg.MaxEmailsPerBatch)
	if err != nil {
		return err
	}
	for start := 0; start < len(msgs); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(msgs))
		if err := p.controller.ProcessBatch(ctx, p.mailbox, p.persona, msgs[start:end]); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &processingError{err: err}
		}
	}
	return nil
}

// processingError separates lifecycle failures (escalate in non-production
// modes) from connection failures (always reconnect).
type processingError struct {
	err error
}

func (e *processingError) Error() string { return e.err.Error() }
func (e *processingError) Unwrap() error { return e.err }

// sleep waits d or until ctx is done; returns false when cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Manager owns all pollers plus the cron sweep that backstops IDLE.
type Manager struct {
	cfg        *config.Config
	controller *processor.Controller
	metrics    *metrics.Metrics

	pollers map[string]*Poller
	cron    *cron.Cron
	fatal   chan error
	wg      sync.WaitGroup
}

// NewManager builds one poller per configured persona.
func NewManager(cfg *config.Config, controller *processor.Controller, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		cfg:        cfg,
		controller: controller,
		metrics:    m,
		pollers:    make(map[string]*Poller),
		cron:       cron.New(),
		fatal:      make(chan error, len(cfg.Personas)),
	}
	for id, persona := range cfg.Personas {
		mgr.pollers[id] = &Poller{
			persona:    persona,
			cfg:        cfg,
			mailbox:    fetcher.NewMailbox(persona, cfg.MinDays, cfg.MaxDays),
			controller: controller,
			metrics:    m,
			kick:       make(chan struct{}, 1),
			fatal:      mgr.fatal,
		}
	}
	return mgr
}

// Start launches every poller and the periodic sweep.
func (m *Manager) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %dm", m.cfg.SweepIntervalMinutes)
	if _, err := m.cron.AddFunc(schedule, m.KickAll); err != nil {
		return fmt.Errorf("failed to schedule mailbox sweep: %w", err)
	}
	m.cron.Start()

	for id, p := range m.pollers {
		m.wg.Add(1)
		go func(id string, p *Poller) {
			defer m.wg.Done()
			logrus.Infof("Starting mailbox poller for persona %q", id)
			p.run(ctx)
			logrus.Infof("Mailbox poller for persona %q stopped", id)
		}(id, p)
	}

	logrus.Infof("Started %d mailbox poller(s), sweep interval %d minute(s)",
		len(m.pollers), m.cfg.SweepIntervalMinutes)
	return nil
}

// KickAll requests an immediate cycle on every persona.
func (m *Manager) KickAll() {
	for _, p := range m.pollers {
		p.Kick()
	}
}

// Fatal delivers escalated processing errors from non-production modes.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Wait blocks until every poller has exited. Call after cancelling the
// context passed to Start.
func (m *Manager) Wait() {
	m.cron.Stop()
	m.wg.Wait()
}
