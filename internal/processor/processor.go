package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mailai-go/internal/ai"
	"mailai-go/internal/auditlog"
	"mailai-go/internal/config"
	"mailai-go/internal/dedup"
	"mailai-go/internal/metrics"
	"mailai-go/internal/models"
	"mailai-go/internal/plugins"
	"mailai-go/internal/ratelimit"
	"mailai-go/internal/state"
)

// completionTimeout bounds a single AI completion request.
const completionTimeout = 60 * time.Second

// Status is the terminal outcome of one message's lifecycle.
type Status string

const (
	StatusAnswered Status = "answered"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Rejection reasons produced by the controller itself, on top of the rate
// limiter's.
const (
	ReasonDuplicate       ratelimit.Reason = "duplicate"
	ReasonAlreadyAnswered ratelimit.Reason = "already_answered"
)

// Outcome reports what happened to a message.
type Outcome struct {
	Status   Status
	Reason   ratelimit.Reason
	Response string
}

// Mailbox is the slice of the IMAP connection the controller needs: applying
// the durable answered marker.
type Mailbox interface {
	MarkAnswered(uid uint32, marking config.Marking) error
}

// Sender delivers a generated reply through the outbound transport.
type Sender interface {
	SendReply(ctx context.Context, persona *config.Persona, msg *models.EmailMessage, body string) error
}

// CounterStore persists counters between runs.
type CounterStore interface {
	Save(c *state.Counters) error
}

// Controller drives each fetched message through its lifecycle:
// admission, completion, durable marking, delivery, commit, persistence.
// It owns the shared counters; all mutation goes through its lock.
type Controller struct {
	cfg       *config.Config
	limiter   *ratelimit.Limiter
	tracker   *dedup.Tracker
	store     CounterStore
	sender    Sender
	providers map[string]ai.Provider
	prompts   map[string]string
	hooks     *plugins.Registry
	metrics   *metrics.Metrics
	audit     *auditlog.Store

	// mu guards counters: personas process concurrently but share the one
	// quota. Saving still races at the file level between two personas
	// finishing at once; last writer wins, an accepted gap.
	mu       sync.Mutex
	counters *state.Counters
}

// NewController wires the controller. providers and prompts are keyed by
// persona id. metrics and audit may be nil.
func NewController(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	tracker *dedup.Tracker,
	store CounterStore,
	sender Sender,
	providers map[string]ai.Provider,
	prompts map[string]string,
	hooks *plugins.Registry,
	m *metrics.Metrics,
	audit *auditlog.Store,
	counters *state.Counters,
) *Controller {
	return &Controller{
		cfg:       cfg,
		limiter:   limiter,
		tracker:   tracker,
		store:     store,
		sender:    sender,
		providers: providers,
		prompts:   prompts,
		hooks:     hooks,
		metrics:   m,
		audit:     audit,
		counters:  counters,
	}
}

// Snapshot returns a copy of the current counters for the monitor surface.
func (c *Controller) Snapshot() *state.Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters.Clone()
}

// Flush persists the current counters, used on graceful shutdown.
func (c *Controller) Flush() error {
	return c.store.Save(c.Snapshot())
}

// ProcessBatch runs every message of one polling cycle through the
// controller. In production mode per-message failures are logged and the
// batch continues; in every other mode the first failure aborts the batch so
// problems surface immediately during development.
func (c *Controller) ProcessBatch(ctx context.Context, mailbox Mailbox, persona *config.Persona, msgs []models.EmailMessage) error {
	for i := range msgs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg := &msgs[i]
		start := time.Now()
		_, err := c.ProcessMessage(ctx, mailbox, persona, msg)
		if c.metrics != nil {
			c.metrics.ProcessingTime.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if c.cfg.Mode == config.ModeProduction {
				logrus.WithFields(logrus.Fields{
					"persona": persona.ID,
					"uid":     msg.UID,
				}).Errorf("Failed to process email: %v", err)
				continue
			}
			return fmt.Errorf("processing message %d for persona %q: %w", msg.UID, persona.ID, err)
		}
	}
	return nil
}

// ProcessMessage runs one message through the lifecycle state machine.
// Rejections are normal outcomes with a nil error; a non-nil error always
// means a FAILED terminal state.
func (c *Controller) ProcessMessage(ctx context.Context, mailbox Mailbox, persona *config.Persona, msg *models.EmailMessage) (Outcome, error) {
	log := logrus.WithFields(logrus.Fields{"persona": persona.ID, "uid": msg.UID, "from": msg.From})

	// FETCHED -> ADMITTED. A message fetched twice in the same cycle, or one
	// already carrying the durable marker, is silently skipped without
	// touching any counter.
	if c.tracker.Seen(msg.PersonaID, msg.UID) {
		log.Debug("Message already handled in this process, skipping")
		return Outcome{Status: StatusSkipped, Reason: ReasonDuplicate}, nil
	}
	// The marker depends on the persona's strategy: the custom keyword always
	// counts, \Seen only for seen-marking personas. The search criteria
	// exclude both already; this closes the search-to-fetch race.
	if msg.HasAnsweredFlag() || (persona.Marking == config.MarkSeen && msg.HasSeenFlag()) {
		log.Debug("Message already carries the answered marker, skipping")
		return Outcome{Status: StatusSkipped, Reason: ReasonAlreadyAnswered}, nil
	}

	c.mu.Lock()
	decision := c.limiter.Admit(c.counters, msg)
	if !decision.Allow {
		c.counters.Skipped++
		snapshot := c.counters.Clone()
		c.mu.Unlock()
		c.persist(snapshot)
		if c.metrics != nil {
			c.metrics.Skipped.Inc()
		}
		c.audit.Record(auditlog.ResponseLog{
			PersonaID: persona.ID, UID: msg.UID, Sender: msg.From, Subject: msg.Subject,
			Status: string(StatusSkipped), Reason: string(decision.Reason),
		})
		log.Infof("Email %q not admitted: %s", msg.Subject, decision.Reason)
		return Outcome{Status: StatusSkipped, Reason: decision.Reason}, nil
	}
	c.mu.Unlock()

	log.Infof("Processing email %q", msg.Subject)

	// ADMITTED -> COMPLETING.
	if err := c.hooks.RunBeforeProcess(ctx, msg); err != nil {
		return c.fail(ctx, persona, msg, fmt.Errorf("before-process hook failed: %w", err))
	}

	messages := ai.BuildMessages(c.prompts[persona.ID], msg.From, msg.Subject, msg.Body)
	provider, ok := c.providers[persona.ID]
	if !ok {
		return c.fail(ctx, persona, msg, fmt.Errorf("no provider configured for persona %q", persona.ID))
	}

	cctx, cancel := context.WithTimeout(ctx, completionTimeout)
	response, err := provider.Complete(cctx, messages)
	cancel()
	if err != nil {
		if c.metrics != nil {
			c.metrics.CompletionFailures.Inc()
		}
		return c.fail(ctx, persona, msg, fmt.Errorf("completion failed: %w", err))
	}
	if response == "" {
		if c.metrics != nil {
			c.metrics.CompletionFailures.Inc()
		}
		return c.fail(ctx, persona, msg, fmt.Errorf("no response received from AI provider %s", provider.Name()))
	}

	response, err = c.hooks.RunAfterProcess(ctx, msg, response)
	if err != nil {
		return c.fail(ctx, persona, msg, fmt.Errorf("after-process hook failed: %w", err))
	}

	if c.cfg.Mode == config.ModeDryRun {
		log.Infof("Dry run: would mark message %d with the %s marker", msg.UID, persona.Marking)
		log.Infof("Dry run: would send reply to %s: %s", msg.From, response)
		return Outcome{Status: StatusAnswered, Response: response}, nil
	}

	// COMPLETING -> MARKING. The durable marker goes on before delivery: a
	// crash between mark and send loses one reply instead of duplicating it.
	if err := mailbox.MarkAnswered(msg.UID, persona.Marking); err != nil {
		return c.fail(ctx, persona, msg, fmt.Errorf("failed to apply answered marker: %w", err))
	}

	// MARKING -> SENDING.
	if err := c.sender.SendReply(ctx, persona, msg, response); err != nil {
		if c.metrics != nil {
			c.metrics.DeliveryFailures.Inc()
		}
		// The marker is already on the message, so this one will never be
		// retried; operators have to resolve it by hand.
		log.Warnf("Reply delivery failed after marking, message %d stays marked but unanswered: %v", msg.UID, err)
		return c.fail(ctx, persona, msg, fmt.Errorf("delivery failed: %w", err))
	}

	// SENDING -> DONE.
	c.tracker.MarkSeen(msg.PersonaID, msg.UID)
	c.mu.Lock()
	c.limiter.Commit(c.counters, msg)
	c.counters.Processed++
	c.counters.Answered++
	if len(c.cfg.BCCEmails) > 0 {
		c.counters.BCCCopied++
	}
	snapshot := c.counters.Clone()
	c.mu.Unlock()
	c.persist(snapshot)

	if c.metrics != nil {
		c.metrics.Processed.Inc()
		c.metrics.Answered.Inc()
		if len(c.cfg.BCCEmails) > 0 {
			c.metrics.BCCCopied.Inc()
		}
	}
	c.audit.Record(auditlog.ResponseLog{
		PersonaID: persona.ID, UID: msg.UID, Sender: msg.From, Subject: msg.Subject,
		Status: string(StatusAnswered),
	})

	log.Info("Email processed and reply sent")
	return Outcome{Status: StatusAnswered, Response: response}, nil
}

// fail records a FAILED terminal state and propagates the error.
func (c *Controller) fail(ctx context.Context, persona *config.Persona, msg *models.EmailMessage, err error) (Outcome, error) {
	c.hooks.RunOnError(ctx, msg, err)
	c.audit.Record(auditlog.ResponseLog{
		PersonaID: persona.ID, UID: msg.UID, Sender: msg.From, Subject: msg.Subject,
		Status: string(StatusFailed), ErrorMsg: err.Error(),
	})
	return Outcome{Status: StatusFailed}, err
}

// persist saves counters. Persistence failures are recoverable: processing
// continues on the in-memory state.
func (c *Controller) persist(snapshot *state.Counters) {
	if err := c.store.Save(snapshot); err != nil {
		logrus.WithError(err).Error("Failed to persist counters, continuing with in-memory state")
	}
}
