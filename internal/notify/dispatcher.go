package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkforge/autopilot/internal/history"
	"github.com/arkforge/autopilot/internal/rules"
)

// Config is the process-wide webhook target. There is one per deployment;
// per-rule cooldowns only change the send cadence.
type Config struct {
	URL     string
	Enabled bool
	Timeout time.Duration
}

// Event describes a transition worth alerting on.
type Event struct {
	Type    history.EventType
	From    string
	To      string
	Message string
	At      time.Time
}

// Dispatcher sends webhook alerts for failover transitions. Delivery is
// fire-and-forget with a short timeout; failures are logged, never
// retried, and never block the scheduler tick. A per-rule cooldown
// suppresses repeat sends regardless of event type so a flapping rule
// cannot flood the channel.
type Dispatcher struct {
	cfg             Config
	client          *http.Client
	defaultCooldown time.Duration
	logger          *zap.Logger
	now             func() time.Time

	mu       sync.Mutex
	lastSent map[uuid.UUID]time.Time
}

// NewDispatcher creates a dispatcher. defaultCooldown applies to rules
// without their own cooldown override.
func NewDispatcher(cfg Config, defaultCooldown time.Duration, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		cfg:             cfg,
		client:          &http.Client{Timeout: cfg.Timeout},
		defaultCooldown: defaultCooldown,
		logger:          logger,
		now:             time.Now,
		lastSent:        make(map[uuid.UUID]time.Time),
	}
}

// Notify sends an alert for a transition, fire-and-forget. Returns true
// if a send was dispatched, false if gating or cooldown suppressed it.
func (d *Dispatcher) Notify(rule *rules.Rule, event Event) bool {
	if !d.shouldSend(rule, event) {
		return false
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()
		if err := d.deliver(ctx, rule, event); err != nil {
			d.logger.Warn("webhook delivery failed",
				zap.String("rule", rule.ID.String()),
				zap.String("event", string(event.Type)),
				zap.Error(err))
		}
	}()
	return true
}

// NotifySync sends synchronously (for testing)
func (d *Dispatcher) NotifySync(ctx context.Context, rule *rules.Rule, event Event) error {
	if !d.shouldSend(rule, event) {
		return nil
	}
	return d.deliver(ctx, rule, event)
}

// shouldSend applies the send gates and, when they pass, records the send
// time so the cooldown window starts even if delivery later fails.
func (d *Dispatcher) shouldSend(rule *rules.Rule, event Event) bool {
	if !d.cfg.Enabled || d.cfg.URL == "" {
		return false
	}

	switch event.Type {
	case history.EventFailover, history.EventRecovery, history.EventSelfHealing:
	default:
		return false
	}

	cooldown := rule.Cooldown
	if cooldown == 0 {
		cooldown = d.defaultCooldown
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastSent[rule.ID]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		return false
	}
	d.lastSent[rule.ID] = now
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, rule *rules.Rule, event Event) error {
	body, err := json.Marshal(buildPayload(rule, event))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Autopilot-Webhooks/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
