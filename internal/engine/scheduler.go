package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkforge/autopilot/internal/addons"
	"github.com/arkforge/autopilot/internal/history"
	"github.com/arkforge/autopilot/internal/metrics"
	"github.com/arkforge/autopilot/internal/notify"
	"github.com/arkforge/autopilot/internal/probe"
	"github.com/arkforge/autopilot/internal/rules"
)

// ErrRuleBroken is returned when a rule references endpoints no longer
// installed on its account. Broken rules are excluded from evaluation and
// surfaced to the operator; the engine never repairs them.
var ErrRuleBroken = errors.New("engine: rule references endpoints no longer installed")

// Notifier dispatches transition alerts. Satisfied by notify.Dispatcher.
type Notifier interface {
	Notify(rule *rules.Rule, event notify.Event) bool
}

// Config tunes the scheduler loop.
type Config struct {
	Interval         time.Duration // time between ticks
	TickDeadline     time.Duration // hard budget for one tick
	RuleConcurrency  int           // rules evaluated in parallel
	ProbeConcurrency int           // tier probes in parallel per rule
	HistoryRetention int           // max history entries kept, 0 disables pruning
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.TickDeadline <= 0 || c.TickDeadline > c.Interval {
		c.TickDeadline = c.Interval * 3 / 4
	}
	if c.RuleConcurrency <= 0 {
		c.RuleConcurrency = 8
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = 3
	}
	return c
}

// Scheduler is the autopilot loop: every interval it loads the enabled
// rules, probes their chains with double-bounded concurrency, runs the
// state machine, commits the results under optimistic concurrency and
// fans out swaps, history and notifications for committed transitions.
type Scheduler struct {
	cfg      Config
	repo     rules.Repository
	prober   probe.Prober
	accounts addons.Manager
	hist     history.Store
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	pool    pond.Pool
	lastRun atomic.Int64 // unix nanos of the last completed tick

	mu     sync.Mutex
	broken map[uuid.UUID]bool // rules already reported broken
}

// NewScheduler wires the autopilot loop.
func NewScheduler(cfg Config, repo rules.Repository, prober probe.Prober,
	accounts addons.Manager, hist history.Store, notifier Notifier,
	m *metrics.Metrics, logger *zap.Logger) *Scheduler {

	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		repo:     repo,
		prober:   prober,
		accounts: accounts,
		hist:     hist,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		pool:     pond.NewPool(cfg.RuleConcurrency),
		broken:   make(map[uuid.UUID]bool),
	}
}

// Run executes ticks until the context is cancelled. The first tick runs
// immediately. Shutdown is cooperative: the tick in flight is cancelled
// at its next boundary and its pending results are discarded, never
// half-committed.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("autopilot scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("rule_concurrency", s.cfg.RuleConcurrency),
		zap.Int("probe_concurrency", s.cfg.ProbeConcurrency))

	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.pool.StopAndWait()
			s.logger.Info("autopilot scheduler stopped")
			return
		}
	}
}

// Tick runs one full evaluation pass. Rules not finished within the tick
// deadline are deferred to the next tick rather than blocking the cycle.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickDeadline)
	defer cancel()

	ruleList, err := s.repo.ListEnabled(tickCtx)
	if err != nil {
		// Repository unreachable: skip this tick, the loop survives.
		s.logger.Error("tick skipped: loading rules failed", zap.Error(err))
		return
	}

	installed := s.installedByAccount(tickCtx, ruleList)

	group := s.pool.NewGroupContext(tickCtx)
	for _, rule := range ruleList {
		rule := rule
		group.Submit(func() {
			if tickCtx.Err() != nil {
				return
			}
			s.evaluateAndCommit(tickCtx, rule, installed[rule.AccountID])
		})
	}
	if err := group.Wait(); err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Warn("tick evaluation group error", zap.Error(err))
	}

	if s.cfg.HistoryRetention > 0 {
		if removed, err := s.hist.Prune(ctx, s.cfg.HistoryRetention); err != nil {
			s.logger.Warn("history prune failed", zap.Error(err))
		} else if removed > 0 {
			s.logger.Debug("history pruned", zap.Int64("removed", removed))
		}
	}

	now := s.now()
	s.lastRun.Store(now.UnixNano())
	s.metrics.Ticks.Inc()
	s.metrics.LastTick.Set(float64(now.Unix()))
}

// LastWorkerRun returns when the most recent tick completed, zero before
// the first one. Liveness signal for external observers.
func (s *Scheduler) LastWorkerRun() time.Time {
	nanos := s.lastRun.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// accountEndpoints caches one account's installed-endpoint lookup per tick.
type accountEndpoints struct {
	endpoints []string
	ok        bool
}

func (s *Scheduler) installedByAccount(ctx context.Context, ruleList []*rules.Rule) map[string]accountEndpoints {
	cache := make(map[string]accountEndpoints)
	for _, rule := range ruleList {
		if _, done := cache[rule.AccountID]; done {
			continue
		}
		endpoints, err := s.accounts.InstalledEndpoints(ctx, rule.AccountID)
		if err != nil {
			s.logger.Warn("installed endpoints lookup failed; skipping account this tick",
				zap.String("account", rule.AccountID),
				zap.Error(err))
			cache[rule.AccountID] = accountEndpoints{}
			continue
		}
		cache[rule.AccountID] = accountEndpoints{endpoints: endpoints, ok: true}
	}
	return cache
}

func (s *Scheduler) evaluateAndCommit(ctx context.Context, rule *rules.Rule, inst accountEndpoints) {
	if !inst.ok {
		// Cannot tell installed from missing; do not touch the rule.
		return
	}

	if rule.State(inst.endpoints) == rules.StateBroken {
		s.reportBroken(ctx, rule)
		return
	}
	s.clearBroken(rule.ID)

	results := s.probeChain(ctx, rule)
	if ctx.Err() != nil {
		// Deadline hit mid-probe: discard partial results, defer to next tick.
		return
	}

	decision := Evaluate(rule, results)
	s.commit(ctx, rule, decision)
}

// probeChain probes every tier of the rule's chain with bounded
// concurrency. All tiers are probed each tick: the active one for its
// own health, the rest for demotion targets and recovery detection.
func (s *Scheduler) probeChain(ctx context.Context, rule *rules.Rule) map[string]probe.Result {
	pool := pond.NewPool(s.cfg.ProbeConcurrency)
	defer pool.StopAndWait()

	var mu sync.Mutex
	results := make(map[string]probe.Result, len(rule.PriorityChain))

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, endpoint := range rule.PriorityChain {
		endpoint := endpoint
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			res := s.prober.Probe(groupCtx, endpoint)
			s.observeProbe(res)
			mu.Lock()
			results[endpoint] = res
			mu.Unlock()
		})
	}
	if err := group.Wait(); err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, pond.ErrGroupStopped) {
		s.logger.Debug("probe group error",
			zap.String("rule", rule.ID.String()),
			zap.Error(err))
	}

	return results
}

func (s *Scheduler) observeProbe(res probe.Result) {
	result := "healthy"
	if !res.Healthy {
		result = "unhealthy"
	}
	s.metrics.Probes.WithLabelValues(result).Inc()
	s.metrics.ProbeDuration.Observe(res.Latency.Seconds())
}

// commit persists the decision under optimistic concurrency and, only
// after the write sticks, applies the addon swap and emits history and
// notifications. A conflicting user edit wins; the tick result is dropped.
func (s *Scheduler) commit(ctx context.Context, rule *rules.Rule, decision Decision) {
	// Re-check the pause switch right before committing; a user pausing
	// the rule mid-tick must not have their edit clobbered.
	fresh, err := s.repo.Get(ctx, rule.ID)
	if err != nil {
		s.logger.Warn("pre-commit reload failed; discarding tick result",
			zap.String("rule", rule.ID.String()),
			zap.Error(err))
		return
	}
	if !fresh.Enabled {
		s.logger.Debug("rule paused during evaluation; discarding tick result",
			zap.String("rule", rule.ID.String()))
		return
	}

	now := s.now().UTC()
	rule.Stabilization = decision.Stabilization
	rule.LastCheck = &now
	if decision.Changed() {
		rule.ActiveURL = decision.To
		if decision.Transition != TransitionAdopt {
			rule.LastFailover = &now
		}
	}

	if err := s.repo.Update(ctx, rule); err != nil {
		if errors.Is(err, rules.ErrCommitConflict) {
			s.metrics.CommitConflicts.Inc()
			s.logger.Debug("commit conflict; rule re-evaluated next tick",
				zap.String("rule", rule.ID.String()))
			return
		}
		s.logger.Error("rule commit failed",
			zap.String("rule", rule.ID.String()),
			zap.Error(err))
		return
	}

	if !decision.Changed() {
		return
	}

	s.logger.Info("transition committed",
		zap.String("rule", rule.ID.String()),
		zap.String("account", rule.AccountID),
		zap.String("transition", decision.Transition.String()),
		zap.String("from", decision.From),
		zap.String("to", decision.To))

	if err := s.accounts.SetActiveEndpoint(ctx, rule.AccountID, decision.To); err != nil {
		// The committed rule state stands; the next tick re-evaluates and
		// retries the swap if the decision still holds.
		s.logger.Error("addon swap failed",
			zap.String("rule", rule.ID.String()),
			zap.String("endpoint", decision.To),
			zap.Error(err))
	}

	s.appendHistory(ctx, rule, decision, now)
	s.metrics.Transitions.WithLabelValues(decision.Transition.String()).Inc()

	sent := s.notifier.Notify(rule, notify.Event{
		Type:    decision.Transition.EventType(),
		From:    decision.From,
		To:      decision.To,
		Message: decision.Message,
		At:      now,
	})
	if sent {
		s.metrics.Notifications.WithLabelValues("dispatched").Inc()
	} else {
		s.metrics.Notifications.WithLabelValues("suppressed").Inc()
	}
}

func (s *Scheduler) appendHistory(ctx context.Context, rule *rules.Rule, decision Decision, at time.Time) {
	entry := &history.Entry{
		Timestamp: at,
		Type:      decision.Transition.EventType(),
		RuleID:    rule.ID,
		Message:   decision.Message,
		Metadata: map[string]interface{}{
			"account": rule.AccountID,
			"chain":   rule.PriorityChain,
			"from":    decision.From,
			"to":      decision.To,
		},
	}
	if err := s.hist.Append(ctx, entry); err != nil {
		s.logger.Warn("history append failed",
			zap.String("rule", rule.ID.String()),
			zap.Error(err))
	}
}

// reportBroken records a broken rule once per entry into the broken
// state, not every tick.
func (s *Scheduler) reportBroken(ctx context.Context, rule *rules.Rule) {
	s.mu.Lock()
	seen := s.broken[rule.ID]
	s.broken[rule.ID] = true
	s.mu.Unlock()

	if seen {
		return
	}

	s.logger.Warn("rule broken: chain references endpoints not installed",
		zap.String("rule", rule.ID.String()),
		zap.String("account", rule.AccountID))

	entry := &history.Entry{
		Timestamp: s.now().UTC(),
		Type:      history.EventInfo,
		RuleID:    rule.ID,
		Message:   "rule excluded from evaluation: chain references endpoints no longer installed",
		Metadata: map[string]interface{}{
			"account": rule.AccountID,
			"chain":   rule.PriorityChain,
		},
	}
	if err := s.hist.Append(ctx, entry); err != nil {
		s.logger.Warn("history append failed", zap.Error(err))
	}
}

func (s *Scheduler) clearBroken(id uuid.UUID) {
	s.mu.Lock()
	delete(s.broken, id)
	s.mu.Unlock()
}

// Simulate runs the full probe and decision pipeline for an account's
// rules (or every enabled rule when accountID is empty) without touching
// the repository, the account service or the webhook. Running it twice
// against unchanged endpoints yields identical proposals.
func (s *Scheduler) Simulate(ctx context.Context, accountID string) ([]Decision, error) {
	var (
		ruleList []*rules.Rule
		err      error
	)
	if accountID == "" {
		ruleList, err = s.repo.ListEnabled(ctx)
	} else {
		ruleList, err = s.repo.ListByAccount(ctx, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	decisions := make([]Decision, 0, len(ruleList))
	for _, rule := range ruleList {
		decision, err := s.simulateRule(ctx, rule)
		if err != nil {
			continue // broken or unknown account; skipped like a real tick
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

// SimulateRule previews what the next tick would do to a single rule.
func (s *Scheduler) SimulateRule(ctx context.Context, id uuid.UUID) (Decision, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	return s.simulateRule(ctx, rule)
}

func (s *Scheduler) simulateRule(ctx context.Context, rule *rules.Rule) (Decision, error) {
	installed, err := s.accounts.InstalledEndpoints(ctx, rule.AccountID)
	if err != nil {
		return Decision{}, fmt.Errorf("installed endpoints for account %s: %w", rule.AccountID, err)
	}
	if rule.State(installed) == rules.StateBroken {
		return Decision{}, ErrRuleBroken
	}

	results := s.probeChain(ctx, rule)
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	return Evaluate(rule, results), nil
}
