package automation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
)

// Defaults applied when the config leaves them unset.
const (
	DefaultActionTimeout   = 30 * time.Second
	DefaultMaxFiresPerHour = 60

	// firingWindow is the sliding window the per-(rule, job) guard counts
	// runs over.
	firingWindow = time.Hour
)

// Engine subscribes to the event bus and fires matching rules. Action
// failures are isolated per action and never propagate back to the
// transition that caused them.
type Engine struct {
	rules    *RuleStore
	runs     *RunStore
	registry *Registry
	logger   *zap.SugaredLogger
	bus      *event.Bus

	// cfgMu guards the settings below, which are reloadable at runtime
	// via the Set* methods while event handling is in flight.
	cfgMu           sync.RWMutex
	actionTimeout   time.Duration
	defaultMaxFires int

	// limiters is a per-rule token bucket backstopping the counted window,
	// so a burst cannot land before the first run row is visible.
	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Option configures the engine.
type Option func(*Engine)

// WithActionTimeout overrides the per-action execution bound.
func WithActionTimeout(d time.Duration) Option {
	return func(e *Engine) { e.actionTimeout = d }
}

// WithDefaultMaxFires sets the fallback firing limit for rules that leave
// MaxFiresPerHour at zero. Zero disables the fallback (unlimited).
func WithDefaultMaxFires(n int) Option {
	return func(e *Engine) { e.defaultMaxFires = n }
}

// SetActionTimeout updates the per-action execution bound; safe to call
// while the engine is attached.
func (e *Engine) SetActionTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	e.cfgMu.Lock()
	e.actionTimeout = d
	e.cfgMu.Unlock()
}

// SetDefaultMaxFires updates the fallback firing limit; safe to call while
// the engine is attached.
func (e *Engine) SetDefaultMaxFires(n int) {
	if n < 0 {
		return
	}
	e.cfgMu.Lock()
	e.defaultMaxFires = n
	e.cfgMu.Unlock()
}

func (e *Engine) currentActionTimeout() time.Duration {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.actionTimeout
}

func (e *Engine) currentDefaultMaxFires() int {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.defaultMaxFires
}

// NewEngine creates an automation engine. The logger may be nil.
func NewEngine(rules *RuleStore, runs *RunStore, registry *Registry, logger *zap.SugaredLogger, opts ...Option) *Engine {
	e := &Engine{
		rules:           rules,
		runs:            runs,
		registry:        registry,
		logger:          logger,
		actionTimeout:   DefaultActionTimeout,
		defaultMaxFires: DefaultMaxFiresPerHour,
		limiters:        make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attach subscribes the engine to the bus for both job event types. The
// engine publishes automation_fired outcomes back on the same bus; it never
// subscribes to them, so firings cannot cascade through the engine itself.
func (e *Engine) Attach(bus *event.Bus) {
	e.bus = bus
	bus.Subscribe("automation-engine", e.OnEvent,
		event.TypeJobTransitioned, event.TypeJobScheduled)
}

// OnEvent evaluates every enabled rule against one event. Rules are read
// fresh on each event so administrative edits take effect immediately. One
// rule's failure never prevents other rules from evaluating the same event.
func (e *Engine) OnEvent(ctx context.Context, evt event.Event) error {
	rules, err := e.rules.List(ctx, true)
	if err != nil {
		return errors.Wrap(err, "failed to load rules")
	}

	payload, err := evt.PayloadMap()
	if err != nil {
		return errors.Wrap(err, "failed to flatten event payload")
	}

	for _, rule := range rules {
		if rule.TriggerType != evt.Type {
			continue
		}
		if !rule.matches(payload) {
			continue
		}
		e.fire(ctx, rule, evt)
	}
	return nil
}

// fire executes one matched rule and records exactly one run row, whatever
// the outcome.
func (e *Engine) fire(ctx context.Context, rule *Rule, evt event.Event) {
	if e.exceedsRate(ctx, rule, evt) {
		if e.logger != nil {
			e.logger.Warnw("Rule rate limited",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"job_id", evt.JobID,
			)
		}
		e.recordRun(ctx, &Run{
			RuleID:    rule.ID,
			EventID:   evt.ID,
			EventType: evt.Type,
			JobID:     evt.JobID,
			Status:    RunRateLimited,
		})
		return
	}

	results := make([]ActionResult, 0, len(rule.Actions))
	for _, ref := range rule.Actions {
		results = append(results, e.executeAction(ctx, ref, evt))
	}

	status := statusFor(results)
	run := &Run{
		RuleID:        rule.ID,
		EventID:       evt.ID,
		EventType:     evt.Type,
		JobID:         evt.JobID,
		Status:        status,
		ActionResults: results,
	}
	e.recordRun(ctx, run)

	if e.bus != nil {
		e.bus.Publish(event.NewAutomationFired(event.AutomationFired{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			RunID:    run.ID,
			JobID:    evt.JobID,
			Status:   string(status),
		}))
	}

	if status == RunSucceeded {
		if err := e.rules.RecordFire(ctx, rule.ID); err != nil && e.logger != nil {
			e.logger.Errorw("Failed to record rule fire", "rule_id", rule.ID, "error", err)
		}
	} else {
		detail := ""
		for _, r := range results {
			if !r.Success {
				detail = r.Action + ": " + r.Detail
				break
			}
		}
		if err := e.rules.RecordError(ctx, rule.ID, detail); err != nil && e.logger != nil {
			e.logger.Errorw("Failed to record rule error", "rule_id", rule.ID, "error", err)
		}
	}

	if e.logger != nil {
		e.logger.Infow("Rule fired",
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"job_id", evt.JobID,
			"status", status,
			"actions", len(results),
		)
	}
}

// executeAction runs one action with a timeout, converting panics and
// timeouts into a failed result instead of letting them escape.
func (e *Engine) executeAction(parent context.Context, ref ActionRef, evt event.Event) (result ActionResult) {
	result.Action = ref.Name
	start := time.Now()
	defer func() {
		result.DurationMS = time.Since(start).Milliseconds()
	}()

	handler, ok := e.registry.Get(ref.Name)
	if !ok {
		result.Detail = "unknown action " + ref.Name
		return result
	}

	timeout := e.currentActionTimeout()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// The recover must live on the handler's goroutine; a deferred recover
	// here would never see a panic raised over there.
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("action panicked: %v", r)
			}
		}()
		done <- handler.Execute(ctx, evt, ref.Params)
	}()

	select {
	case err := <-done:
		if err != nil {
			result.Detail = err.Error()
			return result
		}
		result.Success = true
		return result
	case <-ctx.Done():
		result.Detail = "timeout after " + timeout.String()
		return result
	}
}

// exceedsRate applies both guards: the counted (rule, job) window and the
// per-rule token bucket.
func (e *Engine) exceedsRate(ctx context.Context, rule *Rule, evt event.Event) bool {
	maxFires := rule.MaxFiresPerHour
	if maxFires == 0 {
		maxFires = e.currentDefaultMaxFires()
	}
	if maxFires <= 0 {
		return false // unlimited
	}

	if evt.JobID != "" {
		count, err := e.runs.CountRecentFirings(ctx, rule.ID, evt.JobID, time.Now().Add(-firingWindow))
		if err != nil {
			if e.logger != nil {
				e.logger.Errorw("Failed to count recent firings", "rule_id", rule.ID, "error", err)
			}
			// Fail open: losing the guard beats silently dropping automation.
			return false
		}
		if count >= maxFires {
			return true
		}
	}

	return !e.limiter(rule.ID, maxFires).Allow()
}

// limiter returns the rule's token bucket, creating it on first use.
func (e *Engine) limiter(ruleID string, maxPerHour int) *rate.Limiter {
	e.limitersMu.Lock()
	defer e.limitersMu.Unlock()
	l, ok := e.limiters[ruleID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(maxPerHour)/3600.0), maxPerHour)
		e.limiters[ruleID] = l
	}
	return l
}

func (e *Engine) recordRun(ctx context.Context, run *Run) {
	if err := e.runs.Create(ctx, run); err != nil && e.logger != nil {
		e.logger.Errorw("Failed to record automation run",
			"rule_id", run.RuleID,
			"event_id", run.EventID,
			"error", err,
		)
	}
}
