package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	treeprotest "github.com/DKmica/TreeProAIv2-sub008/internal/testing"
)

// recordingHandler counts invocations and optionally fails or stalls.
type recordingHandler struct {
	name  string
	fail  bool
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Execute(ctx context.Context, evt event.Event, params map[string]interface{}) error {
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	if h.fail {
		return errors.New("handler failed")
	}
	return nil
}

func (h *recordingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *RuleStore, *RunStore, *Registry) {
	t.Helper()
	conn := treeprotest.CreateTestDB(t)
	rules := NewRuleStore(conn)
	runs := NewRunStore(conn)
	registry := NewRegistry()
	engine := NewEngine(rules, runs, registry, nil, opts...)
	return engine, rules, runs, registry
}

func completedEvent(jobID string) event.Event {
	return event.NewJobTransitioned(event.JobTransitioned{
		JobID:     jobID,
		FromState: "InProgress",
		ToState:   "Completed",
		ActorID:   "u1",
		Timestamp: time.Now(),
	})
}

func TestEngineFiresMatchingRule(t *testing.T) {
	engine, rules, runs, registry := newTestEngine(t)
	ctx := context.Background()

	handler := &recordingHandler{name: "act"}
	require.NoError(t, registry.Register(handler))

	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "on-complete",
		TriggerType: event.TypeJobTransitioned,
		Conditions:  map[string]interface{}{"to_state": "Completed"},
		Actions:     []ActionRef{{Name: "act"}},
		Enabled:     true,
	}))

	evt := completedEvent("job_1")
	require.NoError(t, engine.OnEvent(ctx, evt))
	assert.Equal(t, 1, handler.callCount())

	recorded, err := runs.ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1, "exactly one run per matched firing")
	assert.Equal(t, RunSucceeded, recorded[0].Status)
	assert.Equal(t, "job_1", recorded[0].JobID)
}

func TestEngineAttachedPublishesAutomationFired(t *testing.T) {
	engine, rules, _, registry := newTestEngine(t)
	ctx := context.Background()

	handler := &recordingHandler{name: "act"}
	require.NoError(t, registry.Register(handler))
	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "on-complete",
		TriggerType: event.TypeJobTransitioned,
		Actions:     []ActionRef{{Name: "act"}},
		Enabled:     true,
	}))

	bus := event.NewBus(nil)
	engine.Attach(bus)

	var mu sync.Mutex
	var fired []event.Event
	bus.Subscribe("test-capture", func(ctx context.Context, evt event.Event) error {
		mu.Lock()
		fired = append(fired, evt)
		mu.Unlock()
		return nil
	}, event.TypeAutomationFired)

	bus.Publish(completedEvent("job_1"))
	defer bus.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	payload, ok := fired[0].Payload.(event.AutomationFired)
	require.True(t, ok)
	assert.Equal(t, "job_1", payload.JobID)
	assert.Equal(t, string(RunSucceeded), payload.Status)
	assert.Equal(t, "on-complete", payload.RuleName)
	assert.NotEmpty(t, payload.RunID)
}

func TestEngineSkipsNonMatchingRules(t *testing.T) {
	engine, rules, runs, registry := newTestEngine(t)
	ctx := context.Background()

	handler := &recordingHandler{name: "act"}
	require.NoError(t, registry.Register(handler))

	// Wrong condition value
	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "on-cancel",
		TriggerType: event.TypeJobTransitioned,
		Conditions:  map[string]interface{}{"to_state": "Cancelled"},
		Actions:     []ActionRef{{Name: "act"}},
		Enabled:     true,
	}))
	// Wrong trigger type
	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "on-schedule",
		TriggerType: event.TypeJobScheduled,
		Actions:     []ActionRef{{Name: "act"}},
		Enabled:     true,
	}))
	// Disabled
	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "disabled",
		TriggerType: event.TypeJobTransitioned,
		Actions:     []ActionRef{{Name: "act"}},
		Enabled:     false,
	}))

	evt := completedEvent("job_1")
	require.NoError(t, engine.OnEvent(ctx, evt))
	assert.Equal(t, 0, handler.callCount())

	recorded, err := runs.ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Empty(t, recorded, "non-matching rules leave no run rows")
}

func TestEngineMatchesArrayConditions(t *testing.T) {
	engine, rules, _, registry := newTestEngine(t)
	ctx := context.Background()

	handler := &recordingHandler{name: "act"}
	require.NoError(t, registry.Register(handler))

	// Array-valued conditions must compare structurally, not with ==.
	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "on-invoice-hook",
		TriggerType: event.TypeJobTransitioned,
		Conditions:  map[string]interface{}{"hooks": []interface{}{"generate_invoice"}},
		Actions:     []ActionRef{{Name: "act"}},
		Enabled:     true,
	}))

	withHooks := event.NewJobTransitioned(event.JobTransitioned{
		JobID:     "job_1",
		FromState: "InProgress",
		ToState:   "Completed",
		ActorID:   "u1",
		Hooks:     []string{"generate_invoice"},
		Timestamp: time.Now(),
	})
	require.NoError(t, engine.OnEvent(ctx, withHooks))
	assert.Equal(t, 1, handler.callCount())

	withoutHooks := completedEvent("job_2")
	require.NoError(t, engine.OnEvent(ctx, withoutHooks))
	assert.Equal(t, 1, handler.callCount(), "event without the hook must not match")
}

func TestEngineActionIsolation(t *testing.T) {
	engine, rules, runs, registry := newTestEngine(t)
	ctx := context.Background()

	failing := &recordingHandler{name: "failing", fail: true}
	after := &recordingHandler{name: "after"}
	require.NoError(t, registry.Register(failing))
	require.NoError(t, registry.Register(after))

	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "multi",
		TriggerType: event.TypeJobTransitioned,
		Actions:     []ActionRef{{Name: "failing"}, {Name: "after"}},
		Enabled:     true,
	}))
	// A second rule must still evaluate despite the first rule's failure.
	other := &recordingHandler{name: "other"}
	require.NoError(t, registry.Register(other))
	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "second",
		TriggerType: event.TypeJobTransitioned,
		Actions:     []ActionRef{{Name: "other"}},
		Enabled:     true,
	}))

	evt := completedEvent("job_1")
	require.NoError(t, engine.OnEvent(ctx, evt))

	assert.Equal(t, 1, after.callCount(), "failure must not stop later actions in the rule")
	assert.Equal(t, 1, other.callCount(), "failure must not stop other rules")

	recorded, err := runs.ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	var multiRun *Run
	for _, run := range recorded {
		if len(run.ActionResults) == 2 {
			multiRun = run
		}
	}
	require.NotNil(t, multiRun)
	assert.Equal(t, RunPartiallyFailed, multiRun.Status)
	assert.False(t, multiRun.ActionResults[0].Success)
	assert.Contains(t, multiRun.ActionResults[0].Detail, "handler failed")
	assert.True(t, multiRun.ActionResults[1].Success)
}

// panickingHandler blows up instead of returning an error.
type panickingHandler struct{ name string }

func (h *panickingHandler) Name() string { return h.name }

func (h *panickingHandler) Execute(ctx context.Context, evt event.Event, params map[string]interface{}) error {
	panic("boom")
}

func TestEngineActionPanicIsContained(t *testing.T) {
	engine, rules, runs, registry := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(&panickingHandler{name: "explosive"}))
	after := &recordingHandler{name: "after"}
	require.NoError(t, registry.Register(after))

	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "with-panic",
		TriggerType: event.TypeJobTransitioned,
		Actions:     []ActionRef{{Name: "explosive"}, {Name: "after"}},
		Enabled:     true,
	}))

	evt := completedEvent("job_1")
	require.NoError(t, engine.OnEvent(ctx, evt))

	assert.Equal(t, 1, after.callCount(), "panic must not stop later actions")

	recorded, err := runs.ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, RunPartiallyFailed, recorded[0].Status)
	require.Len(t, recorded[0].ActionResults, 2)
	assert.False(t, recorded[0].ActionResults[0].Success)
	assert.Contains(t, recorded[0].ActionResults[0].Detail, "action panicked: boom")
	assert.True(t, recorded[0].ActionResults[1].Success)
}

func TestEngineActionTimeout(t *testing.T) {
	engine, rules, runs, registry := newTestEngine(t, WithActionTimeout(50*time.Millisecond))
	ctx := context.Background()

	slow := &recordingHandler{name: "slow", delay: 2 * time.Second}
	require.NoError(t, registry.Register(slow))

	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "slow-rule",
		TriggerType: event.TypeJobTransitioned,
		Actions:     []ActionRef{{Name: "slow"}},
		Enabled:     true,
	}))

	evt := completedEvent("job_1")
	start := time.Now()
	require.NoError(t, engine.OnEvent(ctx, evt))
	assert.Less(t, time.Since(start), time.Second, "timeout must cut the action short")

	recorded, err := runs.ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, RunFailed, recorded[0].Status)
	require.Len(t, recorded[0].ActionResults, 1)
	assert.False(t, recorded[0].ActionResults[0].Success)
	assert.Contains(t, recorded[0].ActionResults[0].Detail, "timeout")
}

func TestEngineSettingsReload(t *testing.T) {
	engine, rules, runs, registry := newTestEngine(t, WithActionTimeout(10*time.Second))
	ctx := context.Background()

	slow := &recordingHandler{name: "slow", delay: 2 * time.Second}
	require.NoError(t, registry.Register(slow))
	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "slow-rule",
		TriggerType: event.TypeJobTransitioned,
		Actions:     []ActionRef{{Name: "slow"}},
		Enabled:     true,
	}))

	// A tightened timeout applies to the next firing without a restart.
	engine.SetActionTimeout(50 * time.Millisecond)

	evt := completedEvent("job_1")
	start := time.Now()
	require.NoError(t, engine.OnEvent(ctx, evt))
	assert.Less(t, time.Since(start), time.Second)

	recorded, err := runs.ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, RunFailed, recorded[0].Status)
	assert.Contains(t, recorded[0].ActionResults[0].Detail, "timeout")

	// So does a tightened default firing limit.
	engine.SetDefaultMaxFires(1)
	require.NoError(t, engine.OnEvent(ctx, completedEvent("job_2")))
	second := completedEvent("job_2")
	require.NoError(t, engine.OnEvent(ctx, second))

	limited, err := runs.ListByEvent(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, RunRateLimited, limited[0].Status)
}

func TestEngineUnknownActionFails(t *testing.T) {
	engine, rules, runs, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, rules.Create(ctx, &Rule{
		Name:        "ghost",
		TriggerType: event.TypeJobTransitioned,
		Actions:     []ActionRef{{Name: "does_not_exist"}},
		Enabled:     true,
	}))

	evt := completedEvent("job_1")
	require.NoError(t, engine.OnEvent(ctx, evt))

	recorded, err := runs.ListByEvent(ctx, evt.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, RunFailed, recorded[0].Status)
	assert.Contains(t, recorded[0].ActionResults[0].Detail, "unknown action")
}

func TestEngineRateLimitPerJob(t *testing.T) {
	engine, rules, runs, registry := newTestEngine(t)
	ctx := context.Background()

	handler := &recordingHandler{name: "act"}
	require.NoError(t, registry.Register(handler))

	require.NoError(t, rules.Create(ctx, &Rule{
		Name:            "limited",
		TriggerType:     event.TypeJobTransitioned,
		Actions:         []ActionRef{{Name: "act"}},
		Enabled:         true,
		MaxFiresPerHour: 2,
	}))

	for i := 0; i < 4; i++ {
		require.NoError(t, engine.OnEvent(ctx, completedEvent("job_1")))
	}

	assert.Equal(t, 2, handler.callCount(), "third and fourth firings must be throttled")

	all, err := runs.ListByJob(ctx, "job_1", 10)
	require.NoError(t, err)
	require.Len(t, all, 4, "rate-limited firings still leave a run row")
	limited := 0
	for _, run := range all {
		if run.Status == RunRateLimited {
			limited++
		}
	}
	assert.Equal(t, 2, limited)

	// A different job has its own window.
	require.NoError(t, engine.OnEvent(ctx, completedEvent("job_2")))
	assert.Equal(t, 3, handler.callCount())
}

func TestEngineRecordsRuleStats(t *testing.T) {
	engine, rules, _, registry := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(&recordingHandler{name: "ok"}))
	require.NoError(t, registry.Register(&recordingHandler{name: "bad", fail: true}))

	okRule := &Rule{Name: "ok-rule", TriggerType: event.TypeJobTransitioned, Actions: []ActionRef{{Name: "ok"}}, Enabled: true}
	badRule := &Rule{Name: "bad-rule", TriggerType: event.TypeJobTransitioned, Actions: []ActionRef{{Name: "bad"}}, Enabled: true}
	require.NoError(t, rules.Create(ctx, okRule))
	require.NoError(t, rules.Create(ctx, badRule))

	require.NoError(t, engine.OnEvent(ctx, completedEvent("job_1")))

	ok, err := rules.Get(ctx, okRule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ok.FireCount)
	assert.Equal(t, int64(0), ok.ErrorCount)

	bad, err := rules.Get(ctx, badRule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bad.FireCount)
	assert.Equal(t, int64(1), bad.ErrorCount)
	assert.Contains(t, bad.LastError, "handler failed")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&recordingHandler{name: "a"}))
	assert.Error(t, registry.Register(&recordingHandler{name: "a"}))

	_, ok := registry.Get("a")
	assert.True(t, ok)
	_, ok = registry.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, registry.Names())
}

func TestRetentionPrunerPruneOnce(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	rules := NewRuleStore(conn)
	runs := NewRunStore(conn)
	ctx := context.Background()

	rule := sampleRule()
	require.NoError(t, rules.Create(ctx, rule))
	require.NoError(t, runs.Create(ctx, &Run{
		RuleID: rule.ID, EventID: "evt_1", EventType: event.TypeJobTransitioned,
		JobID: "job_1", Status: RunSucceeded,
	}))

	// Negative retention treats everything as expired.
	pruner := NewRetentionPruner(runs, -time.Minute, time.Hour, nil)
	pruner.PruneOnce(ctx)

	left, err := runs.ListByRule(ctx, rule.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}
