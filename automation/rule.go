// Package automation evaluates rules against published events and executes
// their actions. Rules never touch a job directly; they only invoke named
// action handlers, and every matched firing leaves exactly one run record.
package automation

import (
	"reflect"
	"time"

	"github.com/DKmica/TreeProAIv2-sub008/event"
)

// ActionRef names one action in a rule's ordered action list, with optional
// handler-specific parameters.
type ActionRef struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Rule is a trigger-condition-action tuple evaluated against published
// events.
type Rule struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Trigger - which events this rule reacts to
	TriggerType event.Type `json:"trigger_type"`

	// Conditions - equality constraints over the event payload
	// (empty = match all events of the trigger type)
	Conditions map[string]interface{} `json:"conditions,omitempty"`

	// Actions - executed in order; one action's failure does not stop the rest
	Actions []ActionRef `json:"actions"`

	// Rate limiting
	// MaxFiresPerHour bounds firings per (rule, job) to stop runaway loops.
	// Zero falls back to the engine's configured default.
	MaxFiresPerHour int `json:"max_fires_per_hour"`

	// State
	Enabled bool `json:"enabled"`

	// Stats
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	FireCount   int64      `json:"fire_count"`
	ErrorCount  int64      `json:"error_count"`
	LastError   string     `json:"last_error,omitempty"`
}

// matches reports whether every condition key equals the corresponding
// payload field.
func (r *Rule) matches(payload map[string]interface{}) bool {
	for key, want := range r.Conditions {
		got, ok := payload[key]
		// DeepEqual: condition values round-trip through JSON and may be
		// arrays or maps, where == would panic on incomparable types.
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// RunStatus is the outcome of one rule firing.
type RunStatus string

const (
	RunSucceeded       RunStatus = "succeeded"
	RunPartiallyFailed RunStatus = "partially_failed"
	RunFailed          RunStatus = "failed"
	RunRateLimited     RunStatus = "rate_limited"
)

// ActionResult records one action's outcome within a run.
type ActionResult struct {
	Action     string `json:"action"`
	Success    bool   `json:"success"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Run is the append-only record of one matched rule firing. EventID makes
// duplicate deliveries detectable; JobID feeds the firing-rate guard.
type Run struct {
	ID            string         `json:"id"`
	RuleID        string         `json:"rule_id"`
	EventID       string         `json:"event_id"`
	EventType     event.Type     `json:"event_type"`
	JobID         string         `json:"job_id"`
	Status        RunStatus      `json:"status"`
	ActionResults []ActionResult `json:"action_results,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// statusFor derives the run status from per-action outcomes.
func statusFor(results []ActionResult) RunStatus {
	failures := 0
	for _, r := range results {
		if !r.Success {
			failures++
		}
	}
	switch {
	case failures == 0:
		return RunSucceeded
	case failures == len(results):
		return RunFailed
	default:
		return RunPartiallyFailed
	}
}
