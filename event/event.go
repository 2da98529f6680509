// Package event defines the in-process publish/subscribe bus that decouples
// job state changes from their downstream consequences. Publishers never call
// subscribers directly; everything flows through typed events.
package event

import (
	"encoding/json"
	"time"

	"github.com/DKmica/TreeProAIv2-sub008/internal/ids"
)

// Type identifies the kind of event being published.
type Type string

const (
	// TypeJobTransitioned is published after every committed state transition.
	TypeJobTransitioned Type = "job_transitioned"

	// TypeJobScheduled is published when the recurrence generator materializes
	// a series occurrence into a draft job.
	TypeJobScheduled Type = "job_scheduled"

	// TypeAutomationFired is published after a rule firing completes, carrying
	// the run outcome. The automation engine itself never subscribes to it.
	TypeAutomationFired Type = "automation_fired"
)

// Event is the envelope delivered to subscribers. JobID orders delivery:
// events for the same job reach a given subscriber in publish order.
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	JobID     string      `json:"job_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// JobTransitioned is the payload for TypeJobTransitioned.
type JobTransitioned struct {
	JobID     string    `json:"job_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Hooks     []string  `json:"hooks,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JobScheduled is the payload for TypeJobScheduled.
type JobScheduled struct {
	JobID         string `json:"job_id"`
	SeriesID      string `json:"series_id,omitempty"`
	ScheduledDate string `json:"scheduled_date"` // YYYY-MM-DD
}

// AutomationFired is the payload for TypeAutomationFired.
type AutomationFired struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	RunID    string `json:"run_id"`
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
}

// NewJobTransitioned wraps a transition payload in an event envelope.
func NewJobTransitioned(payload JobTransitioned) Event {
	return Event{
		ID:        ids.New("evt"),
		Type:      TypeJobTransitioned,
		JobID:     payload.JobID,
		Timestamp: payload.Timestamp,
		Payload:   payload,
	}
}

// NewJobScheduled wraps a scheduling payload in an event envelope.
func NewJobScheduled(payload JobScheduled) Event {
	return Event{
		ID:        ids.New("evt"),
		Type:      TypeJobScheduled,
		JobID:     payload.JobID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// NewAutomationFired wraps a run outcome in an event envelope.
func NewAutomationFired(payload AutomationFired) Event {
	return Event{
		ID:        ids.New("evt"),
		Type:      TypeAutomationFired,
		JobID:     payload.JobID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// PayloadMap flattens the payload into a generic map for condition matching.
func (e Event) PayloadMap() (map[string]interface{}, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
