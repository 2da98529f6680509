package lifecycle

import (
	"encoding/json"
	"time"
)

// Job is the unit of schedulable field work. Its state only changes through
// the engine; CostPayload is opaque to this subsystem apart from the amount
// extracted at invoicing time.
type Job struct {
	ID             string          `json:"id"`
	ClientID       string          `json:"client_id"`
	State          State           `json:"state"`
	ScheduledStart *time.Time      `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time      `json:"scheduled_end,omitempty"`
	CrewIDs        []string        `json:"crew_ids,omitempty"`
	CostPayload    json.RawMessage `json:"cost_payload,omitempty"`
	SeriesID       string          `json:"series_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StateTransition is the immutable audit record written alongside every
// state change. TableVersion records which edge set validated the move.
type StateTransition struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	FromState       State     `json:"from_state"`
	ToState         State     `json:"to_state"`
	ActorID         string    `json:"actor_id"`
	ActorRole       Role      `json:"actor_role"`
	Reason          string    `json:"reason,omitempty"`
	SystemTriggered bool      `json:"system_triggered"`
	TableVersion    int       `json:"table_version"`
	CreatedAt       time.Time `json:"created_at"`
}

// TransitionResult is returned to the caller on a successful transition.
type TransitionResult struct {
	State        State  `json:"state"`
	TransitionID string `json:"transition_id"`
}
