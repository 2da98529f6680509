// Package recurrence expands recurring work definitions into concrete
// job instances ahead of time. The generator is time-triggered, never
// event-triggered; it produces the same jobs the lifecycle engine
// consumes and announces them on the event bus.
package recurrence

import (
	"encoding/json"
	"time"
)

// DateLayout is the day-granularity format used for occurrence dates,
// both in storage and in published events.
const DateLayout = "2006-01-02"

// Frequency describes how often a series repeats.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom" // every IntervalDays days
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}
	return false
}

// SeriesState is the lifecycle of a series itself. Paused series keep
// their instances but stop producing new ones; deleted series are kept
// for audit and never touched again.
type SeriesState string

const (
	SeriesActive  SeriesState = "active"
	SeriesPaused  SeriesState = "paused"
	SeriesDeleted SeriesState = "deleted"
)

// Valid reports whether s is a known series state.
func (s SeriesState) Valid() bool {
	return s == SeriesActive || s == SeriesPaused || s == SeriesDeleted
}

// RecurringSeries defines a repetition pattern for one client's work.
// CostPayload is copied verbatim onto every job the series produces.
type RecurringSeries struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"client_id"`
	Frequency    Frequency       `json:"frequency"`
	IntervalDays int             `json:"interval_days,omitempty"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      *time.Time      `json:"end_date,omitempty"`
	State        SeriesState     `json:"state"`
	CostPayload  json.RawMessage `json:"cost_payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RecurringInstance is one concrete projection of a series. At most one
// instance exists per (series, occurrence date); once a real job has
// been created from it the instance is marked materialized and the
// generator never touches it again.
type RecurringInstance struct {
	ID             string    `json:"id"`
	SeriesID       string    `json:"series_id"`
	OccurrenceDate time.Time `json:"occurrence_date"`
	JobID          string    `json:"job_id,omitempty"`
	Materialized   bool      `json:"materialized"`
	CreatedAt      time.Time `json:"created_at"`
}
