package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/internal/ids"
)

// JobStore persists jobs and their transition history.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a job storage instance.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Create inserts a new job. A missing ID is generated, a missing state
// defaults to Draft.
func (js *JobStore) Create(ctx context.Context, j *Job) error {
	if j.ClientID == "" {
		return errors.New("job client_id cannot be empty")
	}
	if j.ID == "" {
		j.ID = ids.New("job")
	}
	if j.State == "" {
		j.State = StateDraft
	}
	if !j.State.Valid() {
		return errors.Newf("invalid job state %q", j.State)
	}

	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now

	crewJSON, err := json.Marshal(j.CrewIDs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal crew_ids")
	}

	var scheduledStart, scheduledEnd *string
	if j.ScheduledStart != nil {
		s := j.ScheduledStart.Format(time.RFC3339Nano)
		scheduledStart = &s
	}
	if j.ScheduledEnd != nil {
		s := j.ScheduledEnd.Format(time.RFC3339Nano)
		scheduledEnd = &s
	}

	var seriesID *string
	if j.SeriesID != "" {
		seriesID = &j.SeriesID
	}

	_, err = js.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, client_id, state,
			scheduled_start, scheduled_end, crew_ids, cost_payload, series_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ClientID, j.State,
		scheduledStart, scheduledEnd, string(crewJSON), nullableJSON(j.CostPayload), seriesID,
		j.CreatedAt.Format(time.RFC3339Nano), j.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// Get retrieves a job by ID.
func (js *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := js.db.QueryRowContext(ctx, `
		SELECT id, client_id, state,
			scheduled_start, scheduled_end, crew_ids, cost_payload, series_id,
			created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List returns jobs, optionally filtered by state.
func (js *JobStore) List(ctx context.Context, state *State) ([]*Job, error) {
	query := `
		SELECT id, client_id, state,
			scheduled_start, scheduled_end, crew_ids, cost_payload, series_id,
			created_at, updated_at
		FROM jobs`
	var args []interface{}
	if state != nil {
		query += " WHERE state = ?"
		args = append(args, *state)
	}
	query += " ORDER BY created_at DESC"

	rows, err := js.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountOtherNonCancelled counts the client's jobs, excluding one job and any
// cancelled jobs. Used by the client-downgrade guard.
func (js *JobStore) CountOtherNonCancelled(ctx context.Context, clientID, excludeJobID string) (int, error) {
	var count int
	err := js.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE client_id = ? AND id != ? AND state != ?`,
		clientID, excludeJobID, StateCancelled,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count client jobs")
	}
	return count, nil
}

// ApplyTransition atomically moves a job from one state to another and
// appends the audit row. The UPDATE is guarded on the expected current state,
// so a concurrent writer that got there first causes a conflict instead of a
// lost update. Both writes commit together or not at all.
func (js *JobStore) ApplyTransition(ctx context.Context, tr *StateTransition) error {
	if tr.ID == "" {
		tr.ID = ids.New("tr")
	}
	tr.CreatedAt = time.Now()

	tx, err := js.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transition tx")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		tr.ToState, tr.CreatedAt.Format(time.RFC3339Nano),
		tr.JobID, tr.FromState,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job state")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		// Job vanished or its state moved underneath us.
		return errors.WithDetail(ErrConcurrentModification,
			"job state changed between read and write")
	}

	var reason *string
	if tr.Reason != "" {
		reason = &tr.Reason
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_transitions (
			id, job_id, from_state, to_state,
			actor_id, actor_role, reason, system_triggered, table_version,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.JobID, tr.FromState, tr.ToState,
		tr.ActorID, tr.ActorRole, reason, tr.SystemTriggered, tr.TableVersion,
		tr.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to append transition audit row")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transition")
	}
	return nil
}

// History returns a job's transitions in the order they were applied.
func (js *JobStore) History(ctx context.Context, jobID string) ([]*StateTransition, error) {
	rows, err := js.db.QueryContext(ctx, `
		SELECT id, job_id, from_state, to_state,
			actor_id, actor_role, reason, system_triggered, table_version,
			created_at
		FROM job_transitions
		WHERE job_id = ?
		ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transition history")
	}
	defer rows.Close()

	var transitions []*StateTransition
	for rows.Next() {
		var tr StateTransition
		var reason sql.NullString
		var createdAt string
		err := rows.Scan(
			&tr.ID, &tr.JobID, &tr.FromState, &tr.ToState,
			&tr.ActorID, &tr.ActorRole, &reason, &tr.SystemTriggered, &tr.TableVersion,
			&createdAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan transition")
		}
		if reason.Valid {
			tr.Reason = reason.String
		}
		tr.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid created_at timestamp for transition %s", tr.ID)
		}
		transitions = append(transitions, &tr)
	}
	return transitions, rows.Err()
}

// rowScanner lets scanJob work over both QueryRow and Query results.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var scheduledStart, scheduledEnd, costPayload, seriesID sql.NullString
	var crewJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&j.ID, &j.ClientID, &j.State,
		&scheduledStart, &scheduledEnd, &crewJSON, &costPayload, &seriesID,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan job")
	}

	if crewJSON.Valid && crewJSON.String != "" {
		if err := json.Unmarshal([]byte(crewJSON.String), &j.CrewIDs); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal crew_ids for job %s", j.ID)
		}
	}
	if costPayload.Valid && costPayload.String != "" {
		j.CostPayload = json.RawMessage(costPayload.String)
	}
	if seriesID.Valid {
		j.SeriesID = seriesID.String
	}
	if scheduledStart.Valid {
		t, err := time.Parse(time.RFC3339Nano, scheduledStart.String)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid scheduled_start for job %s", j.ID)
		}
		j.ScheduledStart = &t
	}
	if scheduledEnd.Valid {
		t, err := time.Parse(time.RFC3339Nano, scheduledEnd.String)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid scheduled_end for job %s", j.ID)
		}
		j.ScheduledEnd = &t
	}

	j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for job %s", j.ID)
	}
	j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for job %s", j.ID)
	}

	return &j, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
