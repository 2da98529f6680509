package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	"github.com/DKmica/TreeProAIv2-sub008/internal/ids"
)

// RunStore persists the append-only rule firing log. Besides observability it
// backs the firing-rate guard and duplicate-event detection.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a run storage instance.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Create appends one run record.
func (rs *RunStore) Create(ctx context.Context, run *Run) error {
	if run.RuleID == "" {
		return errors.New("run rule_id cannot be empty")
	}
	if run.EventID == "" {
		return errors.New("run event_id cannot be empty")
	}
	if run.ID == "" {
		run.ID = ids.New("run")
	}
	run.CreatedAt = time.Now()

	resultsJSON, err := json.Marshal(run.ActionResults)
	if err != nil {
		return errors.Wrap(err, "failed to marshal action results")
	}

	_, err = rs.db.ExecContext(ctx, `
		INSERT INTO automation_runs (
			id, rule_id, event_id, event_type, job_id,
			status, action_results, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RuleID, run.EventID, run.EventType, run.JobID,
		run.Status, string(resultsJSON), run.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create run")
	}
	return nil
}

// CountRecentFirings counts runs for a (rule, job) pair since the cutoff.
// Rate-limited runs are excluded so a throttled rule does not keep pushing
// its own window forward.
func (rs *RunStore) CountRecentFirings(ctx context.Context, ruleID, jobID string, since time.Time) (int, error) {
	var count int
	err := rs.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM automation_runs
		WHERE rule_id = ? AND job_id = ? AND status != ? AND created_at >= ?`,
		ruleID, jobID, RunRateLimited, since.Format(time.RFC3339Nano),
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count recent firings")
	}
	return count, nil
}

// ListByRule returns a rule's runs, newest first.
func (rs *RunStore) ListByRule(ctx context.Context, ruleID string, limit int) ([]*Run, error) {
	return rs.list(ctx, "rule_id = ?", ruleID, limit)
}

// ListByJob returns a job's runs, newest first.
func (rs *RunStore) ListByJob(ctx context.Context, jobID string, limit int) ([]*Run, error) {
	return rs.list(ctx, "job_id = ?", jobID, limit)
}

// ListByEvent returns the runs triggered by one event. More than one row per
// rule id here means the event was delivered twice.
func (rs *RunStore) ListByEvent(ctx context.Context, eventID string) ([]*Run, error) {
	return rs.list(ctx, "event_id = ?", eventID, 0)
}

func (rs *RunStore) list(ctx context.Context, where string, arg interface{}, limit int) ([]*Run, error) {
	query := `
		SELECT id, rule_id, event_id, event_type, job_id,
			status, action_results, created_at
		FROM automation_runs WHERE ` + where + ` ORDER BY created_at DESC`
	args := []interface{}{arg}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := rs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var eventType string
		var jobID sql.NullString
		var resultsJSON sql.NullString
		var createdAt string

		err := rows.Scan(
			&run.ID, &run.RuleID, &run.EventID, &eventType, &jobID,
			&run.Status, &resultsJSON, &createdAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		run.EventType = event.Type(eventType)
		if jobID.Valid {
			run.JobID = jobID.String
		}
		if resultsJSON.Valid && resultsJSON.String != "" && resultsJSON.String != "null" {
			if err := json.Unmarshal([]byte(resultsJSON.String), &run.ActionResults); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal action results for run %s", run.ID)
			}
		}
		run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid created_at timestamp for run %s", run.ID)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// DeleteOlderThan prunes run records created before the cutoff. Returns how
// many rows were removed.
func (rs *RunStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := rs.db.ExecContext(ctx,
		"DELETE FROM automation_runs WHERE created_at < ?",
		cutoff.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune runs")
	}
	return result.RowsAffected()
}
