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

// RuleStore handles CRUD operations for automation rules.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore creates a rule storage instance.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// Create creates a new rule.
func (rs *RuleStore) Create(ctx context.Context, r *Rule) error {
	if r.Name == "" {
		return errors.New("rule name cannot be empty")
	}
	if r.TriggerType == "" {
		return errors.New("rule trigger_type cannot be empty")
	}
	if len(r.Actions) == 0 {
		return errors.New("rule must have at least one action")
	}
	if r.MaxFiresPerHour < 0 {
		return errors.Newf("max_fires_per_hour must be >= 0, got %d", r.MaxFiresPerHour)
	}
	if r.ID == "" {
		r.ID = ids.New("rule")
	}

	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal conditions")
	}
	actionsJSON, err := json.Marshal(r.Actions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal actions")
	}

	_, err = rs.db.ExecContext(ctx, `
		INSERT INTO automation_rules (
			id, name, trigger_type, conditions, actions,
			enabled, max_fires_per_hour,
			created_at, updated_at, last_fired_at, fire_count, error_count, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.TriggerType, string(conditionsJSON), string(actionsJSON),
		r.Enabled, r.MaxFiresPerHour,
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano), nil, 0, 0, nil,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create rule")
	}
	return nil
}

// Get retrieves a rule by ID.
func (rs *RuleStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := rs.db.QueryRowContext(ctx, `
		SELECT id, name, trigger_type, conditions, actions,
			enabled, max_fires_per_hour,
			created_at, updated_at, last_fired_at, fire_count, error_count, last_error
		FROM automation_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "rule %s", id)
	}
	return r, err
}

// GetByName retrieves a rule by its unique name.
func (rs *RuleStore) GetByName(ctx context.Context, name string) (*Rule, error) {
	row := rs.db.QueryRowContext(ctx, `
		SELECT id, name, trigger_type, conditions, actions,
			enabled, max_fires_per_hour,
			created_at, updated_at, last_fired_at, fire_count, error_count, last_error
		FROM automation_rules WHERE name = ?`, name)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "rule named %q", name)
	}
	return r, err
}

// List returns all rules, optionally filtered by enabled status.
func (rs *RuleStore) List(ctx context.Context, enabledOnly bool) ([]*Rule, error) {
	query := `
		SELECT id, name, trigger_type, conditions, actions,
			enabled, max_fires_per_hour,
			created_at, updated_at, last_fired_at, fire_count, error_count, last_error
		FROM automation_rules`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY created_at ASC"

	rows, err := rs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list rules")
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Update updates a rule's definition.
func (rs *RuleStore) Update(ctx context.Context, r *Rule) error {
	if r.MaxFiresPerHour < 0 {
		return errors.Newf("max_fires_per_hour must be >= 0, got %d", r.MaxFiresPerHour)
	}
	r.UpdatedAt = time.Now()

	conditionsJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal conditions")
	}
	actionsJSON, err := json.Marshal(r.Actions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal actions")
	}

	_, err = rs.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			name = ?, trigger_type = ?, conditions = ?, actions = ?,
			enabled = ?, max_fires_per_hour = ?,
			updated_at = ?
		WHERE id = ?`,
		r.Name, r.TriggerType, string(conditionsJSON), string(actionsJSON),
		r.Enabled, r.MaxFiresPerHour,
		r.UpdatedAt.Format(time.RFC3339Nano),
		r.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update rule")
	}
	return nil
}

// SetEnabled flips a rule's enabled flag.
func (rs *RuleStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := rs.db.ExecContext(ctx, `
		UPDATE automation_rules SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set rule enabled")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "rule %s", id)
	}
	return nil
}

// Delete removes a rule.
func (rs *RuleStore) Delete(ctx context.Context, id string) error {
	_, err := rs.db.ExecContext(ctx, "DELETE FROM automation_rules WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "failed to delete rule")
	}
	return nil
}

// RecordFire updates the rule stats after a firing.
func (rs *RuleStore) RecordFire(ctx context.Context, id string) error {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := rs.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			last_fired_at = ?,
			fire_count = fire_count + 1,
			updated_at = ?
		WHERE id = ?`, now, now, id)
	if err != nil {
		return errors.Wrap(err, "failed to record rule fire")
	}
	return nil
}

// RecordError updates the rule stats after a failed firing.
func (rs *RuleStore) RecordError(ctx context.Context, id string, errMsg string) error {
	now := time.Now().Format(time.RFC3339Nano)
	_, err := rs.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			error_count = error_count + 1,
			last_error = ?,
			updated_at = ?
		WHERE id = ?`, errMsg, now, id)
	if err != nil {
		return errors.Wrap(err, "failed to record rule error")
	}
	return nil
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var conditionsJSON, actionsJSON sql.NullString
	var createdAt, updatedAt string
	var lastFiredAt, lastError sql.NullString
	var triggerType string

	err := row.Scan(
		&r.ID, &r.Name, &triggerType, &conditionsJSON, &actionsJSON,
		&r.Enabled, &r.MaxFiresPerHour,
		&createdAt, &updatedAt, &lastFiredAt, &r.FireCount, &r.ErrorCount, &lastError,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan rule")
	}

	r.TriggerType = event.Type(triggerType)

	if conditionsJSON.Valid && conditionsJSON.String != "" && conditionsJSON.String != "null" {
		if err := json.Unmarshal([]byte(conditionsJSON.String), &r.Conditions); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal conditions for rule %s", r.ID)
		}
	}
	if actionsJSON.Valid && actionsJSON.String != "" {
		if err := json.Unmarshal([]byte(actionsJSON.String), &r.Actions); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal actions for rule %s", r.ID)
		}
	}

	r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid created_at timestamp for rule %s", r.ID)
	}
	r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at timestamp for rule %s", r.ID)
	}
	if lastFiredAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastFiredAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid last_fired_at timestamp for rule %s", r.ID)
		}
		r.LastFiredAt = &t
	}
	if lastError.Valid {
		r.LastError = lastError.String
	}

	return &r, nil
}

// rowScanner lets scanRule work over both QueryRow and Query results.
type rowScanner interface {
	Scan(dest ...interface{}) error
}
