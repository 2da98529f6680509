package recurrence

import (
	"context"
	"database/sql"
	"time"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/internal/ids"
)

// SeriesStore persists recurring series definitions.
type SeriesStore struct {
	db *sql.DB
}

// NewSeriesStore creates a series storage instance.
func NewSeriesStore(db *sql.DB) *SeriesStore {
	return &SeriesStore{db: db}
}

// Create inserts a new series. A missing ID is generated and a missing
// state defaults to active.
func (ss *SeriesStore) Create(ctx context.Context, s *RecurringSeries) error {
	if s.ClientID == "" {
		return errors.New("series client_id cannot be empty")
	}
	if !s.Frequency.Valid() {
		return errors.Newf("invalid series frequency %q", s.Frequency)
	}
	if s.Frequency == FrequencyCustom && s.IntervalDays <= 0 {
		return errors.Newf("custom frequency requires interval_days > 0, got %d", s.IntervalDays)
	}
	if s.StartDate.IsZero() {
		return errors.New("series start_date cannot be zero")
	}
	if s.EndDate != nil && dateOnly(*s.EndDate).Before(dateOnly(s.StartDate)) {
		return errors.Newf("series end_date %s precedes start_date %s",
			s.EndDate.Format(DateLayout), s.StartDate.Format(DateLayout))
	}
	if s.ID == "" {
		s.ID = ids.New("series")
	}
	if s.State == "" {
		s.State = SeriesActive
	}
	if !s.State.Valid() {
		return errors.Newf("invalid series state %q", s.State)
	}

	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	var endDate sql.NullString
	if s.EndDate != nil {
		endDate = sql.NullString{String: dateOnly(*s.EndDate).Format(DateLayout), Valid: true}
	}
	var costPayload sql.NullString
	if len(s.CostPayload) > 0 {
		costPayload = sql.NullString{String: string(s.CostPayload), Valid: true}
	}

	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO recurring_series (id, client_id, frequency, interval_days, start_date, end_date, state, cost_payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ClientID, s.Frequency, s.IntervalDays,
		dateOnly(s.StartDate).Format(DateLayout), endDate, s.State, costPayload,
		s.CreatedAt.Format(time.RFC3339Nano), s.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create series")
	}
	return nil
}

// Get retrieves a series by ID.
func (ss *SeriesStore) Get(ctx context.Context, id string) (*RecurringSeries, error) {
	row := ss.db.QueryRowContext(ctx, `
		SELECT id, client_id, frequency, interval_days, start_date, end_date, state, cost_payload, created_at, updated_at
		FROM recurring_series WHERE id = ?`, id)
	s, err := scanSeries(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "series %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan series")
	}
	return s, nil
}

// List returns series ordered by creation time. When activeOnly is set,
// paused and deleted series are excluded.
func (ss *SeriesStore) List(ctx context.Context, activeOnly bool) ([]*RecurringSeries, error) {
	query := `
		SELECT id, client_id, frequency, interval_days, start_date, end_date, state, cost_payload, created_at, updated_at
		FROM recurring_series`
	var args []interface{}
	if activeOnly {
		query += ` WHERE state = ?`
		args = append(args, SeriesActive)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query series")
	}
	defer rows.Close()

	var out []*RecurringSeries
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan series")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate series")
}

// SetState moves a series between active, paused and deleted.
func (ss *SeriesStore) SetState(ctx context.Context, id string, state SeriesState) error {
	if !state.Valid() {
		return errors.Newf("invalid series state %q", state)
	}
	result, err := ss.db.ExecContext(ctx, `
		UPDATE recurring_series SET state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update series state")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "series %s", id)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSeries(row rowScanner) (*RecurringSeries, error) {
	var s RecurringSeries
	var startDate, createdAt, updatedAt string
	var endDate, costPayload sql.NullString

	err := row.Scan(&s.ID, &s.ClientID, &s.Frequency, &s.IntervalDays,
		&startDate, &endDate, &s.State, &costPayload, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if s.StartDate, err = time.ParseInLocation(DateLayout, startDate, time.UTC); err != nil {
		return nil, errors.Wrapf(err, "invalid start_date for series %s", s.ID)
	}
	if endDate.Valid {
		end, err := time.ParseInLocation(DateLayout, endDate.String, time.UTC)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid end_date for series %s", s.ID)
		}
		s.EndDate = &end
	}
	if costPayload.Valid {
		s.CostPayload = []byte(costPayload.String)
	}
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for series %s", s.ID)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for series %s", s.ID)
	}
	return &s, nil
}

// InstanceStore persists the concrete occurrences projected from series.
type InstanceStore struct {
	db *sql.DB
}

// NewInstanceStore creates an instance storage instance.
func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// EnsureExists inserts an instance row for (seriesID, date) if none is
// present, reporting whether a row was created. The uniqueness
// constraint on (series_id, occurrence_date) makes concurrent or
// repeated calls collapse to a single row.
func (is *InstanceStore) EnsureExists(ctx context.Context, seriesID string, date time.Time) (bool, error) {
	result, err := is.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO recurring_instances (id, series_id, occurrence_date, materialized, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		ids.New("inst"), seriesID, dateOnly(date).Format(DateLayout),
		time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to ensure instance for series %s on %s",
			seriesID, date.Format(DateLayout))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return affected > 0, nil
}

// GetByOccurrence retrieves the instance for (seriesID, date).
func (is *InstanceStore) GetByOccurrence(ctx context.Context, seriesID string, date time.Time) (*RecurringInstance, error) {
	row := is.db.QueryRowContext(ctx, `
		SELECT id, series_id, occurrence_date, job_id, materialized, created_at
		FROM recurring_instances WHERE series_id = ? AND occurrence_date = ?`,
		seriesID, dateOnly(date).Format(DateLayout))
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "instance for series %s on %s",
			seriesID, date.Format(DateLayout))
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan instance")
	}
	return inst, nil
}

// ListBySeries returns a series' instances in occurrence order.
func (is *InstanceStore) ListBySeries(ctx context.Context, seriesID string) ([]*RecurringInstance, error) {
	rows, err := is.db.QueryContext(ctx, `
		SELECT id, series_id, occurrence_date, job_id, materialized, created_at
		FROM recurring_instances WHERE series_id = ?
		ORDER BY occurrence_date ASC`, seriesID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query instances")
	}
	defer rows.Close()

	var out []*RecurringInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan instance")
		}
		out = append(out, inst)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate instances")
}

// MarkMaterialized records the job created from an instance. The guard
// on materialized = 0 means a second caller loses cleanly instead of
// overwriting the first job id.
func (is *InstanceStore) MarkMaterialized(ctx context.Context, instanceID, jobID string) error {
	result, err := is.db.ExecContext(ctx, `
		UPDATE recurring_instances SET materialized = 1, job_id = ?
		WHERE id = ? AND materialized = 0`, jobID, instanceID)
	if err != nil {
		return errors.Wrap(err, "failed to mark instance materialized")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Newf("instance %s missing or already materialized", instanceID)
	}
	return nil
}

func scanInstance(row rowScanner) (*RecurringInstance, error) {
	var inst RecurringInstance
	var occurrenceDate, createdAt string
	var jobID sql.NullString
	var materialized int

	err := row.Scan(&inst.ID, &inst.SeriesID, &occurrenceDate, &jobID, &materialized, &createdAt)
	if err != nil {
		return nil, err
	}

	if inst.OccurrenceDate, err = time.ParseInLocation(DateLayout, occurrenceDate, time.UTC); err != nil {
		return nil, errors.Wrapf(err, "invalid occurrence_date for instance %s", inst.ID)
	}
	inst.JobID = jobID.String
	inst.Materialized = materialized != 0
	if inst.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for instance %s", inst.ID)
	}
	return &inst, nil
}
