package recurrence

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKmica/TreeProAIv2-sub008/event"
	treeprotest "github.com/DKmica/TreeProAIv2-sub008/internal/testing"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
)

type generatorHarness struct {
	conn      *sql.DB
	series    *SeriesStore
	instances *InstanceStore
	jobs      *lifecycle.JobStore
	bus       *event.Bus
	gen       *Generator

	mu        sync.Mutex
	scheduled []event.Event
}

func newGeneratorHarness(t *testing.T, cfg GeneratorConfig) *generatorHarness {
	t.Helper()
	conn := treeprotest.CreateTestDB(t)
	h := &generatorHarness{
		conn:      conn,
		series:    NewSeriesStore(conn),
		instances: NewInstanceStore(conn),
		jobs:      lifecycle.NewJobStore(conn),
		bus:       event.NewBus(nil),
	}
	t.Cleanup(h.bus.Close)
	h.bus.Subscribe("test-capture", func(ctx context.Context, evt event.Event) error {
		h.mu.Lock()
		h.scheduled = append(h.scheduled, evt)
		h.mu.Unlock()
		return nil
	}, event.TypeJobScheduled)
	h.gen = NewGenerator(h.series, h.instances, h.jobs, h.bus, cfg, nil)
	return h
}

func (h *generatorHarness) scheduledEvents() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]event.Event, len(h.scheduled))
	copy(out, h.scheduled)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestGenerateOnceProjectsAndMaterializes(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 28, MaterializeDays: 7})
	ctx := context.Background()

	s := &RecurringSeries{
		ClientID:    "client_1",
		Frequency:   FrequencyWeekly,
		StartDate:   date("2026-03-02"),
		CostPayload: []byte(`{"amount": 400}`),
	}
	require.NoError(t, h.series.Create(ctx, s))

	now := date("2026-03-02")
	stats, err := h.gen.GenerateOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SeriesSeen)
	// 2026-03-02, 09, 16, 23, 30 fall inside the 28-day lookahead.
	assert.Equal(t, 5, stats.InstancesCreated)
	// Only 03-02 and 03-09 fall inside the 7-day materialize horizon.
	assert.Equal(t, 2, stats.JobsMaterialized)

	instances, err := h.instances.ListBySeries(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, instances, 5)

	var materialized int
	for _, inst := range instances {
		if !inst.Materialized {
			assert.Empty(t, inst.JobID)
			continue
		}
		materialized++
		job, err := h.jobs.Get(ctx, inst.JobID)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.StateDraft, job.State)
		assert.Equal(t, s.ID, job.SeriesID)
		assert.Equal(t, "client_1", job.ClientID)
		assert.JSONEq(t, `{"amount": 400}`, string(job.CostPayload))
		require.NotNil(t, job.ScheduledStart)
		assert.Equal(t, inst.OccurrenceDate.Format(DateLayout), job.ScheduledStart.Format(DateLayout))
	}
	assert.Equal(t, 2, materialized)
}

func TestGenerateOncePublishesJobScheduled(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 7, MaterializeDays: 7})
	ctx := context.Background()

	s := &RecurringSeries{ClientID: "client_1", Frequency: FrequencyWeekly, StartDate: date("2026-03-02")}
	require.NoError(t, h.series.Create(ctx, s))

	_, err := h.gen.GenerateOnce(ctx, date("2026-03-02"))
	require.NoError(t, err)

	waitFor(t, func() bool { return len(h.scheduledEvents()) == 2 })
	for _, evt := range h.scheduledEvents() {
		payload, ok := evt.Payload.(event.JobScheduled)
		require.True(t, ok)
		assert.Equal(t, s.ID, payload.SeriesID)
		assert.NotEmpty(t, payload.JobID)
		assert.NotEmpty(t, payload.ScheduledDate)
	}
}

func TestGenerateOnceWithoutBus(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	series := NewSeriesStore(conn)
	gen := NewGenerator(series, NewInstanceStore(conn), lifecycle.NewJobStore(conn), nil,
		GeneratorConfig{LookaheadDays: 14, MaterializeDays: 7}, nil)
	ctx := context.Background()

	require.NoError(t, series.Create(ctx, &RecurringSeries{
		ClientID:  "client_1",
		Frequency: FrequencyWeekly,
		StartDate: date("2026-03-02"),
	}))

	stats, err := gen.GenerateOnce(ctx, date("2026-03-02"))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.JobsMaterialized, "materialization proceeds without a bus")
}

func TestGenerateOnceRerunIsIdempotent(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 14, MaterializeDays: 14})
	ctx := context.Background()

	s := &RecurringSeries{ClientID: "client_1", Frequency: FrequencyWeekly, StartDate: date("2026-03-02")}
	require.NoError(t, h.series.Create(ctx, s))

	now := date("2026-03-02")
	first, err := h.gen.GenerateOnce(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 3, first.InstancesCreated)
	require.Equal(t, 3, first.JobsMaterialized)

	second, err := h.gen.GenerateOnce(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, second.InstancesCreated)
	assert.Zero(t, second.JobsMaterialized)

	instances, err := h.instances.ListBySeries(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, instances, 3)

	jobs, err := h.jobs.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 3, "re-running must not duplicate jobs")

	waitFor(t, func() bool { return len(h.scheduledEvents()) >= 3 })
	assert.Len(t, h.scheduledEvents(), 3, "re-running must not republish scheduling events")
}

func TestGenerateOnceAdvancingWindowExtendsSeries(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 7, MaterializeDays: 7})
	ctx := context.Background()

	s := &RecurringSeries{ClientID: "client_1", Frequency: FrequencyDaily, StartDate: date("2026-03-01")}
	require.NoError(t, h.series.Create(ctx, s))

	first, err := h.gen.GenerateOnce(ctx, date("2026-03-01"))
	require.NoError(t, err)
	require.Equal(t, 8, first.JobsMaterialized)

	// A day later only the newly revealed occurrence is produced.
	second, err := h.gen.GenerateOnce(ctx, date("2026-03-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.InstancesCreated)
	assert.Equal(t, 1, second.JobsMaterialized)
}

func TestGeneratorSetHorizons(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 7, MaterializeDays: 7})
	ctx := context.Background()

	s := &RecurringSeries{
		ClientID:  "client_1",
		Frequency: FrequencyWeekly,
		StartDate: date("2026-03-02"),
	}
	require.NoError(t, h.series.Create(ctx, s))

	now := date("2026-03-02")
	stats, err := h.gen.GenerateOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.InstancesCreated)

	// Widened horizons apply to the next pass without a restart.
	h.gen.SetHorizons(28, 14)
	stats, err = h.gen.GenerateOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.InstancesCreated, "03-16, 03-23, 03-30 enter the wider window")
	assert.Equal(t, 1, stats.JobsMaterialized, "03-09 job already exists; 03-16 is new inside 14 days")

	// Non-positive values are ignored.
	h.gen.SetHorizons(0, -1)
	stats, err = h.gen.GenerateOnce(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.InstancesCreated)
}

func TestGenerateOnceSkipsPausedSeries(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 7, MaterializeDays: 7})
	ctx := context.Background()

	s := &RecurringSeries{ClientID: "client_1", Frequency: FrequencyDaily, StartDate: date("2026-03-01")}
	require.NoError(t, h.series.Create(ctx, s))
	require.NoError(t, h.series.SetState(ctx, s.ID, SeriesPaused))

	stats, err := h.gen.GenerateOnce(ctx, date("2026-03-01"))
	require.NoError(t, err)
	assert.Zero(t, stats.SeriesSeen)
	assert.Zero(t, stats.InstancesCreated)
}

func TestGenerateOnceHonorsEndDate(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 30, MaterializeDays: 30})
	ctx := context.Background()

	end := date("2026-03-03")
	s := &RecurringSeries{ClientID: "client_1", Frequency: FrequencyDaily, StartDate: date("2026-03-01"), EndDate: &end}
	require.NoError(t, h.series.Create(ctx, s))

	stats, err := h.gen.GenerateOnce(ctx, date("2026-03-01"))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.InstancesCreated)
	assert.Equal(t, 3, stats.JobsMaterialized)
}

func TestGeneratorOneBrokenSeriesDoesNotStarveOthers(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 1, MaterializeDays: 1})
	ctx := context.Background()

	broken := &RecurringSeries{ClientID: "client_1", Frequency: FrequencyDaily, StartDate: date("2026-03-01")}
	healthy := &RecurringSeries{ClientID: "client_2", Frequency: FrequencyDaily, StartDate: date("2026-03-01")}
	require.NoError(t, h.series.Create(ctx, broken))
	require.NoError(t, h.series.Create(ctx, healthy))

	// Blank out the broken series' client so its job creation fails
	// while the healthy series expands normally.
	_, err := h.conn.Exec(`UPDATE recurring_series SET client_id = '' WHERE id = ?`, broken.ID)
	require.NoError(t, err)

	stats, err := h.gen.GenerateOnce(ctx, date("2026-03-01"))
	require.Error(t, err)
	assert.Equal(t, 2, stats.JobsMaterialized, "healthy series still materializes both days")
}

func TestGeneratorStartStop(t *testing.T) {
	h := newGeneratorHarness(t, GeneratorConfig{LookaheadDays: 7, MaterializeDays: 7, Interval: time.Hour})
	ctx := context.Background()

	s := &RecurringSeries{ClientID: "client_1", Frequency: FrequencyDaily, StartDate: dateOnly(time.Now())}
	require.NoError(t, h.series.Create(ctx, s))

	h.gen.Start()
	defer h.gen.Stop()

	// The loop runs once immediately on start.
	waitFor(t, func() bool {
		list, err := h.instances.ListBySeries(ctx, s.ID)
		return err == nil && len(list) == 8
	})
}
