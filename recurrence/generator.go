package recurrence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
	"github.com/DKmica/TreeProAIv2-sub008/lifecycle"
)

// GeneratorConfig bounds how far ahead the generator projects.
type GeneratorConfig struct {
	LookaheadDays   int           // instances are projected this far out
	MaterializeDays int           // jobs are created within this shorter horizon
	Interval        time.Duration // how often the background loop runs; 0 disables it
}

// DefaultGeneratorConfig returns sensible defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		LookaheadDays:   90,
		MaterializeDays: 14,
		Interval:        time.Hour,
	}
}

// GenerateStats summarizes one generator pass.
type GenerateStats struct {
	SeriesSeen       int `json:"series_seen"`
	InstancesCreated int `json:"instances_created"`
	JobsMaterialized int `json:"jobs_materialized"`
}

// Generator periodically expands active series into instances, and
// instances inside the materialize horizon into Draft jobs. Every pass
// is idempotent: the instance uniqueness constraint and the
// materialized flag make re-runs over the same window no-ops.
type Generator struct {
	series    *SeriesStore
	instances *InstanceStore
	jobs      *lifecycle.JobStore
	bus       *event.Bus
	cfg       GeneratorConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger

	mu             sync.Mutex
	lastRunAt      time.Time
	runsSinceStart int64
	// Horizons are reloadable via SetHorizons; Interval is fixed once
	// Start has created the ticker.
	lookaheadDays   int
	materializeDays int
}

// NewGenerator creates a generator over the given stores and bus. The
// logger and bus may be nil; without a bus, materialized jobs are simply
// not announced.
func NewGenerator(series *SeriesStore, instances *InstanceStore, jobs *lifecycle.JobStore, bus *event.Bus, cfg GeneratorConfig, log *zap.SugaredLogger) *Generator {
	return NewGeneratorWithContext(context.Background(), series, instances, jobs, bus, cfg, log)
}

// NewGeneratorWithContext creates a generator with a parent context.
func NewGeneratorWithContext(ctx context.Context, series *SeriesStore, instances *InstanceStore, jobs *lifecycle.JobStore, bus *event.Bus, cfg GeneratorConfig, log *zap.SugaredLogger) *Generator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	genCtx, cancel := context.WithCancel(ctx)
	return &Generator{
		series:          series,
		instances:       instances,
		jobs:            jobs,
		bus:             bus,
		cfg:             cfg,
		ctx:             genCtx,
		cancel:          cancel,
		logger:          log,
		lookaheadDays:   cfg.LookaheadDays,
		materializeDays: cfg.MaterializeDays,
	}
}

// SetHorizons updates the lookahead and materialize windows; the next pass
// picks them up. Non-positive values are ignored.
func (g *Generator) SetHorizons(lookaheadDays, materializeDays int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if lookaheadDays > 0 {
		g.lookaheadDays = lookaheadDays
	}
	if materializeDays > 0 {
		g.materializeDays = materializeDays
	}
}

func (g *Generator) horizons() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookaheadDays, g.materializeDays
}

// Start begins the background loop. A non-positive interval leaves the
// generator usable only through explicit GenerateOnce calls.
func (g *Generator) Start() {
	if g.cfg.Interval <= 0 {
		g.logger.Infow("Recurrence generator background loop disabled")
		return
	}
	g.wg.Add(1)
	go g.run()
	g.logger.Infow("Recurrence generator started",
		"interval", g.cfg.Interval,
		"lookahead_days", g.cfg.LookaheadDays,
		"materialize_days", g.cfg.MaterializeDays)
}

// Stop gracefully stops the background loop.
func (g *Generator) Stop() {
	g.cancel()
	g.wg.Wait()
	g.logger.Infow("Recurrence generator stopped")
}

func (g *Generator) run() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start so a daemon restart never waits a full
	// interval to catch up.
	g.tick(time.Now())

	for {
		select {
		case <-g.ctx.Done():
			return
		case tickTime := <-ticker.C:
			g.tick(tickTime)
		}
	}
}

func (g *Generator) tick(now time.Time) {
	g.mu.Lock()
	g.lastRunAt = now
	g.runsSinceStart++
	g.mu.Unlock()

	stats, err := g.GenerateOnce(g.ctx, now)
	if err != nil {
		g.logger.Warnw("Recurrence pass error", "error", err)
	}
	if stats.InstancesCreated > 0 || stats.JobsMaterialized > 0 {
		g.logger.Infow("Recurrence pass complete",
			"series_seen", stats.SeriesSeen,
			"instances_created", stats.InstancesCreated,
			"jobs_materialized", stats.JobsMaterialized)
	}
}

// GenerateOnce runs a single expansion pass anchored at now. Per-series
// failures are logged and skipped so one broken series cannot starve
// the rest; the first error is still returned for the caller.
func (g *Generator) GenerateOnce(ctx context.Context, now time.Time) (GenerateStats, error) {
	var stats GenerateStats

	today := dateOnly(now)
	lookahead, materialize := g.horizons()
	lookaheadEnd := today.AddDate(0, 0, lookahead)
	materializeEnd := today.AddDate(0, 0, materialize)

	active, err := g.series.List(ctx, true)
	if err != nil {
		return stats, errors.Wrap(err, "failed to list active series")
	}
	stats.SeriesSeen = len(active)

	var firstErr error
	for _, s := range active {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		created, materialized, err := g.expandSeries(ctx, s, today, lookaheadEnd, materializeEnd)
		stats.InstancesCreated += created
		stats.JobsMaterialized += materialized
		if err != nil {
			g.logger.Errorw("Failed to expand series",
				"series_id", s.ID,
				"client_id", s.ClientID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return stats, firstErr
}

func (g *Generator) expandSeries(ctx context.Context, s *RecurringSeries, today, lookaheadEnd, materializeEnd time.Time) (created, materialized int, err error) {
	for _, date := range s.Occurrences(today, lookaheadEnd) {
		wasNew, err := g.instances.EnsureExists(ctx, s.ID, date)
		if err != nil {
			return created, materialized, err
		}
		if wasNew {
			created++
		}

		if date.After(materializeEnd) {
			continue
		}
		inst, err := g.instances.GetByOccurrence(ctx, s.ID, date)
		if err != nil {
			return created, materialized, err
		}
		if inst.Materialized {
			continue
		}
		if err := g.materialize(ctx, s, inst); err != nil {
			return created, materialized, err
		}
		materialized++
	}
	return created, materialized, nil
}

// materialize creates the Draft job for an instance, records the link
// and announces the scheduling on the bus.
func (g *Generator) materialize(ctx context.Context, s *RecurringSeries, inst *RecurringInstance) error {
	start := inst.OccurrenceDate
	job := &lifecycle.Job{
		ClientID:       s.ClientID,
		State:          lifecycle.StateDraft,
		ScheduledStart: &start,
		CostPayload:    s.CostPayload,
		SeriesID:       s.ID,
	}
	if err := g.jobs.Create(ctx, job); err != nil {
		return errors.Wrapf(err, "failed to create job for series %s on %s",
			s.ID, inst.OccurrenceDate.Format(DateLayout))
	}
	if err := g.instances.MarkMaterialized(ctx, inst.ID, job.ID); err != nil {
		return err
	}

	g.logger.Infow("Materialized recurring job",
		"series_id", s.ID,
		"job_id", job.ID,
		"occurrence_date", inst.OccurrenceDate.Format(DateLayout))

	if g.bus != nil {
		g.bus.Publish(event.NewJobScheduled(event.JobScheduled{
			JobID:         job.ID,
			SeriesID:      s.ID,
			ScheduledDate: inst.OccurrenceDate.Format(DateLayout),
		}))
	}
	return nil
}

// GetStats returns generator loop statistics.
func (g *Generator) GetStats() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]interface{}{
		"last_run_at":      g.lastRunAt,
		"runs_since_start": g.runsSinceStart,
		"interval":         g.cfg.Interval,
	}
}
