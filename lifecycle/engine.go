package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
)

// DefaultLockTimeout bounds how long a transition waits for the per-job lock
// before surfacing ErrConcurrentModification.
const DefaultLockTimeout = 5 * time.Second

// Engine validates and applies job transitions. It owns the guard logic:
// edge legality, role gates, per-job serialization, and the atomic
// state+audit write. Side effects never run inline; the engine only publishes
// to the bus after the commit lands.
type Engine struct {
	store       *JobStore
	table       *TransitionTable
	bus         *event.Bus
	locks       *lockTable
	lockTimeout time.Duration
	logger      *zap.SugaredLogger
}

// NewEngine creates a state machine engine. The bus and logger may be nil
// (no events published, no logging).
func NewEngine(store *JobStore, table *TransitionTable, bus *event.Bus, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		store:       store,
		table:       table,
		bus:         bus,
		locks:       newLockTable(),
		lockTimeout: DefaultLockTimeout,
		logger:      logger,
	}
}

// SetLockTimeout overrides the per-job lock wait bound.
func (e *Engine) SetLockTimeout(d time.Duration) {
	e.lockTimeout = d
}

// RequestTransition moves a job to toState on behalf of actor.
//
// On success the job's state equals toState and exactly one new audit row
// exists; on any failure the job is untouched. The job_transitioned event is
// published strictly after the commit, so subscribers never observe a state
// that was rolled back.
func (e *Engine) RequestTransition(ctx context.Context, jobID string, toState State, actor Actor, reason string) (*TransitionResult, error) {
	if !toState.Valid() {
		return nil, errors.WithDetailf(ErrInvalidTransition, "unknown target state %q", toState)
	}

	release, err := e.locks.acquire(ctx, jobID, e.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	rule, ok := e.table.Rule(job.State, toState)
	if !ok {
		return nil, errors.WithDetailf(ErrInvalidTransition, "%s -> %s", job.State, toState)
	}
	if !rule.permits(actor.Role) {
		return nil, errors.WithDetailf(ErrForbidden, "role %q cannot apply %s -> %s", actor.Role, job.State, toState)
	}

	tr := &StateTransition{
		JobID:           jobID,
		FromState:       job.State,
		ToState:         toState,
		ActorID:         actor.ID,
		ActorRole:       actor.Role,
		Reason:          reason,
		SystemTriggered: actor.Role == RoleSystem,
		TableVersion:    e.table.Version(),
	}
	if err := e.store.ApplyTransition(ctx, tr); err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.Infow("Job transitioned",
			"job_id", jobID,
			"from", tr.FromState,
			"to", tr.ToState,
			"actor", actor.ID,
			"role", actor.Role,
		)
	}

	// Publish only after the commit landed.
	if e.bus != nil {
		e.bus.Publish(event.NewJobTransitioned(event.JobTransitioned{
			JobID:     jobID,
			FromState: string(tr.FromState),
			ToState:   string(tr.ToState),
			ActorID:   actor.ID,
			ActorRole: string(actor.Role),
			Hooks:     rule.Hooks,
			Timestamp: tr.CreatedAt,
		}))
	}

	return &TransitionResult{State: toState, TransitionID: tr.ID}, nil
}

// GetAllowedTransitions returns the target states the actor may move the job
// to from its current state.
func (e *Engine) GetAllowedTransitions(ctx context.Context, jobID string, actor Actor) ([]State, error) {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return e.table.AllowedFrom(job.State, actor.Role), nil
}

// GetTransitionHistory returns the job's audit trail in applied order.
func (e *Engine) GetTransitionHistory(ctx context.Context, jobID string) ([]*StateTransition, error) {
	if _, err := e.store.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return e.store.History(ctx, jobID)
}
