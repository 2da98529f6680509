package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DKmica/TreeProAIv2-sub008/event"
	treeprotest "github.com/DKmica/TreeProAIv2-sub008/internal/testing"
)

func newTestEngine(t *testing.T) (*Engine, *JobStore, *event.Bus) {
	t.Helper()
	conn := treeprotest.CreateTestDB(t)
	store := NewJobStore(conn)
	bus := event.NewBus(nil)
	t.Cleanup(bus.Close)
	engine := NewEngine(store, DefaultTable(), bus, nil)
	return engine, store, bus
}

func createJob(t *testing.T, store *JobStore, state State) *Job {
	t.Helper()
	job := &Job{ClientID: "client_1", State: state}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestRequestTransitionScenario(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	job := createJob(t, store, StateDraft)

	sales := Actor{ID: "u_sales", Role: RoleSales}
	crew := Actor{ID: "u_crew", Role: RoleCrew}

	// Draft -> Scheduled by sales succeeds.
	res, err := engine.RequestTransition(ctx, job.ID, StateScheduled, sales, "")
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, res.State)
	require.NotEmpty(t, res.TransitionID)

	// Scheduled -> Completed skips intermediate states.
	_, err = engine.RequestTransition(ctx, job.ID, StateCompleted, crew, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Scheduled -> InProgress -> Completed by crew succeed in sequence.
	_, err = engine.RequestTransition(ctx, job.ID, StateInProgress, crew, "")
	require.NoError(t, err)
	_, err = engine.RequestTransition(ctx, job.ID, StateCompleted, crew, "")
	require.NoError(t, err)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)

	history, err := engine.GetTransitionHistory(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StateDraft, history[0].FromState)
	assert.Equal(t, StateScheduled, history[0].ToState)
	assert.Equal(t, StateCompleted, history[2].ToState)
}

func TestRequestTransitionForbidden(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	job := createJob(t, store, StateDraft)

	// Crew has no Draft -> Scheduled edge.
	_, err := engine.RequestTransition(ctx, job.ID, StateScheduled, Actor{ID: "u_crew", Role: RoleCrew}, "")
	assert.ErrorIs(t, err, ErrForbidden)

	// Job left untouched.
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, got.State)
	history, err := store.History(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "failed transitions must not write audit rows")
}

func TestRequestTransitionJobNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.RequestTransition(context.Background(), "job_missing", StateScheduled, Actor{ID: "u1", Role: RoleAdmin}, "")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRequestTransitionTerminalStatesAreDeadEnds(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	admin := Actor{ID: "u_admin", Role: RoleAdmin}

	for _, terminal := range []State{StatePaid, StateCancelled} {
		job := createJob(t, store, terminal)
		for _, to := range AllStates {
			_, err := engine.RequestTransition(ctx, job.ID, to, admin, "")
			assert.ErrorIs(t, err, ErrInvalidTransition,
				"%s -> %s must be rejected", terminal, to)
		}
	}
}

func TestRequestTransitionUniversalCancellation(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	office := Actor{ID: "u_office", Role: RoleOffice}

	for _, from := range AllStates {
		if from.Terminal() {
			continue
		}
		job := createJob(t, store, from)
		res, err := engine.RequestTransition(ctx, job.ID, StateCancelled, office, "client backed out")
		require.NoError(t, err, "cancellation from %s must succeed", from)
		assert.Equal(t, StateCancelled, res.State)
	}
}

// Legality property: a transition succeeds exactly when the edge exists and
// the role passes, checked across every (from, to, role) combination.
func TestRequestTransitionLegalityProperty(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	table := DefaultTable()
	roles := []Role{RoleAdmin, RoleSales, RoleDispatch, RoleCrew, RoleOffice}

	for _, from := range AllStates {
		for _, to := range AllStates {
			for _, role := range roles {
				job := createJob(t, store, from)
				_, err := engine.RequestTransition(ctx, job.ID, to, Actor{ID: "u", Role: role}, "")

				rule, edgeExists := table.Rule(from, to)
				switch {
				case !edgeExists:
					assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s (%s)", from, to, role)
				case !rule.permits(role):
					assert.ErrorIs(t, err, ErrForbidden, "%s -> %s (%s)", from, to, role)
				default:
					assert.NoError(t, err, "%s -> %s (%s)", from, to, role)
				}
			}
		}
	}
}

func TestRequestTransitionPublishesAfterCommit(t *testing.T) {
	engine, store, bus := newTestEngine(t)
	ctx := context.Background()
	job := createJob(t, store, StateDraft)

	received := make(chan event.Event, 1)
	bus.Subscribe("test", func(ctx context.Context, evt event.Event) error {
		received <- evt
		return nil
	}, event.TypeJobTransitioned)

	_, err := engine.RequestTransition(ctx, job.ID, StateScheduled, Actor{ID: "u1", Role: RoleSales}, "")
	require.NoError(t, err)

	select {
	case evt := <-received:
		payload := evt.Payload.(event.JobTransitioned)
		assert.Equal(t, job.ID, payload.JobID)
		assert.Equal(t, "Draft", payload.FromState)
		assert.Equal(t, "Scheduled", payload.ToState)
		assert.Equal(t, "u1", payload.ActorID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected job_transitioned event")
	}
}

func TestRequestTransitionFailurePublishesNothing(t *testing.T) {
	engine, store, bus := newTestEngine(t)
	ctx := context.Background()
	job := createJob(t, store, StateDraft)

	received := make(chan event.Event, 1)
	bus.Subscribe("test", func(ctx context.Context, evt event.Event) error {
		received <- evt
		return nil
	}, event.TypeJobTransitioned)

	_, err := engine.RequestTransition(ctx, job.ID, StatePaid, Actor{ID: "u1", Role: RoleAdmin}, "")
	require.Error(t, err)

	select {
	case <-received:
		t.Fatal("rejected transition must not publish an event")
	case <-time.After(100 * time.Millisecond):
	}
}

// Mutual exclusion: N concurrent requests against the same job with one legal
// edge available yield exactly one success.
func TestRequestTransitionConcurrentSameJob(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	job := createJob(t, store, StateInProgress)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.RequestTransition(ctx, job.ID, StateCompleted, Actor{ID: "u_crew", Role: RoleCrew}, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	// Losers see either an illegal edge (job already Completed) or lock
	// contention, never a second success.
	successes := 0
	for err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent transition may win")

	history, err := store.History(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRequestTransitionConcurrentDifferentJobs(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	const n = 8
	jobs := make([]*Job, n)
	for i := range jobs {
		jobs[i] = createJob(t, store, StateDraft)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, job := range jobs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := engine.RequestTransition(ctx, id, StateScheduled, Actor{ID: "u1", Role: RoleSales}, "")
			errs <- err
		}(job.ID)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err, "transitions on distinct jobs must not contend")
	}
}

func TestGetAllowedTransitions(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	job := createJob(t, store, StateScheduled)

	allowed, err := engine.GetAllowedTransitions(ctx, job.ID, Actor{ID: "u_crew", Role: RoleCrew})
	require.NoError(t, err)
	assert.Contains(t, allowed, StateInProgress)
	assert.NotContains(t, allowed, StateCancelled)

	allowed, err = engine.GetAllowedTransitions(ctx, job.ID, Actor{ID: "u_sales", Role: RoleSales})
	require.NoError(t, err)
	assert.Contains(t, allowed, StateCancelled)

	_, err = engine.GetAllowedTransitions(ctx, "job_missing", Actor{ID: "u1", Role: RoleAdmin})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestLockTableTimeout(t *testing.T) {
	lt := newLockTable()
	ctx := context.Background()

	release, err := lt.acquire(ctx, "job_1", time.Second)
	require.NoError(t, err)

	_, err = lt.acquire(ctx, "job_1", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	release()

	// Lock is free again after release.
	release2, err := lt.acquire(ctx, "job_1", time.Second)
	require.NoError(t, err)
	release2()
}

func TestLockTableIndependentKeys(t *testing.T) {
	lt := newLockTable()
	ctx := context.Background()

	release1, err := lt.acquire(ctx, "job_1", 50*time.Millisecond)
	require.NoError(t, err)
	defer release1()

	release2, err := lt.acquire(ctx, "job_2", 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}
