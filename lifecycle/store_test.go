package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	treeprotest "github.com/DKmica/TreeProAIv2-sub008/internal/testing"
)

func TestJobStoreCreateAndGet(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	store := NewJobStore(conn)
	ctx := context.Background()

	start := time.Now().Add(24 * time.Hour)
	job := &Job{
		ClientID:       "client_1",
		ScheduledStart: &start,
		CrewIDs:        []string{"crew_a", "crew_b"},
		CostPayload:    json.RawMessage(`{"amount": 1200.50}`),
	}
	require.NoError(t, store.Create(ctx, job))
	require.NotEmpty(t, job.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDraft, got.State, "new jobs start in Draft")
	assert.Equal(t, "client_1", got.ClientID)
	assert.Equal(t, []string{"crew_a", "crew_b"}, got.CrewIDs)
	assert.JSONEq(t, `{"amount": 1200.50}`, string(got.CostPayload))
	require.NotNil(t, got.ScheduledStart)
	assert.WithinDuration(t, start, *got.ScheduledStart, time.Second)
}

func TestJobStoreGetMissing(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	store := NewJobStore(conn)

	_, err := store.Get(context.Background(), "job_missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobStoreCreateRequiresClient(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	store := NewJobStore(conn)

	err := store.Create(context.Background(), &Job{})
	assert.Error(t, err)
}

func TestJobStoreListByState(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	store := NewJobStore(conn)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Job{ClientID: "c1"}))
	require.NoError(t, store.Create(ctx, &Job{ClientID: "c1", State: StateScheduled}))
	require.NoError(t, store.Create(ctx, &Job{ClientID: "c2", State: StateScheduled}))

	scheduled := StateScheduled
	jobs, err := store.List(ctx, &scheduled)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	all, err := store.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestApplyTransitionWritesStateAndAudit(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	store := NewJobStore(conn)
	ctx := context.Background()

	job := &Job{ClientID: "c1"}
	require.NoError(t, store.Create(ctx, job))

	tr := &StateTransition{
		JobID:        job.ID,
		FromState:    StateDraft,
		ToState:      StateScheduled,
		ActorID:      "u1",
		ActorRole:    RoleSales,
		Reason:       "client confirmed",
		TableVersion: 1,
	}
	require.NoError(t, store.ApplyTransition(ctx, tr))
	require.NotEmpty(t, tr.ID)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, got.State)

	history, err := store.History(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StateDraft, history[0].FromState)
	assert.Equal(t, StateScheduled, history[0].ToState)
	assert.Equal(t, "client confirmed", history[0].Reason)
	assert.Equal(t, 1, history[0].TableVersion)
}

func TestApplyTransitionStaleFromStateConflicts(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	store := NewJobStore(conn)
	ctx := context.Background()

	job := &Job{ClientID: "c1", State: StateScheduled}
	require.NoError(t, store.Create(ctx, job))

	// Writer believes the job is still in Draft.
	err := store.ApplyTransition(ctx, &StateTransition{
		JobID:     job.ID,
		FromState: StateDraft,
		ToState:   StateScheduled,
		ActorID:   "u1",
		ActorRole: RoleSales,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Neither the state nor the history moved.
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, got.State)
	history, err := store.History(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCountOtherNonCancelled(t *testing.T) {
	conn := treeprotest.CreateTestDB(t)
	store := NewJobStore(conn)
	ctx := context.Background()

	a := &Job{ClientID: "c1", State: StateCancelled}
	b := &Job{ClientID: "c1", State: StateScheduled}
	c := &Job{ClientID: "c1", State: StateCompleted}
	other := &Job{ClientID: "c2", State: StateScheduled}
	for _, j := range []*Job{a, b, c, other} {
		require.NoError(t, store.Create(ctx, j))
	}

	// Excluding b: only c counts (a is cancelled, other belongs elsewhere).
	count, err := store.CountOtherNonCancelled(ctx, "c1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.CountOtherNonCancelled(ctx, "c2", other.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
