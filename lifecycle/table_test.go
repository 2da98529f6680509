package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableTerminalStatesHaveNoEdges(t *testing.T) {
	table := DefaultTable()
	for _, from := range AllStates {
		if !from.Terminal() {
			continue
		}
		for _, to := range AllStates {
			_, ok := table.Rule(from, to)
			assert.False(t, ok, "terminal state %s must have no edge to %s", from, to)
		}
	}
}

func TestDefaultTableUniversalCancellation(t *testing.T) {
	table := DefaultTable()
	for _, from := range AllStates {
		_, ok := table.Rule(from, StateCancelled)
		if from.Terminal() {
			assert.False(t, ok, "no cancellation edge out of terminal state %s", from)
		} else {
			assert.True(t, ok, "cancellation must be reachable from %s", from)
		}
	}
}

func TestDefaultTableScenarioEdges(t *testing.T) {
	table := DefaultTable()

	// Draft -> Scheduled is a sales edge
	rule, ok := table.Rule(StateDraft, StateScheduled)
	require.True(t, ok)
	assert.True(t, rule.permits(RoleSales))
	assert.False(t, rule.permits(RoleCrew))

	// Scheduled -> Completed skips required intermediate states
	_, ok = table.Rule(StateScheduled, StateCompleted)
	assert.False(t, ok)

	// Scheduled -> InProgress -> Completed are crew edges
	rule, ok = table.Rule(StateScheduled, StateInProgress)
	require.True(t, ok)
	assert.True(t, rule.permits(RoleCrew))
	rule, ok = table.Rule(StateInProgress, StateCompleted)
	require.True(t, ok)
	assert.True(t, rule.permits(RoleCrew))
}

func TestAdminPassesEveryGate(t *testing.T) {
	table := DefaultTable()
	for _, from := range AllStates {
		for _, to := range AllStates {
			if rule, ok := table.Rule(from, to); ok {
				assert.True(t, rule.permits(RoleAdmin), "admin blocked on %s -> %s", from, to)
				assert.True(t, rule.permits(RoleSystem), "system blocked on %s -> %s", from, to)
			}
		}
	}
}

func TestAllowedFromRespectsRole(t *testing.T) {
	table := DefaultTable()

	crew := table.AllowedFrom(StateScheduled, RoleCrew)
	assert.Contains(t, crew, StateInProgress)
	assert.Contains(t, crew, StateEnRoute)
	assert.NotContains(t, crew, StateCancelled, "crew cannot cancel")

	sales := table.AllowedFrom(StateScheduled, RoleSales)
	assert.Contains(t, sales, StateCancelled)
	assert.NotContains(t, sales, StateInProgress)

	assert.Empty(t, table.AllowedFrom(StatePaid, RoleAdmin))
	assert.Empty(t, table.AllowedFrom(StateCancelled, RoleAdmin))
}

func TestNewTransitionTableRejectsBadRules(t *testing.T) {
	_, err := NewTransitionTable(1, []TransitionRule{
		{From: StatePaid, To: StateDraft},
	})
	assert.Error(t, err, "edge out of terminal state must be rejected")

	_, err = NewTransitionTable(1, []TransitionRule{
		{From: State("Bogus"), To: StateDraft},
	})
	assert.Error(t, err, "unknown state must be rejected")
}

func TestParseState(t *testing.T) {
	s, err := ParseState("Scheduled")
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, s)

	_, err = ParseState("scheduled")
	assert.Error(t, err, "states are case sensitive")
}
