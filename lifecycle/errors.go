package lifecycle

import "github.com/DKmica/TreeProAIv2-sub008/errors"

// Error taxonomy surfaced to callers of the engine. ConcurrentModification
// is the only one safe to retry.
var (
	ErrJobNotFound            = errors.New("job not found")
	ErrInvalidTransition      = errors.New("transition not permitted by table")
	ErrForbidden              = errors.New("actor role not permitted for transition")
	ErrConcurrentModification = errors.New("job is being modified concurrently")
)

func errInvalidTableState(s State) error {
	return errors.Newf("transition table references unknown state %q", s)
}

func errTerminalEdge(from, to State) error {
	return errors.Newf("transition table has edge out of terminal state: %s -> %s", from, to)
}
