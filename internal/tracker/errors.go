package tracker

import (
	"errors"
	"fmt"

	"github.com/codefionn/tempo/internal/session"
)

var (
	// ErrNoActiveSession is returned by stop, pause and resume when nothing is open.
	ErrNoActiveSession = errors.New("no active session")
	// ErrProjectArchived is returned when a manual command targets an archived project.
	ErrProjectArchived = errors.New("project is archived")
	// ErrSuperseded marks a signal discarded because a higher-priority source
	// focused another project within the same processing slot.
	ErrSuperseded = errors.New("superseded by higher-priority signal")
	// ErrStoreUnavailable means the change was applied in memory but is not durable yet.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InvalidTransitionError is returned when an operation does not apply to the
// current state. State is never modified when it is returned.
type InvalidTransitionError struct {
	Op    string
	State session.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s: session is %s", e.Op, e.State)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// IsDropped reports whether err means an activity signal was discarded
// without changing any session.
func IsDropped(err error) bool {
	return errors.Is(err, ErrSuperseded) || errors.Is(err, ErrProjectArchived)
}
