package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("statemachine: transition needs from, to and event")
	ErrInvalidEvent      = errors.New("statemachine: empty event")
)

// ErrNoTransition is returned by Fire when current has no way out for the
// event. Rejected is true when candidates exist but every guard set failed.
type ErrNoTransition struct {
	State    string
	Event    string
	Rejected bool
}

func (e *ErrNoTransition) Error() string {
	if e.Rejected {
		return fmt.Sprintf("statemachine: %s on %q rejected by guards", e.Event, e.State)
	}
	return fmt.Sprintf("statemachine: no %s transition from %q", e.Event, e.State)
}

// AsNoTransition unwraps err into an *ErrNoTransition.
func AsNoTransition(err error) (*ErrNoTransition, bool) {
	var e *ErrNoTransition
	ok := errors.As(err, &e)
	return e, ok
}
