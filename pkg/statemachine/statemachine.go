package statemachine

import (
	"context"
	"fmt"
	"slices"
)

// Guard decides whether a transition may be taken for the given input.
type Guard[S, E ~string, D any] func(ctx context.Context, from S, event E, data D) bool

// Action runs the side effects of a transition. Returning an error aborts the
// transition and Fire reports the error.
type Action[S, E ~string, D any] func(ctx context.Context, from, to S, event E, data D) error

// Transition is one edge of the machine.
type Transition[S, E ~string, D any] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E, D]  // all must pass
	Actions []Action[S, E, D] // executed in order
}

// Table is a stateless finite state machine: it holds the transitions but not
// a current state, so one Table can drive any number of records whose state
// is persisted elsewhere. A Table is safe for concurrent use once built.
//
// Several transitions may share the same from/event pair; the first one (in
// registration order) whose guards all pass wins.
type Table[S, E ~string, D any] struct {
	transitions map[S]map[E][]Transition[S, E, D]
}

// New builds a Table from the given transitions.
func New[S, E ~string, D any](transitions ...Transition[S, E, D]) (*Table[S, E, D], error) {
	t := &Table[S, E, D]{transitions: make(map[S]map[E][]Transition[S, E, D])}
	for i, tr := range transitions {
		if err := t.add(tr); err != nil {
			return nil, fmt.Errorf("transition[%d] %s->%s on %s: %w", i, tr.From, tr.To, tr.Event, err)
		}
	}
	return t, nil
}

// MustNew is like New but panics on an invalid transition list.
func MustNew[S, E ~string, D any](transitions ...Transition[S, E, D]) *Table[S, E, D] {
	t, err := New(transitions...)
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return t
}

func (t *Table[S, E, D]) add(tr Transition[S, E, D]) error {
	if tr.From == "" || tr.To == "" || tr.Event == "" {
		return ErrInvalidTransition
	}
	if _, ok := t.transitions[tr.From]; !ok {
		t.transitions[tr.From] = make(map[E][]Transition[S, E, D])
	}
	t.transitions[tr.From][tr.Event] = append(t.transitions[tr.From][tr.Event], tr)
	return nil
}

// Fire resolves the transition for (current, event), runs its actions and
// returns the target state. On any error the returned state is current.
func (t *Table[S, E, D]) Fire(ctx context.Context, current S, event E, data D) (S, error) {
	if event == "" {
		return current, ErrInvalidEvent
	}

	tr, err := t.resolve(ctx, current, event, data)
	if err != nil {
		return current, err
	}

	for _, action := range tr.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, current, tr.To, event, data); err != nil {
			return current, fmt.Errorf("action failed: %w", err)
		}
	}

	return tr.To, nil
}

// CanFire reports whether Fire would find a transition. Actions are not run.
func (t *Table[S, E, D]) CanFire(ctx context.Context, current S, event E, data D) bool {
	_, err := t.resolve(ctx, current, event, data)
	return err == nil
}

// Events lists the events that have at least one transition out of from,
// in a stable order.
func (t *Table[S, E, D]) Events(from S) []E {
	events := make([]E, 0, len(t.transitions[from]))
	for e := range t.transitions[from] {
		events = append(events, e)
	}
	slices.Sort(events)
	return events
}

func (t *Table[S, E, D]) resolve(ctx context.Context, current S, event E, data D) (*Transition[S, E, D], error) {
	candidates := t.transitions[current][event]
	if len(candidates) == 0 {
		return nil, &ErrNoTransition{State: string(current), Event: string(event)}
	}

	for i := range candidates {
		if guardsPass(ctx, candidates[i].Guards, current, event, data) {
			return &candidates[i], nil
		}
	}

	return nil, &ErrNoTransition{State: string(current), Event: string(event), Rejected: true}
}

func guardsPass[S, E ~string, D any](ctx context.Context, guards []Guard[S, E, D], from S, event E, data D) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
