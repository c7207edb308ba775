// Package statemachine implements a small, generic, stateless finite state
// machine: a Table of guarded transitions keyed by (from state, event).
//
// Unlike a classic in-memory machine, a Table does not own a current state.
// The caller passes the state it loaded from storage, and Fire returns the
// state to persist. This fits records such as subscriptions, where thousands
// of independent entities share one set of rules.
//
//	type state string
//	type event string
//
//	table := statemachine.MustNew(
//	    statemachine.Transition[state, event, *input]{
//	        From: "active", Event: "charge_failed", To: "canceled",
//	        Guards: []statemachine.Guard[state, event, *input]{graceExceeded},
//	    },
//	    statemachine.Transition[state, event, *input]{
//	        From: "active", Event: "charge_failed", To: "past_due",
//	    },
//	)
//
//	next, err := table.Fire(ctx, "active", "charge_failed", in)
//
// Transitions registered for the same (from, event) pair are evaluated in
// order; put the most specific guard first.
package statemachine
