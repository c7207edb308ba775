// Package subscription implements the subscription lifecycle: statuses,
// the transition table, period arithmetic and the user-facing operations
// (subscribe, cancel at period end, resume).
//
// # State machine
//
// Machine is built on pkg/statemachine. Apply is pure; it returns a
// Transition (old value, new value, optional ledger record) that a Store
// commits atomically:
//
//	trialing|active|past_due --charge_succeeded--> active    period += 1 month from old end, paid record
//	active|past_due          --charge_failed-----> canceled  when days since period end >= 7, failed record
//	active|past_due          --charge_failed-----> past_due  otherwise, failed record
//	active                   --cancel_requested--> active    cancel_at_period_end = true
//	active                   --resume_requested--> active    flag cleared while the period runs
//	active                   --period_ended------> canceled  flag set and period over, no charge
//
// canceled is terminal; a new subscribe creates a new record.
//
// # Atomicity
//
// Store.Commit is a conditional update keyed on the status and period end
// the transition was computed from. When another writer got there first it
// returns ErrConcurrentUpdate and writes nothing, so two overlapping renewal
// passes can never both advance a period.
package subscription
