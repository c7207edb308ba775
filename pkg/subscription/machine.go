package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/statemachine"
)

// DefaultGraceDays is how long a failing subscription stays past_due before
// a failed charge cancels it.
const DefaultGraceDays = 7

// Event drives a subscription transition.
type Event string

const (
	EventChargeSucceeded Event = "charge_succeeded"
	EventChargeFailed    Event = "charge_failed"
	EventCancelRequested Event = "cancel_requested"
	EventResumeRequested Event = "resume_requested"
	EventPeriodEnded     Event = "period_ended"
)

// EventData carries the charge outcome for charge events. It is ignored by
// the other events.
type EventData struct {
	Amount            plan.Money
	ProviderReference string
	FailureReason     string
	IdempotencyKey    string
}

// Transition is the result of applying an event: the subscription before and
// after, plus the ledger record that must be written with it. Nothing is
// persisted until the caller commits it.
type Transition struct {
	Event  Event
	From   Subscription
	To     Subscription
	Record *ledger.Record
}

// Changed reports whether committing t would modify anything.
func (t Transition) Changed() bool {
	return t.Record != nil ||
		t.From.Status != t.To.Status ||
		!t.From.CurrentPeriodEnd.Equal(t.To.CurrentPeriodEnd) ||
		t.From.CancelAtPeriodEnd != t.To.CancelAtPeriodEnd
}

// CancelFlagChanged reports whether t toggles cancel_at_period_end.
func (t Transition) CancelFlagChanged() bool {
	return t.From.CancelAtPeriodEnd != t.To.CancelAtPeriodEnd
}

// GuardsCancelFlag reports whether Commit must also find the stored
// cancel_at_period_end equal to From's. Charge outcomes were decided for an
// unflagged subscription, so a cancel request filed meanwhile wins.
func (t Transition) GuardsCancelFlag() bool {
	return t.Event == EventChargeSucceeded || t.Event == EventChargeFailed
}

type input struct {
	sub       *Subscription
	now       time.Time
	data      EventData
	event     Event
	record    *ledger.Record
	graceDays int
}

type (
	guard  = statemachine.Guard[Status, Event, *input]
	action = statemachine.Action[Status, Event, *input]
	edge   = statemachine.Transition[Status, Event, *input]
)

// Machine applies events to subscriptions. It holds no per-record state and
// is safe for concurrent use.
type Machine struct {
	table     *statemachine.Table[Status, Event, *input]
	graceDays int
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithGraceDays overrides DefaultGraceDays.
func WithGraceDays(days int) MachineOption {
	return func(m *Machine) {
		if days > 0 {
			m.graceDays = days
		}
	}
}

// NewMachine builds the subscription transition table.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{graceDays: DefaultGraceDays}
	for _, opt := range opts {
		opt(m)
	}

	var edges []edge
	for _, from := range []Status{StatusTrialing, StatusActive, StatusPastDue} {
		edges = append(edges, edge{
			From: from, Event: EventChargeSucceeded, To: StatusActive,
			Actions: []action{advancePeriod, recordPaid},
		})
	}
	for _, from := range []Status{StatusActive, StatusPastDue} {
		edges = append(edges,
			edge{
				From: from, Event: EventChargeFailed, To: StatusCanceled,
				Guards:  []guard{graceExceeded},
				Actions: []action{markCanceled, recordFailed},
			},
			edge{
				From: from, Event: EventChargeFailed, To: StatusPastDue,
				Actions: []action{recordFailed},
			},
		)
	}
	edges = append(edges,
		edge{
			From: StatusActive, Event: EventCancelRequested, To: StatusActive,
			Actions: []action{setCancelFlag(true)},
		},
		edge{
			From: StatusActive, Event: EventResumeRequested, To: StatusActive,
			Guards:  []guard{cancelFlagSet, periodNotEnded},
			Actions: []action{setCancelFlag(false)},
		},
		edge{
			From: StatusActive, Event: EventPeriodEnded, To: StatusCanceled,
			Guards:  []guard{cancelFlagSet, periodEnded},
			Actions: []action{markCanceled},
		},
	)

	m.table = statemachine.MustNew(edges...)
	return m
}

// Apply computes the transition for ev. It is pure: sub is not modified and
// nothing is written.
func (m *Machine) Apply(ctx context.Context, sub Subscription, ev Event, now time.Time, data EventData) (Transition, error) {
	next := sub
	in := &input{sub: &next, now: now.UTC(), data: data, event: ev, graceDays: m.graceDays}

	to, err := m.table.Fire(ctx, sub.Status, ev, in)
	if err != nil {
		return Transition{}, errors.Join(ErrInvalidTransition, err)
	}

	next.Status = to
	next.UpdatedAt = in.now

	return Transition{Event: ev, From: sub, To: next, Record: in.record}, nil
}

// Can reports whether ev is currently allowed for sub.
func (m *Machine) Can(ctx context.Context, sub Subscription, ev Event, now time.Time) bool {
	next := sub
	return m.table.CanFire(ctx, sub.Status, ev, &input{sub: &next, now: now.UTC(), event: ev, graceDays: m.graceDays})
}

func graceExceeded(_ context.Context, _ Status, _ Event, in *input) bool {
	return DaysSinceEnd(in.sub.CurrentPeriodEnd, in.now) >= in.graceDays
}

func cancelFlagSet(_ context.Context, _ Status, _ Event, in *input) bool {
	return in.sub.CancelAtPeriodEnd
}

func periodEnded(_ context.Context, _ Status, _ Event, in *input) bool {
	return !in.sub.CurrentPeriodEnd.After(in.now)
}

func periodNotEnded(ctx context.Context, from Status, ev Event, in *input) bool {
	return !periodEnded(ctx, from, ev, in)
}

// advancePeriod moves the period forward from the previous end, never from
// now, so late renewals do not drift the billing anchor.
func advancePeriod(_ context.Context, _, _ Status, _ Event, in *input) error {
	prevEnd := in.sub.CurrentPeriodEnd
	in.sub.CurrentPeriodStart = prevEnd
	in.sub.CurrentPeriodEnd = AddMonth(prevEnd)
	return nil
}

func markCanceled(_ context.Context, _, _ Status, _ Event, in *input) error {
	at := in.now
	in.sub.CanceledAt = &at
	return nil
}

func recordPaid(_ context.Context, _, _ Status, _ Event, in *input) error {
	rec := ledger.Paid(in.sub.ID, in.data.Amount, in.data.ProviderReference, in.data.IdempotencyKey, in.now)
	in.record = &rec
	return nil
}

func recordFailed(_ context.Context, _, _ Status, _ Event, in *input) error {
	reason := in.data.FailureReason
	if reason == "" {
		reason = ledger.ReasonProviderError
	}
	rec := ledger.Failed(in.sub.ID, in.data.Amount, reason, in.data.ProviderReference, in.data.IdempotencyKey, in.now)
	in.record = &rec
	return nil
}

func setCancelFlag(v bool) action {
	return func(_ context.Context, _, _ Status, _ Event, in *input) error {
		in.sub.CancelAtPeriodEnd = v
		return nil
	}
}
