package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a subscription record.
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Governing reports whether a subscription in this status grants its plan's
// entitlements. past_due still does: the grace period is honored for users.
func (s Status) Governing() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCanceled
}

// Subscription is an organization's subscription to a plan. Records are
// never hard-deleted; a new subscribe after cancellation creates a new one.
type Subscription struct {
	ID                 uuid.UUID
	OrganizationID     uuid.UUID
	PlanID             string
	Status             Status
	BillingCredential  string // opaque provider token, never card data
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasCredential reports whether a billing credential is on file.
func (s Subscription) HasCredential() bool {
	return s.BillingCredential != ""
}

// DueForRenewal reports whether the renewal engine should charge s given the
// lookahead cutoff (usually now + 24h).
func (s Subscription) DueForRenewal(cutoff time.Time) bool {
	return (s.Status == StatusActive || s.Status == StatusPastDue) &&
		!s.CancelAtPeriodEnd &&
		!s.CurrentPeriodEnd.After(cutoff)
}

// PendingCancellation reports whether s was flagged to cancel and its period
// has elapsed.
func (s Subscription) PendingCancellation(now time.Time) bool {
	return s.Status == StatusActive &&
		s.CancelAtPeriodEnd &&
		!s.CurrentPeriodEnd.After(now)
}
