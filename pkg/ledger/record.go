package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/plan"
)

// Status is the outcome of a charge attempt.
type Status string

const (
	StatusPaid   Status = "paid"
	StatusFailed Status = "failed"
)

// Failure reasons recorded by the renewal engine itself. Provider decline
// reasons are stored verbatim.
const (
	ReasonPlanNotFound      = "plan_not_found"
	ReasonMissingCredential = "missing_billing_credential"
	ReasonChargeTimeout     = "charge_timeout"
	ReasonProviderError     = "provider_error"
	ReasonInternalError     = "internal_error"
)

// Record is one append-only ledger row: a single charge attempt.
type Record struct {
	ID                uuid.UUID
	SubscriptionID    uuid.UUID
	Amount            plan.Money
	Status            Status
	ProviderReference string
	FailureReason     string // empty for paid records
	IdempotencyKey    string
	OccurredAt        time.Time
}

// Paid builds a successful charge record.
func Paid(subID uuid.UUID, amount plan.Money, providerRef, idempotencyKey string, at time.Time) Record {
	return Record{
		ID:                uuid.New(),
		SubscriptionID:    subID,
		Amount:            amount,
		Status:            StatusPaid,
		ProviderReference: providerRef,
		IdempotencyKey:    idempotencyKey,
		OccurredAt:        at.UTC(),
	}
}

// Failed builds a failed charge record. providerRef may be empty when no
// charge reached the provider.
func Failed(subID uuid.UUID, amount plan.Money, reason, providerRef, idempotencyKey string, at time.Time) Record {
	return Record{
		ID:                uuid.New(),
		SubscriptionID:    subID,
		Amount:            amount,
		Status:            StatusFailed,
		ProviderReference: providerRef,
		FailureReason:     reason,
		IdempotencyKey:    idempotencyKey,
		OccurredAt:        at.UTC(),
	}
}

// IsPaid reports whether the record is a successful charge.
func (r Record) IsPaid() bool {
	return r.Status == StatusPaid
}
