package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
)

// Store defines subscription persistence.
type Store interface {
	// Get returns ErrSubscriptionNotFound if no subscription exists.
	Get(ctx context.Context, id uuid.UUID) (Subscription, error)

	// GetGoverning returns the organization's subscription whose status is
	// trialing, active or past_due, or ErrSubscriptionNotFound.
	GetGoverning(ctx context.Context, orgID uuid.UUID) (Subscription, error)

	// ListDueForRenewal returns active or past_due subscriptions without the
	// cancel flag whose period ends at or before cutoff.
	ListDueForRenewal(ctx context.Context, cutoff time.Time) ([]Subscription, error)

	// ListPendingCancellation returns active subscriptions flagged to cancel
	// whose period ended at or before now.
	ListPendingCancellation(ctx context.Context, now time.Time) ([]Subscription, error)

	// Create inserts a new subscription and, when initial is non-nil, its
	// checkout ledger record in the same transaction.
	Create(ctx context.Context, sub Subscription, initial *ledger.Record) error

	// Commit persists a transition atomically: the subscription row is
	// updated only if its status and period end still match t.From, and
	// t.Record is appended in the same transaction. On a precondition miss
	// it returns ErrConcurrentUpdate and writes nothing.
	//
	// The cancel flag is written only when t toggles it, so a concurrent
	// cancel request survives a renewal commit.
	Commit(ctx context.Context, t Transition) error
}
