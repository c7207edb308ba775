package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/pg"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

const subscriptionColumns = `id, organization_id, plan_id, status, billing_credential,
	current_period_start, current_period_end, cancel_at_period_end, canceled_at,
	created_at, updated_at`

func (s *Store) Get(ctx context.Context, id uuid.UUID) (subscription.Subscription, error) {
	return s.scanOneSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

func (s *Store) GetGoverning(ctx context.Context, orgID uuid.UUID) (subscription.Subscription, error) {
	return s.scanOneSubscription(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE organization_id = $1 AND status IN ('trialing', 'active', 'past_due')
		ORDER BY created_at DESC
		LIMIT 1`, orgID)
}

func (s *Store) ListDueForRenewal(ctx context.Context, cutoff time.Time) ([]subscription.Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status IN ('active', 'past_due')
		  AND cancel_at_period_end = FALSE
		  AND current_period_end <= $1
		ORDER BY current_period_end, id`, cutoff)
}

func (s *Store) ListPendingCancellation(ctx context.Context, now time.Time) ([]subscription.Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'active'
		  AND cancel_at_period_end = TRUE
		  AND current_period_end <= $1
		ORDER BY current_period_end, id`, now)
}

func (s *Store) Create(ctx context.Context, sub subscription.Subscription, initial *ledger.Record) error {
	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			sub.ID, sub.OrganizationID, sub.PlanID, sub.Status, sub.BillingCredential,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.CanceledAt,
			sub.CreatedAt, sub.UpdatedAt)
		if err != nil {
			if pg.IsDuplicateKeyError(err) {
				return subscription.ErrSubscriptionAlreadyExists
			}
			return fmt.Errorf("insert subscription: %w", err)
		}

		if initial != nil {
			return appendRecord(ctx, tx, *initial)
		}
		return nil
	})
}

func (s *Store) Commit(ctx context.Context, t subscription.Transition) error {
	// nil leaves the stored flag alone so a concurrent cancel request is kept.
	var cancelFlag *bool
	if t.CancelFlagChanged() {
		cancelFlag = &t.To.CancelAtPeriodEnd
	}
	// nil skips the flag check; charge outcomes must not overwrite a cancel
	// request filed after they were decided.
	var expectFlag *bool
	if t.GuardsCancelFlag() {
		expectFlag = &t.From.CancelAtPeriodEnd
	}

	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscriptions SET
				status = $2,
				current_period_start = $3,
				current_period_end = $4,
				cancel_at_period_end = COALESCE($5, cancel_at_period_end),
				canceled_at = $6,
				updated_at = $7
			WHERE id = $1 AND status = $8 AND current_period_end = $9
				AND ($10::boolean IS NULL OR cancel_at_period_end = $10)`,
			t.To.ID, t.To.Status, t.To.CurrentPeriodStart, t.To.CurrentPeriodEnd,
			cancelFlag, t.To.CanceledAt, t.To.UpdatedAt,
			t.From.Status, t.From.CurrentPeriodEnd, expectFlag)
		if err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, t.From.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check subscription: %w", err)
			}
			if !exists {
				return subscription.ErrSubscriptionNotFound
			}
			return subscription.ErrConcurrentUpdate
		}

		if t.Record != nil {
			return appendRecord(ctx, tx, *t.Record)
		}
		return nil
	})
}

func (s *Store) scanOneSubscription(ctx context.Context, query string, args ...any) (subscription.Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("query subscription: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return subscription.Subscription{}, fmt.Errorf("query subscription: %w", err)
		}
		return subscription.Subscription{}, subscription.ErrSubscriptionNotFound
	}
	return scanSubscription(rows)
}

func (s *Store) listSubscriptions(ctx context.Context, query string, args ...any) ([]subscription.Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(rows pgx.Rows) (subscription.Subscription, error) {
	var sub subscription.Subscription
	err := rows.Scan(
		&sub.ID, &sub.OrganizationID, &sub.PlanID, &sub.Status, &sub.BillingCredential,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CanceledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	utc(&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if sub.CanceledAt != nil {
		utc(sub.CanceledAt)
	}
	return sub, nil
}

func utc(ts ...*time.Time) {
	for _, t := range ts {
		*t = t.UTC()
	}
}
