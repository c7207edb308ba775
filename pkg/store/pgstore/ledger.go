package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/pg"
)

const recordColumns = `id, subscription_id, amount, currency, status, provider_reference,
	failure_reason, idempotency_key, occurred_at`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func appendRecord(ctx context.Context, db execer, r ledger.Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	var reason *string
	if r.FailureReason != "" {
		reason = &r.FailureReason
	}

	_, err := db.Exec(ctx, `
		INSERT INTO payment_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.SubscriptionID, r.Amount.Amount, r.Amount.Currency, r.Status,
		r.ProviderReference, reason, r.IdempotencyKey, r.OccurredAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ledger.ErrDuplicateRecord
		}
		return fmt.Errorf("%w: %w", ledger.ErrFailedToAppend, err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, r ledger.Record) error {
	return appendRecord(ctx, s.db, r)
}

func (s *Store) ListBySubscription(ctx context.Context, subID uuid.UUID) ([]ledger.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+` FROM payment_records
		WHERE subscription_id = $1
		ORDER BY occurred_at, id`, subID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrFailedToListRecords, err)
	}
	defer rows.Close()

	var records []ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) LastPaid(ctx context.Context, subID uuid.UUID) (ledger.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+recordColumns+` FROM payment_records
		WHERE subscription_id = $1 AND status = 'paid'
		ORDER BY occurred_at DESC
		LIMIT 1`, subID)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%w: %w", ledger.ErrFailedToListRecords, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return ledger.Record{}, fmt.Errorf("%w: %w", ledger.ErrFailedToListRecords, err)
		}
		return ledger.Record{}, ledger.ErrNoPaidRecord
	}
	return scanRecord(rows)
}

func scanRecord(rows pgx.Rows) (ledger.Record, error) {
	var (
		r      ledger.Record
		reason *string
	)
	err := rows.Scan(
		&r.ID, &r.SubscriptionID, &r.Amount.Amount, &r.Amount.Currency, &r.Status,
		&r.ProviderReference, &reason, &r.IdempotencyKey, &r.OccurredAt,
	)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("scan payment record: %w", err)
	}
	if reason != nil {
		r.FailureReason = *reason
	}
	r.OccurredAt = r.OccurredAt.UTC()
	return r, nil
}
