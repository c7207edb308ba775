package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Ledger is the append-only payment record store. Records are never updated
// or deleted.
type Ledger interface {
	Reader
	// Append stores a record on its own. Records that accompany a state
	// change are written by the subscription store inside the same
	// transaction instead.
	Append(ctx context.Context, r Record) error
}

// Reader is the read side of the ledger.
type Reader interface {
	// ListBySubscription returns records oldest first.
	ListBySubscription(ctx context.Context, subID uuid.UUID) ([]Record, error)
	// LastPaid returns the most recent paid record or ErrNoPaidRecord.
	LastPaid(ctx context.Context, subID uuid.UUID) (Record, error)
}

// DaysSinceLastPaid returns whole days elapsed since the most recent paid
// record. The boolean is false when the subscription was never paid.
func DaysSinceLastPaid(ctx context.Context, r Reader, subID uuid.UUID, now time.Time) (int, bool, error) {
	rec, err := r.LastPaid(ctx, subID)
	if errors.Is(err, ErrNoPaidRecord) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	elapsed := now.Sub(rec.OccurredAt)
	if elapsed < 0 {
		return 0, true, nil
	}
	return int(elapsed / (24 * time.Hour)), true, nil
}

// Summary aggregates a subscription's ledger for audit views.
type Summary struct {
	Attempts   int
	Paid       int
	Failed     int
	PaidAmount int64
	LastPaidAt *time.Time
	LastFailed *Record
}

// Summarize folds records (any order) into a Summary.
func Summarize(records []Record) Summary {
	var s Summary
	for i := range records {
		r := records[i]
		s.Attempts++
		switch r.Status {
		case StatusPaid:
			s.Paid++
			s.PaidAmount += r.Amount.Amount
			if s.LastPaidAt == nil || r.OccurredAt.After(*s.LastPaidAt) {
				at := r.OccurredAt
				s.LastPaidAt = &at
			}
		case StatusFailed:
			s.Failed++
			if s.LastFailed == nil || r.OccurredAt.After(s.LastFailed.OccurredAt) {
				s.LastFailed = &r
			}
		}
	}
	return s
}
