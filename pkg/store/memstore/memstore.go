// Package memstore is an in-memory implementation of the billing stores. It
// backs tests and single-process demos and mirrors the transactional
// semantics of pgstore: conditional commits, append-only ledger and at most
// one governing subscription per organization.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/membership"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

// Store holds subscriptions, ledger records and memberships.
type Store struct {
	mu          sync.RWMutex
	subs        map[uuid.UUID]subscription.Subscription
	records     []ledger.Record
	memberships []membership.Membership
}

// New creates an empty Store.
func New() *Store {
	return &Store{subs: make(map[uuid.UUID]subscription.Subscription)}
}

var (
	_ subscription.Store = (*Store)(nil)
	_ ledger.Ledger      = (*Store)(nil)
	_ membership.Source  = (*Store)(nil)
)

// Put inserts or replaces a subscription without any checks. Test seeding only.
func (s *Store) Put(sub subscription.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
}

// AddMembership stores a membership.
func (s *Store) AddMembership(m membership.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, m)
}

// Records returns a copy of every ledger record in insertion order.
func (s *Store) Records() []ledger.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return subscription.Subscription{}, subscription.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Store) GetGoverning(_ context.Context, orgID uuid.UUID) (subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.governing(orgID)
	if !ok {
		return subscription.Subscription{}, subscription.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Store) governing(orgID uuid.UUID) (subscription.Subscription, bool) {
	var (
		found subscription.Subscription
		ok    bool
	)
	for _, sub := range s.subs {
		if sub.OrganizationID != orgID || !sub.Status.Governing() {
			continue
		}
		if !ok || sub.CreatedAt.After(found.CreatedAt) {
			found, ok = sub, true
		}
	}
	return found, ok
}

func (s *Store) ListDueForRenewal(_ context.Context, cutoff time.Time) ([]subscription.Subscription, error) {
	return s.filter(func(sub subscription.Subscription) bool { return sub.DueForRenewal(cutoff) }), nil
}

func (s *Store) ListPendingCancellation(_ context.Context, now time.Time) ([]subscription.Subscription, error) {
	return s.filter(func(sub subscription.Subscription) bool { return sub.PendingCancellation(now) }), nil
}

func (s *Store) filter(keep func(subscription.Subscription) bool) []subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []subscription.Subscription
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b subscription.Subscription) int {
		if c := a.CurrentPeriodEnd.Compare(b.CurrentPeriodEnd); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

func (s *Store) Create(_ context.Context, sub subscription.Subscription, initial *ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; exists {
		return subscription.ErrSubscriptionAlreadyExists
	}
	if sub.Status.Governing() {
		if _, ok := s.governing(sub.OrganizationID); ok {
			return subscription.ErrSubscriptionAlreadyExists
		}
	}
	if initial != nil && s.duplicate(*initial) {
		return ledger.ErrDuplicateRecord
	}

	s.subs[sub.ID] = sub
	if initial != nil {
		s.records = append(s.records, *initial)
	}
	return nil
}

func (s *Store) Commit(_ context.Context, t subscription.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.subs[t.From.ID]
	if !ok {
		return subscription.ErrSubscriptionNotFound
	}
	if cur.Status != t.From.Status || !cur.CurrentPeriodEnd.Equal(t.From.CurrentPeriodEnd) {
		return subscription.ErrConcurrentUpdate
	}
	if t.GuardsCancelFlag() && cur.CancelAtPeriodEnd != t.From.CancelAtPeriodEnd {
		return subscription.ErrConcurrentUpdate
	}
	if t.Record != nil && s.duplicate(*t.Record) {
		return ledger.ErrDuplicateRecord
	}

	next := t.To
	if !t.CancelFlagChanged() {
		next.CancelAtPeriodEnd = cur.CancelAtPeriodEnd
	}
	s.subs[next.ID] = next
	if t.Record != nil {
		s.records = append(s.records, *t.Record)
	}
	return nil
}

// duplicate reports whether a paid record with the same idempotency key is
// already stored. Failed attempts for one period share a key and are allowed.
func (s *Store) duplicate(r ledger.Record) bool {
	if r.Status != ledger.StatusPaid || r.IdempotencyKey == "" {
		return false
	}
	return slices.ContainsFunc(s.records, func(e ledger.Record) bool {
		return e.Status == ledger.StatusPaid && e.IdempotencyKey == r.IdempotencyKey
	})
}

func (s *Store) Append(_ context.Context, r ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.duplicate(r) {
		return ledger.ErrDuplicateRecord
	}
	s.records = append(s.records, r)
	return nil
}

func (s *Store) ListBySubscription(_ context.Context, subID uuid.UUID) ([]ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Record
	for _, r := range s.records {
		if r.SubscriptionID == subID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) LastPaid(ctx context.Context, subID uuid.UUID) (ledger.Record, error) {
	records, _ := s.ListBySubscription(ctx, subID)
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].IsPaid() {
			return records[i], nil
		}
	}
	return ledger.Record{}, ledger.ErrNoPaidRecord
}

func (s *Store) ListByUser(_ context.Context, userID uuid.UUID) ([]membership.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []membership.Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}
