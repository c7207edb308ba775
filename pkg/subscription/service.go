package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/logger"
	"github.com/dmitrymomot/speakbill/pkg/plan"
)

// PlanReader looks plans up by ID. Satisfied by *plan.Catalog.
type PlanReader interface {
	Get(ctx context.Context, planID string) (plan.Plan, error)
}

// SubscribeRequest is the outcome of a completed external checkout.
type SubscribeRequest struct {
	OrganizationID    uuid.UUID  `validate:"required"`
	PlanID            string     `validate:"required"`
	BillingCredential string     `validate:"required"`
	ProviderReference string     `validate:"required"`
	Amount            plan.Money `validate:"required"`
	PaidAt            time.Time  // defaults to now
}

// maxCommitAttempts bounds re-reads when a user action races a renewal commit.
const maxCommitAttempts = 3

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service handles user-initiated subscription operations. Renewals are
// driven by the renewal engine, not by Service.
type Service struct {
	store   Store
	plans   PlanReader
	machine *Machine
	now     func() time.Time
	logger  *slog.Logger
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMachine overrides the default state machine.
func WithMachine(m *Machine) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.machine = m
		}
	}
}

// NewService creates a Service.
// Panics if store or plans is nil to fail fast during initialization.
func NewService(store Store, plans PlanReader, opts ...ServiceOption) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if plans == nil {
		panic("subscription: PlanReader is required")
	}

	s := &Service{
		store:   store,
		plans:   plans,
		machine: NewMachine(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a subscription by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Subscription, error) {
	return s.store.Get(ctx, id)
}

// Subscribe creates an active subscription from a completed checkout and
// records the checkout payment. The first period starts at PaidAt.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error) {
	if err := validate.Struct(req); err != nil {
		return Subscription{}, errors.Join(ErrInvalidSubscribeRequest, err)
	}

	p, err := s.plans.Get(ctx, req.PlanID)
	if err != nil {
		return Subscription{}, errors.Join(ErrPlanNotFound, err)
	}
	if p.IsFree() {
		return Subscription{}, ErrFreePlanNotSubscribable
	}

	if existing, err := s.store.GetGoverning(ctx, req.OrganizationID); err == nil {
		s.logger.InfoContext(ctx, "subscribe rejected: governing subscription exists",
			logger.OrganizationID(req.OrganizationID),
			logger.SubscriptionID(existing.ID))
		return existing, ErrSubscriptionAlreadyExists
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return Subscription{}, err
	}

	now := s.now().UTC()
	start := req.PaidAt.UTC()
	if req.PaidAt.IsZero() {
		start = now
	}

	sub := Subscription{
		ID:                 uuid.New(),
		OrganizationID:     req.OrganizationID,
		PlanID:             p.ID,
		Status:             StatusActive,
		BillingCredential:  req.BillingCredential,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   AddMonth(start),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	rec := ledger.Paid(sub.ID, req.Amount, req.ProviderReference, "checkout:"+req.ProviderReference, start)

	if err := s.store.Create(ctx, sub, &rec); err != nil {
		return Subscription{}, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.logger.InfoContext(ctx, "subscription created",
		logger.OrganizationID(sub.OrganizationID),
		logger.SubscriptionID(sub.ID),
		logger.PlanKey(p.Key))

	return sub, nil
}

// RequestCancel flags the subscription to cancel at period end. It keeps
// working until then. Requesting twice is harmless.
func (s *Service) RequestCancel(ctx context.Context, id uuid.UUID) (Subscription, error) {
	return s.applyUserEvent(ctx, id, EventCancelRequested)
}

// Resume clears a pending cancellation before the period ends.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (Subscription, error) {
	return s.applyUserEvent(ctx, id, EventResumeRequested)
}

func (s *Service) applyUserEvent(ctx context.Context, id uuid.UUID, ev Event) (Subscription, error) {
	for attempt := 1; ; attempt++ {
		sub, err := s.store.Get(ctx, id)
		if err != nil {
			return Subscription{}, err
		}

		t, err := s.machine.Apply(ctx, sub, ev, s.now(), EventData{})
		if err != nil {
			return sub, err
		}
		if !t.Changed() {
			return t.To, nil
		}

		err = s.store.Commit(ctx, t)
		if err == nil {
			s.logger.InfoContext(ctx, "subscription updated",
				logger.SubscriptionID(id),
				logger.Event(string(ev)),
				slog.Bool("cancel_at_period_end", t.To.CancelAtPeriodEnd))
			return t.To, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) || attempt >= maxCommitAttempts {
			return Subscription{}, err
		}
	}
}
