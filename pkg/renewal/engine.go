package renewal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/logger"
	"github.com/dmitrymomot/speakbill/pkg/payment"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

// PlanReader looks plans up by ID. Satisfied by *plan.Catalog.
type PlanReader interface {
	Get(ctx context.Context, planID string) (plan.Plan, error)
}

// Engine runs renewal passes: it charges every due subscription, drives the
// state machine with the outcome and cancels subscriptions whose scheduled
// cancellation has come due.
type Engine struct {
	store    subscription.Store
	ledger   ledger.Ledger
	plans    PlanReader
	charger  payment.Charger
	machine  *subscription.Machine
	locker   Locker
	observer Observer
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLocker sets the pass lock. Defaults to a LocalLocker.
func WithLocker(l Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithObserver sets the telemetry sink.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine. Missing dependencies and invalid config are
// configuration errors and are returned here, before any pass runs.
func NewEngine(store subscription.Store, l ledger.Ledger, plans PlanReader, charger payment.Charger, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    store,
		ledger:   l,
		plans:    plans,
		charger:  charger,
		locker:   NewLocalLocker(),
		observer: noopObserver{},
		cfg:      DefaultConfig(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	var missing []error
	if store == nil {
		missing = append(missing, errors.New("subscription store"))
	}
	if l == nil {
		missing = append(missing, errors.New("ledger"))
	}
	if plans == nil {
		missing = append(missing, errors.New("plan reader"))
	}
	if charger == nil {
		missing = append(missing, errors.New("payment charger"))
	}
	if len(missing) > 0 {
		return nil, errors.Join(append([]error{ErrMissingDependency}, missing...)...)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	e.charger = payment.WithTimeout(charger, e.cfg.ChargeTimeout)
	e.machine = subscription.NewMachine(subscription.WithGraceDays(e.cfg.GraceDays))
	e.logger = e.logger.With(logger.Component("renewal"))

	return e, nil
}

// Run executes one renewal pass. Per-subscription failures are counted, never
// returned; the only errors are a busy or broken pass lock and a failed
// candidate query.
func (e *Engine) Run(ctx context.Context) (summary Summary, err error) {
	start := e.now()
	defer func() {
		summary.Duration = e.now().Sub(start)
		e.observer.ObservePass(summary, err)
	}()

	release, ok, err := e.locker.TryLock(ctx, e.cfg.LockKey, e.cfg.LockTTL)
	if err != nil {
		return Summary{}, errors.Join(ErrLockUnavailable, err)
	}
	if !ok {
		e.logger.WarnContext(ctx, "renewal pass skipped: another pass holds the lock")
		return Summary{}, ErrPassInProgress
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			e.logger.WarnContext(ctx, "failed to release renewal lock", logger.Error(rerr))
		}
	}()

	now := e.now().UTC()
	var c counters

	candidates, err := e.store.ListDueForRenewal(ctx, now.Add(e.cfg.Lookahead))
	if err != nil {
		e.logger.ErrorContext(ctx, "renewal candidate query failed", logger.Error(err))
		return Summary{}, errors.Join(ErrCandidateQuery, err)
	}

	e.logger.InfoContext(ctx, "renewal pass started",
		slog.Int("candidates", len(candidates)),
		slog.Time("now", now))

	e.forEach(ctx, candidates, &c, func(ctx context.Context, sub subscription.Subscription) Outcome {
		return e.renew(ctx, sub, now)
	})

	expired, err := e.store.ListPendingCancellation(ctx, now)
	if err != nil {
		// Not fatal: the next pass picks these up.
		e.logger.ErrorContext(ctx, "pending cancellation query failed", logger.Error(err))
	} else {
		e.forEach(ctx, expired, &c, func(ctx context.Context, sub subscription.Subscription) Outcome {
			return e.cancelExpired(ctx, sub, now)
		})
	}

	summary = c.summary()
	e.logger.InfoContext(ctx, "renewal pass finished",
		slog.Int("renewed", summary.Renewed),
		slog.Int("failed", summary.Failed),
		slog.Int("canceled", summary.Canceled),
		slog.Int("skipped", summary.Skipped),
		logger.Duration(e.now().Sub(start)))

	return summary, nil
}

// forEach processes subs on a bounded pool. Each item is isolated: a panic or
// error in one never stops the others.
func (e *Engine) forEach(ctx context.Context, subs []subscription.Subscription, c *counters, fn func(context.Context, subscription.Subscription) Outcome) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)

	for _, sub := range subs {
		if ctx.Err() != nil {
			c.add(OutcomeSkipped)
			e.observer.ObserveOutcome(OutcomeSkipped)
			continue
		}
		g.Go(func() error {
			o := e.guard(ctx, sub, fn)
			c.add(o)
			e.observer.ObserveOutcome(o)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) guard(ctx context.Context, sub subscription.Subscription, fn func(context.Context, subscription.Subscription) Outcome) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "renewal item panicked",
				logger.SubscriptionID(sub.ID),
				slog.Any("panic", r))
			o = OutcomeFailed
		}
	}()
	return fn(ctx, sub)
}

func (e *Engine) renew(ctx context.Context, candidate subscription.Subscription, now time.Time) Outcome {
	log := e.logger.With(
		logger.SubscriptionID(candidate.ID),
		logger.OrganizationID(candidate.OrganizationID),
		logger.Status(string(candidate.Status)))

	// The candidate list may be minutes old by now. A cancel request or
	// another writer since then takes the item out of this pass.
	sub, err := e.store.Get(ctx, candidate.ID)
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return OutcomeSkipped
		}
		log.ErrorContext(ctx, "renewal re-read failed", logger.Error(err))
		return OutcomeFailed
	}
	if changedSince(candidate, sub) || !sub.DueForRenewal(now.Add(e.cfg.Lookahead)) {
		log.InfoContext(ctx, "renewal skipped: subscription changed since candidate query",
			slog.String("current_status", string(sub.Status)),
			slog.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd))
		return OutcomeSkipped
	}

	p, err := e.plans.Get(ctx, sub.PlanID)
	if err != nil {
		return e.recordDataError(ctx, log, sub, plan.Money{}, ledger.ReasonPlanNotFound, now, err)
	}
	if !sub.HasCredential() {
		return e.recordDataError(ctx, log, sub, p.PriceMonthly, ledger.ReasonMissingCredential, now, nil)
	}

	keys := payment.RenewalKeys(sub.ID, sub.CurrentPeriodEnd, now)
	data := subscription.EventData{Amount: p.PriceMonthly, IdempotencyKey: keys.IdempotencyKey}
	event := subscription.EventChargeSucceeded

	if p.IsFree() {
		data.ProviderReference = "free"
	} else {
		res, err := e.charger.Charge(ctx, payment.ChargeRequest{
			Credential:     sub.BillingCredential,
			Amount:         p.PriceMonthly,
			OrderReference: keys.OrderReference,
			IdempotencyKey: keys.IdempotencyKey,
			Metadata: map[string]string{
				"subscription_id": sub.ID.String(),
				"plan_id":         p.ID,
			},
		})
		switch {
		case err == nil:
			data.ProviderReference = res.ProviderReference
		case errors.Is(err, payment.ErrUnsupportedProvider):
			return e.recordDataError(ctx, log, sub, p.PriceMonthly, payment.ReasonUnsupportedProvider, now, err)
		case ctx.Err() != nil:
			// Shutdown mid-charge: outcome unknown. The next pass retries
			// with the same idempotency key.
			log.WarnContext(ctx, "renewal interrupted during charge", logger.Error(err))
			return OutcomeSkipped
		default:
			event = subscription.EventChargeFailed
			data.FailureReason = payment.FailureReason(err)
			if d, ok := payment.AsDecline(err); ok {
				data.ProviderReference = d.ProviderReference
			}
			log.InfoContext(ctx, "renewal charge failed",
				slog.String("reason", data.FailureReason),
				logger.Error(err))
		}
	}

	t, err := e.machine.Apply(ctx, sub, event, now, data)
	if err != nil {
		log.ErrorContext(ctx, "renewal transition rejected", logger.Event(string(event)), logger.Error(err))
		return OutcomeFailed
	}

	if err := e.store.Commit(ctx, t); err != nil {
		if errors.Is(err, subscription.ErrConcurrentUpdate) {
			if event == subscription.EventChargeSucceeded && !p.IsFree() {
				e.keepPayment(ctx, log, t)
			}
			log.InfoContext(ctx, "renewal already committed by another writer")
			return OutcomeSkipped
		}
		log.ErrorContext(ctx, "renewal commit failed", logger.Error(err))
		return OutcomeFailed
	}

	log.InfoContext(ctx, "renewal committed",
		logger.Transition(string(t.From.Status), string(t.To.Status)),
		slog.Time("period_end", t.To.CurrentPeriodEnd))

	switch {
	case event == subscription.EventChargeSucceeded:
		return OutcomeRenewed
	case t.To.Status == subscription.StatusCanceled:
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

// changedSince reports whether a writer touched the fields a renewal decision
// depends on between the candidate query and now.
func changedSince(candidate, cur subscription.Subscription) bool {
	return cur.Status != candidate.Status ||
		!cur.CurrentPeriodEnd.Equal(candidate.CurrentPeriodEnd) ||
		cur.CancelAtPeriodEnd != candidate.CancelAtPeriodEnd ||
		cur.PlanID != candidate.PlanID ||
		cur.BillingCredential != candidate.BillingCredential
}

// keepPayment appends the paid record of a transition whose commit lost a
// race after the provider took the money. The subscription is left as the
// other writer committed it. A duplicate means that writer was a renewal for
// the same period and already recorded it.
func (e *Engine) keepPayment(ctx context.Context, log *slog.Logger, t subscription.Transition) {
	if t.Record == nil {
		return
	}
	err := e.ledger.Append(ctx, *t.Record)
	switch {
	case err == nil:
		log.WarnContext(ctx, "renewal charged but subscription changed concurrently; payment recorded without renewing",
			slog.String("provider_reference", t.Record.ProviderReference))
	case errors.Is(err, ledger.ErrDuplicateRecord):
	default:
		log.ErrorContext(ctx, "failed to record payment of a renewal that lost a commit race",
			slog.String("provider_reference", t.Record.ProviderReference),
			logger.Error(err))
	}
}

// recordDataError writes a failed ledger record for a subscription that
// could not be charged at all. Its status is left untouched.
func (e *Engine) recordDataError(ctx context.Context, log *slog.Logger, sub subscription.Subscription, amount plan.Money, reason string, now time.Time, cause error) Outcome {
	attrs := []any{slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, logger.Error(cause))
	}
	log.WarnContext(ctx, "renewal skipped charge: data error", attrs...)

	rec := ledger.Failed(sub.ID, amount, reason, "", "", now)
	if err := e.ledger.Append(ctx, rec); err != nil {
		log.ErrorContext(ctx, "failed to record renewal data error", logger.Error(err))
	}
	return OutcomeFailed
}

func (e *Engine) cancelExpired(ctx context.Context, sub subscription.Subscription, now time.Time) Outcome {
	log := e.logger.With(logger.SubscriptionID(sub.ID), logger.OrganizationID(sub.OrganizationID))

	t, err := e.machine.Apply(ctx, sub, subscription.EventPeriodEnded, now, subscription.EventData{})
	if err != nil {
		log.ErrorContext(ctx, "scheduled cancellation rejected", logger.Error(err))
		return OutcomeFailed
	}

	if err := e.store.Commit(ctx, t); err != nil {
		if errors.Is(err, subscription.ErrConcurrentUpdate) {
			return OutcomeSkipped
		}
		log.ErrorContext(ctx, "scheduled cancellation commit failed", logger.Error(err))
		return OutcomeFailed
	}

	log.InfoContext(ctx, "subscription canceled at period end",
		slog.Time("period_end", sub.CurrentPeriodEnd))
	return OutcomeCanceled
}
