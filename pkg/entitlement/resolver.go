package entitlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/logger"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

// OrgResolver finds the organization governing a user. Satisfied by
// *membership.Resolver.
type OrgResolver interface {
	ResolveGoverningOrg(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error)
}

// SubscriptionReader finds an organization's governing subscription and
// returns subscription.ErrSubscriptionNotFound when there is none.
type SubscriptionReader interface {
	GetGoverning(ctx context.Context, orgID uuid.UUID) (subscription.Subscription, error)
}

// PlanReader is the catalog lookup the resolver needs. Satisfied by
// *plan.Catalog.
type PlanReader interface {
	Get(ctx context.Context, planID string) (plan.Plan, error)
	ByKey(ctx context.Context, key string) (plan.Plan, error)
}

// UsageCounter reports current usage of a quota for an organization.
type UsageCounter func(ctx context.Context, orgID uuid.UUID, q plan.Quota) (int64, error)

// Resolver implements Checker against live stores.
type Resolver struct {
	orgs     OrgResolver
	subs     SubscriptionReader
	plans    PlanReader
	usage    UsageCounter
	defaults map[plan.Feature]bool
	logger   *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFreeDefaults overrides FreeDefaults. Unknown features in m are ignored.
func WithFreeDefaults(m map[plan.Feature]bool) Option {
	return func(r *Resolver) {
		for f, v := range m {
			if f.Valid() {
				r.defaults[f] = v
			}
		}
	}
}

// WithUsageCounter enables CheckQuota.
func WithUsageCounter(c UsageCounter) Option {
	return func(r *Resolver) { r.usage = c }
}

// NewResolver creates a Resolver. Panics on nil dependencies.
func NewResolver(orgs OrgResolver, subs SubscriptionReader, plans PlanReader, opts ...Option) *Resolver {
	if orgs == nil || subs == nil || plans == nil {
		panic("entitlement: org resolver, subscription reader and plan reader are required")
	}
	r := &Resolver{
		orgs:     orgs,
		subs:     subs,
		plans:    plans,
		defaults: FreeDefaults(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check decides whether userID may use feature. An unknown feature is denied
// but still reports the plan in effect.
func (r *Resolver) Check(ctx context.Context, userID uuid.UUID, feature plan.Feature) (Decision, error) {
	res, err := r.resolve(ctx, userID)
	if err != nil {
		r.logger.ErrorContext(ctx, "entitlement lookup failed",
			logger.UserID(userID),
			logger.Feature(string(feature)),
			logger.Error(err))
		return Decision{}, err
	}
	if !feature.Valid() {
		return Decision{Allowed: false, PlanKey: res.planKey(), Reason: ReasonUnknownFeature}, nil
	}
	if res.plan == nil {
		return Decision{Allowed: r.defaults[feature], PlanKey: plan.FreePlanKey, Reason: res.reason}, nil
	}

	enabled, _ := res.plan.Feature(feature)
	d := Decision{Allowed: enabled, PlanKey: res.plan.Key}
	if !enabled {
		d.Reason = ReasonFeatureDisabled
	}
	return d, nil
}

// CheckQuota reports whether one more unit of q fits under the governing
// plan's limit, counting usage with the configured UsageCounter (zero without
// one). Users without a paid plan are held to the catalog's free plan, or to
// zero when the catalog has none.
func (r *Resolver) CheckQuota(ctx context.Context, userID uuid.UUID, q plan.Quota) (QuotaDecision, error) {
	return r.quota(ctx, userID, q, func(res resolution) (int64, error) {
		if !res.hasOrg || r.usage == nil {
			return 0, nil
		}
		used, err := r.usage(ctx, res.orgID, q)
		if err != nil {
			return 0, errors.Join(ErrUsageCount, err)
		}
		return used, nil
	})
}

// CanCreate is CheckQuota with usage supplied by the caller, for services
// that already hold the current count.
func (r *Resolver) CanCreate(ctx context.Context, userID uuid.UUID, q plan.Quota, current int64) (QuotaDecision, error) {
	return r.quota(ctx, userID, q, func(resolution) (int64, error) {
		return current, nil
	})
}

func (r *Resolver) quota(ctx context.Context, userID uuid.UUID, q plan.Quota, usage func(resolution) (int64, error)) (QuotaDecision, error) {
	res, err := r.resolve(ctx, userID)
	if err != nil {
		return QuotaDecision{}, err
	}
	if !q.Valid() {
		return QuotaDecision{PlanKey: res.planKey(), Reason: ReasonUnknownQuota}, nil
	}
	p := res.plan
	if p == nil {
		free, err := r.plans.ByKey(ctx, plan.FreePlanKey)
		switch {
		case errors.Is(err, plan.ErrPlanNotFound):
			free = plan.Plan{Key: plan.FreePlanKey}
		case err != nil:
			return QuotaDecision{}, errors.Join(ErrPlanLookup, err)
		}
		p = &free
	}

	limit, _ := p.Quota(q)
	d := QuotaDecision{PlanKey: p.Key, Limit: limit}
	if limit == plan.Unlimited {
		d.Allowed = true
		return d, nil
	}

	if d.Used, err = usage(res); err != nil {
		return QuotaDecision{}, err
	}

	d.Allowed = d.Used < limit
	if !d.Allowed {
		d.Reason = ReasonQuotaExceeded
	}
	return d, nil
}

type resolution struct {
	orgID  uuid.UUID
	hasOrg bool
	plan   *plan.Plan // nil on the free tier
	reason Reason
}

func (r resolution) planKey() string {
	if r.plan == nil {
		return plan.FreePlanKey
	}
	return r.plan.Key
}

// resolve walks user → organization → subscription → plan.
func (r *Resolver) resolve(ctx context.Context, userID uuid.UUID) (resolution, error) {
	orgID, ok, err := r.orgs.ResolveGoverningOrg(ctx, userID)
	if err != nil {
		return resolution{}, errors.Join(ErrMembershipLookup, err)
	}
	if !ok {
		return resolution{reason: ReasonNoOrg}, nil
	}

	res := resolution{orgID: orgID, hasOrg: true}
	sub, err := r.subs.GetGoverning(ctx, orgID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		res.reason = ReasonNoSubscription
		return res, nil
	}
	if err != nil {
		return resolution{}, errors.Join(ErrSubscriptionLookup, err)
	}
	if !sub.Status.Governing() {
		res.reason = ReasonNoSubscription
		return res, nil
	}

	p, err := r.plans.Get(ctx, sub.PlanID)
	if err != nil {
		// A subscription pointing at a missing plan is a data error. It must
		// not silently downgrade a paying customer.
		return resolution{}, errors.Join(ErrPlanLookup, err)
	}
	res.plan = &p
	return res, nil
}
