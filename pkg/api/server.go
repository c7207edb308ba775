package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/entitlement"
	"github.com/dmitrymomot/speakbill/pkg/httpserver"
	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/metrics"
	"github.com/dmitrymomot/speakbill/pkg/payment"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/renewal"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

// QuotaChecker answers quota checks. Satisfied by *entitlement.Resolver.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, userID uuid.UUID, q plan.Quota) (entitlement.QuotaDecision, error)
	CanCreate(ctx context.Context, userID uuid.UUID, q plan.Quota, current int64) (entitlement.QuotaDecision, error)
}

// Subscriptions is the user-facing subscription service.
type Subscriptions interface {
	Get(ctx context.Context, id uuid.UUID) (subscription.Subscription, error)
	Subscribe(ctx context.Context, req subscription.SubscribeRequest) (subscription.Subscription, error)
	RequestCancel(ctx context.Context, id uuid.UUID) (subscription.Subscription, error)
	Resume(ctx context.Context, id uuid.UUID) (subscription.Subscription, error)
}

// Renewer runs a renewal pass. Satisfied by *renewal.Engine.
type Renewer interface {
	Run(ctx context.Context) (renewal.Summary, error)
}

// Deps wires the API to its collaborators. Entitlements, Subscriptions and
// Renewals are required; the rest are optional.
type Deps struct {
	Entitlements  entitlement.Checker
	Quotas        QuotaChecker
	Subscriptions Subscriptions
	Ledger        ledger.Reader
	Renewals      Renewer
	Webhooks      map[string]payment.CheckoutWebhook // keyed by provider name
	Readiness     []httpserver.Check
	Metrics       http.Handler // mounted at /metrics
	HTTPMetrics   *metrics.HTTP
	Logger        *slog.Logger
	Now           func() time.Time
}

type server struct {
	Deps
	validate *validator.Validate
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &server{Deps: d, validate: validator.New(validator.WithRequiredStructEnabled())}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	if d.HTTPMetrics != nil {
		r.Use(d.HTTPMetrics.Middleware)
	}

	r.Get("/healthz", httpserver.HealthCheckHandler(d.Logger, 2*time.Second))
	r.Get("/readyz", httpserver.HealthCheckHandler(d.Logger, 2*time.Second, d.Readiness...))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/users/{userID}/entitlements/{feature}", s.checkEntitlement)
		r.Get("/users/{userID}/quotas/{quota}", s.checkQuota)

		r.Post("/subscriptions", s.subscribe)
		r.Get("/subscriptions/{id}", s.getSubscription)
		r.Post("/subscriptions/{id}/cancel", s.cancelSubscription)
		r.Post("/subscriptions/{id}/resume", s.resumeSubscription)

		r.Post("/renewals/run", s.runRenewals)

		r.Post("/webhooks/{provider}", s.checkoutWebhook)
	})

	return r
}
