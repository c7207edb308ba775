package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/speakbill/pkg/api"
	"github.com/dmitrymomot/speakbill/pkg/entitlement"
	"github.com/dmitrymomot/speakbill/pkg/httpserver"
	"github.com/dmitrymomot/speakbill/pkg/logger"
	"github.com/dmitrymomot/speakbill/pkg/membership"
	"github.com/dmitrymomot/speakbill/pkg/metrics"
	"github.com/dmitrymomot/speakbill/pkg/payment"
	"github.com/dmitrymomot/speakbill/pkg/pg"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/redis"
	"github.com/dmitrymomot/speakbill/pkg/renewal"
	"github.com/dmitrymomot/speakbill/pkg/schedule"
	"github.com/dmitrymomot/speakbill/pkg/store/pgstore"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

func serve(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	store := pgstore.New(pool)
	catalog, err := loadCatalog(ctx, cfg, store)
	if err != nil {
		return err
	}

	reg := prometheus.DefaultRegisterer
	billing := metrics.New(reg)
	metrics.RegisterPgxPoolMetrics(reg, pool)

	charger, err := newCharger(cfg)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg, store, catalog, charger, billing, redis.NewLocker(rdb, cfg.Redis.LockPrefix), log)
	if err != nil {
		return err
	}

	machine := subscription.NewMachine(subscription.WithGraceDays(cfg.Renewal.GraceDays))
	svc := subscription.NewService(store, catalog,
		subscription.WithMachine(machine),
		subscription.WithLogger(log),
	)

	orgs := membership.NewResolver(store, membership.WithLogger(log))
	resolver := entitlement.NewResolver(orgs, store, catalog, entitlement.WithLogger(log))
	cached := entitlement.NewCachedResolver(resolver, cfg.EntitlementCacheTTL, cfg.EntitlementCacheSize)

	webhooks, err := newWebhooks(cfg, charger, log)
	if err != nil {
		return err
	}

	renewer := purgingRenewer{next: engine, cache: cached}
	router := api.NewRouter(api.Deps{
		Entitlements:  billing.InstrumentChecker(cached),
		Quotas:        resolver,
		Subscriptions: purgingSubscriptions{Service: svc, cache: cached},
		Ledger:        store,
		Renewals:      renewer,
		Webhooks:      webhooks,
		Readiness: []httpserver.Check{
			{Name: "postgres", Fn: pg.Healthcheck(pool)},
			{Name: "redis", Fn: redis.Healthcheck(rdb)},
		},
		Metrics:     promhttp.Handler(),
		HTTPMetrics: metrics.NewHTTP(reg),
		Logger:      log,
	})

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, router)
	})

	if cfg.ScheduleEnabled {
		sched := schedule.NewScheduler(schedule.WithLogger(log))
		daily := schedule.DailyAt(cfg.ScheduleHour, cfg.ScheduleMinute)
		if err := sched.AddJob("renewal-pass", daily, func(ctx context.Context) error {
			_, err := renewer.Run(ctx)
			if errors.Is(err, renewal.ErrPassInProgress) {
				// another replica holds the lock
				return nil
			}
			return err
		}); err != nil {
			return err
		}
		g.Go(func() error {
			return sched.Start(gctx)
		})
	}

	return g.Wait()
}

// renewOnce runs a single pass for cron-style deployments. A held lock is not
// an error: the other holder is doing the work.
func renewOnce(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	store := pgstore.New(pool)
	catalog, err := loadCatalog(ctx, cfg, store)
	if err != nil {
		return err
	}

	charger, err := newCharger(cfg)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg, store, catalog, charger, nil, redis.NewLocker(rdb, cfg.Redis.LockPrefix), log)
	if err != nil {
		return err
	}

	sum, err := engine.Run(ctx)
	switch {
	case errors.Is(err, renewal.ErrPassInProgress):
		log.InfoContext(ctx, "renewal pass already running elsewhere")
		return nil
	case err != nil:
		return err
	}
	log.InfoContext(ctx, "renewal pass done", slog.String("summary", sum.String()))
	return nil
}

func migrate(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pgstore.Migrate(ctx, pool, cfg.Postgres, log); err != nil {
		return err
	}
	if cfg.PlansFile == "" {
		return nil
	}
	return syncPlans(ctx, cfg.PlansFile, pgstore.New(pool), log)
}

// syncPlans upserts every plan from the YAML file into the plans table.
// Loading through a Catalog first rejects invalid files before any write.
func syncPlans(ctx context.Context, path string, store *pgstore.Store, log *slog.Logger) error {
	catalog, err := plan.NewCatalog(ctx, plan.NewYAMLSource(path))
	if err != nil {
		return err
	}
	for _, p := range catalog.List(ctx) {
		if err := store.UpsertPlan(ctx, p); err != nil {
			return fmt.Errorf("upsert plan %s: %w", p.ID, err)
		}
		log.InfoContext(ctx, "plan synced", logger.PlanKey(p.Key), slog.String("plan_id", p.ID))
	}
	return nil
}

func loadCatalog(ctx context.Context, cfg appConfig, store *pgstore.Store) (*plan.Catalog, error) {
	var src plan.Source = store
	if cfg.PlansFile != "" {
		src = plan.NewYAMLSource(cfg.PlansFile)
	}
	catalog, err := plan.NewCatalog(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("load plan catalog: %w", err)
	}
	return catalog, nil
}

// newCharger routes renewal charges by the provider that issued each
// credential. Only Stripe can charge a stored payment method off-session.
func newCharger(cfg appConfig) (*payment.Router, error) {
	stripe, err := payment.NewStripeCharger(cfg.Stripe)
	if err != nil {
		return nil, err
	}
	return payment.NewRouter(map[string]payment.Charger{
		payment.ProviderStripe: stripe,
	}), nil
}

func newEngine(cfg appConfig, store *pgstore.Store, catalog *plan.Catalog, charger payment.Charger, obs renewal.Observer, locker renewal.Locker, log *slog.Logger) (*renewal.Engine, error) {
	opts := []renewal.Option{
		renewal.WithConfig(cfg.Renewal),
		renewal.WithLocker(locker),
		renewal.WithLogger(log),
	}
	if obs != nil {
		opts = append(opts, renewal.WithObserver(obs))
	}
	return renewal.NewEngine(store, store, catalog, charger, opts...)
}

// newWebhooks registers a verifier for every provider with a configured
// secret. A provider without one answers 404 on its webhook route. A secret
// for a provider the router cannot charge is a configuration error: every
// subscription created from that checkout would fail its first renewal.
func newWebhooks(cfg appConfig, charger *payment.Router, log *slog.Logger) (map[string]payment.CheckoutWebhook, error) {
	hooks := make(map[string]payment.CheckoutWebhook, 2)
	if cfg.Stripe.WebhookSecret != "" {
		if !charger.Supports(payment.ProviderStripe) {
			return nil, errUnchargeableProvider(payment.ProviderStripe)
		}
		wh, err := payment.NewStripeWebhook(cfg.Stripe)
		if err != nil {
			return nil, err
		}
		hooks[payment.ProviderStripe] = wh
	}
	if cfg.Paddle.WebhookSecret != "" {
		if !charger.Supports(payment.ProviderPaddle) {
			return nil, errUnchargeableProvider(payment.ProviderPaddle)
		}
		wh, err := payment.NewPaddleWebhook(cfg.Paddle)
		if err != nil {
			return nil, err
		}
		hooks[payment.ProviderPaddle] = wh
	}
	if len(hooks) == 0 {
		log.Warn("no checkout webhooks configured")
	}
	return hooks, nil
}

func errUnchargeableProvider(provider string) error {
	return fmt.Errorf("%s checkout webhook is configured but no %s charger is available for renewals", provider, provider)
}

// purgingSubscriptions drops cached entitlement decisions after any
// subscription change so the API never serves a stale plan for longer than
// one request.
type purgingSubscriptions struct {
	*subscription.Service
	cache *entitlement.CachedResolver
}

func (s purgingSubscriptions) Subscribe(ctx context.Context, req subscription.SubscribeRequest) (subscription.Subscription, error) {
	sub, err := s.Service.Subscribe(ctx, req)
	if err == nil {
		s.cache.Purge()
	}
	return sub, err
}

func (s purgingSubscriptions) RequestCancel(ctx context.Context, id uuid.UUID) (subscription.Subscription, error) {
	sub, err := s.Service.RequestCancel(ctx, id)
	if err == nil {
		s.cache.Purge()
	}
	return sub, err
}

func (s purgingSubscriptions) Resume(ctx context.Context, id uuid.UUID) (subscription.Subscription, error) {
	sub, err := s.Service.Resume(ctx, id)
	if err == nil {
		s.cache.Purge()
	}
	return sub, err
}

type purgingRenewer struct {
	next  *renewal.Engine
	cache *entitlement.CachedResolver
}

func (r purgingRenewer) Run(ctx context.Context) (renewal.Summary, error) {
	sum, err := r.next.Run(ctx)
	if sum.Renewed+sum.Canceled+sum.Failed > 0 {
		r.cache.Purge()
	}
	return sum, err
}

var _ api.Subscriptions = purgingSubscriptions{}
