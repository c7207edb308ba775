package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/speakbill/pkg/api"
	"github.com/dmitrymomot/speakbill/pkg/entitlement"
	"github.com/dmitrymomot/speakbill/pkg/logger"
	"github.com/dmitrymomot/speakbill/pkg/membership"
	"github.com/dmitrymomot/speakbill/pkg/payment"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/renewal"
	"github.com/dmitrymomot/speakbill/pkg/store/memstore"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

var now = time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC)

type env struct {
	store   *memstore.Store
	handler http.Handler
	webhook *fakeWebhook
}

type fakeWebhook struct {
	evt payment.CheckoutCompleted
	ok  bool
	err error
}

func (f *fakeWebhook) ParseCheckout(*http.Request) (payment.CheckoutCompleted, bool, error) {
	return f.evt, f.ok, f.err
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	log := logger.Discard()
	clock := func() time.Time { return now }

	catalog, err := plan.NewCatalog(ctx, plan.NewInMemSource(
		plan.Plan{ID: "free", Key: "free", Name: "Free", PriceMonthly: plan.Money{Currency: "USD"}, MaxStudents: 5, MaxScripts: 3},
		plan.Plan{ID: "price_pro", Key: "pro", Tier: 1, Name: "Pro", PriceMonthly: plan.Money{Amount: 2900, Currency: "USD"}, AIFeedbackEnabled: true, TTSEnabled: true, MaxStudents: plan.Unlimited, MaxScripts: plan.Unlimited},
	))
	require.NoError(t, err)

	s := memstore.New()
	resolver := entitlement.NewResolver(membership.NewResolver(s, membership.WithLogger(log)), s, catalog, entitlement.WithLogger(log))
	svc := subscription.NewService(s, catalog, subscription.WithLogger(log), subscription.WithClock(clock))
	charger := payment.ChargerFunc(func(_ context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
		return payment.ChargeResult{ProviderReference: "pi_" + req.OrderReference}, nil
	})
	engine, err := renewal.NewEngine(s, s, catalog, charger, renewal.WithClock(clock), renewal.WithLogger(log))
	require.NoError(t, err)

	hook := &fakeWebhook{}
	return &env{
		store:   s,
		webhook: hook,
		handler: api.NewRouter(api.Deps{
			Entitlements:  resolver,
			Quotas:        resolver,
			Subscriptions: svc,
			Ledger:        s,
			Renewals:      engine,
			Webhooks:      map[string]payment.CheckoutWebhook{"paddle": hook},
			Logger:        log,
			Now:           clock,
		}),
	}
}

func (e *env) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (e *env) seed(org uuid.UUID, end time.Time) subscription.Subscription {
	sub := subscription.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     org,
		PlanID:             "price_pro",
		Status:             subscription.StatusActive,
		BillingCredential:  "cus_1|pm_1",
		CurrentPeriodStart: end.AddDate(0, -1, 0),
		CurrentPeriodEnd:   end,
		CreatedAt:          end.AddDate(0, -1, 0),
	}
	e.store.Put(sub)
	return sub
}

func TestEntitlementEndpoint(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	t.Run("user without organization", func(t *testing.T) {
		rec, body := e.do(t, http.MethodGet, "/v1/users/"+uuid.NewString()+"/entitlements/ai_feedback", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["allowed"])
		assert.Equal(t, "free", body["plan_key"])
		assert.Equal(t, "NO_ORG", body["reason"])
	})

	t.Run("subscribed owner", func(t *testing.T) {
		user, org := uuid.New(), uuid.New()
		e.store.AddMembership(membership.Membership{ID: uuid.New(), UserID: user, OrganizationID: org, Role: membership.RoleOwner, Status: membership.StatusActive, CreatedAt: now})
		e.seed(org, now.Add(10*24*time.Hour))

		rec, body := e.do(t, http.MethodGet, "/v1/users/"+user.String()+"/entitlements/tts", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, "pro", body["plan_key"])

		rec, body = e.do(t, http.MethodGet, "/v1/users/"+user.String()+"/quotas/max_students", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["allowed"])
		assert.EqualValues(t, -1, body["limit"])
	})

	t.Run("quota with caller supplied usage", func(t *testing.T) {
		user := uuid.NewString()
		rec, body := e.do(t, http.MethodGet, "/v1/users/"+user+"/quotas/max_students?used=4", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, "free", body["plan_key"])

		rec, body = e.do(t, http.MethodGet, "/v1/users/"+user+"/quotas/max_students?used=5", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["allowed"])
		assert.Equal(t, "QUOTA_EXCEEDED", body["reason"])

		rec, _ = e.do(t, http.MethodGet, "/v1/users/"+user+"/quotas/max_students?used=-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad user id", func(t *testing.T) {
		rec, _ := e.do(t, http.MethodGet, "/v1/users/not-a-uuid/entitlements/tts", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubscriptionEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	sub := e.seed(uuid.New(), now.Add(5*24*time.Hour))
	base := "/v1/subscriptions/" + sub.ID.String()

	rec, body := e.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cancel_at_period_end"])
	assert.Equal(t, "active", body["status"])

	rec, body = e.do(t, http.MethodPost, base+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["cancel_at_period_end"])

	rec, body = e.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	billing, ok := body["billing"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, billing["attempts"])

	rec, _ = e.do(t, http.MethodPost, "/v1/subscriptions/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscribeEndpoint(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	org := uuid.New()

	req := map[string]any{
		"organization_id":    org,
		"plan_id":            "price_pro",
		"billing_credential": "cus_9|pm_9",
		"provider_reference": "pi_first",
		"amount":             2900,
		"currency":           "USD",
	}
	rec, body := e.do(t, http.MethodPost, "/v1/subscriptions", req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "active", body["status"])

	rec, _ = e.do(t, http.MethodPost, "/v1/subscriptions", req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	req["currency"] = "usd"
	rec, _ = e.do(t, http.MethodPost, "/v1/subscriptions", req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRenewalEndpoint(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.seed(uuid.New(), now.Add(-24*time.Hour))
	e.seed(uuid.New(), now.Add(-2*24*time.Hour))

	rec, body := e.do(t, http.MethodPost, "/v1/renewals/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["renewed"])
	assert.EqualValues(t, 0, body["failed"])
}

func TestCheckoutWebhook(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	org := uuid.New()
	e.webhook.ok = true
	e.webhook.evt = payment.CheckoutCompleted{
		OrganizationID:    org,
		PlanID:            "price_pro",
		Credential:        "ctm_1|paymtd_1",
		Amount:            plan.Money{Amount: 2900, Currency: "USD"},
		ProviderReference: "txn_1",
		OccurredAt:        now,
	}

	rec, body := e.do(t, http.MethodPost, "/v1/webhooks/paddle", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "active", body["status"])

	rec, body = e.do(t, http.MethodPost, "/v1/webhooks/paddle", nil)
	require.Equal(t, http.StatusOK, rec.Code, "redelivery is acknowledged")
	assert.Equal(t, "exists", body["status"])

	rec, _ = e.do(t, http.MethodPost, "/v1/webhooks/stripe", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutWebhook_BadSignature(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.webhook.err = payment.ErrWebhookVerificationFailed

	rec, _ := e.do(t, http.MethodPost, "/v1/webhooks/paddle", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	rec, body := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
