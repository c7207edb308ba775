package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/speakbill/pkg/entitlement"
	"github.com/dmitrymomot/speakbill/pkg/metrics"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/renewal"
)

func TestBilling_RenewalObserver(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	b := metrics.New(reg)

	b.ObserveOutcome(renewal.OutcomeRenewed)
	b.ObserveOutcome(renewal.OutcomeRenewed)
	b.ObserveOutcome(renewal.OutcomeCanceled)
	b.ObservePass(renewal.Summary{Renewed: 2, Canceled: 1}, nil)
	b.ObservePass(renewal.Summary{}, renewal.ErrPassInProgress)
	b.ObservePass(renewal.Summary{}, errors.Join(renewal.ErrCandidateQuery, errors.New("down")))

	n, err := testutil.GatherAndCount(reg, "billing_renewal_subscriptions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per observed outcome")

	n, err = testutil.GatherAndCount(reg, "billing_renewal_passes_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = testutil.GatherAndCount(reg, "billing_renewal_pass_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type staticChecker struct {
	d   entitlement.Decision
	err error
}

func (c staticChecker) Check(context.Context, uuid.UUID, plan.Feature) (entitlement.Decision, error) {
	return c.d, c.err
}

func TestBilling_InstrumentChecker(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	b := metrics.New(reg)
	ctx := context.Background()

	allow := b.InstrumentChecker(staticChecker{d: entitlement.Decision{Allowed: true, PlanKey: "pro"}})
	_, err := allow.Check(ctx, uuid.New(), plan.FeatureTTS)
	require.NoError(t, err)
	_, err = allow.Check(ctx, uuid.New(), plan.Feature("made-up-1"))
	require.NoError(t, err)
	_, err = allow.Check(ctx, uuid.New(), plan.Feature("made-up-2"))
	require.NoError(t, err)

	broken := b.InstrumentChecker(staticChecker{err: errors.New("db down")})
	_, err = broken.Check(ctx, uuid.New(), plan.FeatureTTS)
	require.Error(t, err)

	n, err := testutil.GatherAndCount(reg, "billing_entitlement_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "unknown features share one label value")

	n, err = testutil.GatherAndCount(reg, "billing_entitlement_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHTTP_Middleware(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	h := metrics.NewHTTP(reg)

	r := chi.NewRouter()
	r.Use(h.Middleware)
	r.Get("/v1/subscriptions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for range 2 {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/subscriptions/"+uuid.NewString(), nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	n, err := testutil.GatherAndCount(reg, "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "route pattern keeps ids out of labels")
}
