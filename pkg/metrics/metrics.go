// Package metrics exposes billing telemetry to Prometheus: renewal pass
// outcomes and durations, entitlement decisions, HTTP traffic and pgx pool
// statistics.
package metrics

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/speakbill/pkg/entitlement"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/renewal"
)

const namespace = "billing"

// Billing holds the billing collectors. It implements renewal.Observer.
type Billing struct {
	renewalOutcomes     *prometheus.CounterVec
	renewalPasses       *prometheus.CounterVec
	renewalPassDuration prometheus.Histogram
	renewalLastSuccess  prometheus.Gauge
	decisions           *prometheus.CounterVec
	decisionErrors      *prometheus.CounterVec
}

var _ renewal.Observer = (*Billing)(nil)

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Billing {
	b := &Billing{
		renewalOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renewal_subscriptions_total",
			Help:      "Subscriptions processed by renewal passes, by outcome",
		}, []string{"outcome"}),
		renewalPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renewal_passes_total",
			Help:      "Renewal passes, by result",
		}, []string{"result"}),
		renewalPassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "renewal_pass_duration_seconds",
			Help:      "Wall time of completed renewal passes",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		renewalLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renewal_last_success_timestamp_seconds",
			Help:      "Unix time of the last renewal pass that completed without a fatal error",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_decisions_total",
			Help:      "Entitlement checks, by feature, result and reason",
		}, []string{"feature", "allowed", "reason"}),
		decisionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_errors_total",
			Help:      "Entitlement checks that failed with a lookup error",
		}, []string{"feature"}),
	}

	reg.MustRegister(
		b.renewalOutcomes,
		b.renewalPasses,
		b.renewalPassDuration,
		b.renewalLastSuccess,
		b.decisions,
		b.decisionErrors,
	)
	return b
}

// ObserveOutcome implements renewal.Observer.
func (b *Billing) ObserveOutcome(o renewal.Outcome) {
	b.renewalOutcomes.WithLabelValues(string(o)).Inc()
}

// ObservePass implements renewal.Observer.
func (b *Billing) ObservePass(s renewal.Summary, err error) {
	switch {
	case err == nil:
		b.renewalPasses.WithLabelValues("ok").Inc()
		b.renewalPassDuration.Observe(s.Duration.Seconds())
		b.renewalLastSuccess.SetToCurrentTime()
	case errors.Is(err, renewal.ErrPassInProgress):
		b.renewalPasses.WithLabelValues("busy").Inc()
	default:
		b.renewalPasses.WithLabelValues("error").Inc()
	}
}

// InstrumentChecker counts every decision made by next.
func (b *Billing) InstrumentChecker(next entitlement.Checker) entitlement.Checker {
	return &instrumentedChecker{next: next, m: b}
}

type instrumentedChecker struct {
	next entitlement.Checker
	m    *Billing
}

func (c *instrumentedChecker) Check(ctx context.Context, userID uuid.UUID, f plan.Feature) (entitlement.Decision, error) {
	d, err := c.next.Check(ctx, userID, f)
	feature := string(f)
	if !f.Valid() {
		// Bound label cardinality.
		feature = "unknown"
	}
	if err != nil {
		c.m.decisionErrors.WithLabelValues(feature).Inc()
		return d, err
	}
	c.m.decisions.WithLabelValues(feature, strconv.FormatBool(d.Allowed), string(d.Reason)).Inc()
	return d, nil
}
