package renewal

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Outcome classifies what a pass did with one subscription.
type Outcome string

const (
	// OutcomeRenewed: charged and period advanced.
	OutcomeRenewed Outcome = "renewed"
	// OutcomeFailed: charge failed inside the grace window, a data error
	// (missing plan or credential, or a credential from a provider with no
	// charger), or an unexpected error.
	OutcomeFailed Outcome = "failed"
	// OutcomeCanceled: failed past the grace window, or flagged to cancel
	// and the period ended.
	OutcomeCanceled Outcome = "canceled"
	// OutcomeSkipped: the subscription changed after the candidate query,
	// another writer committed first, or the pass was interrupted before the
	// item finished.
	OutcomeSkipped Outcome = "skipped"
)

// Summary is the aggregate result of a pass.
type Summary struct {
	Renewed  int           `json:"renewed"`
	Failed   int           `json:"failed"`
	Canceled int           `json:"canceled"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Total is the number of subscriptions the pass looked at.
func (s Summary) Total() int {
	return s.Renewed + s.Failed + s.Canceled + s.Skipped
}

func (s Summary) String() string {
	return fmt.Sprintf("renewed=%d failed=%d canceled=%d skipped=%d", s.Renewed, s.Failed, s.Canceled, s.Skipped)
}

type counters struct {
	renewed, failed, canceled, skipped atomic.Int64
}

func (c *counters) add(o Outcome) {
	switch o {
	case OutcomeRenewed:
		c.renewed.Add(1)
	case OutcomeFailed:
		c.failed.Add(1)
	case OutcomeCanceled:
		c.canceled.Add(1)
	case OutcomeSkipped:
		c.skipped.Add(1)
	}
}

func (c *counters) summary() Summary {
	return Summary{
		Renewed:  int(c.renewed.Load()),
		Failed:   int(c.failed.Load()),
		Canceled: int(c.canceled.Load()),
		Skipped:  int(c.skipped.Load()),
	}
}

// Observer receives pass telemetry. pkg/metrics implements it.
type Observer interface {
	ObserveOutcome(o Outcome)
	ObservePass(s Summary, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveOutcome(Outcome) {}
func (noopObserver) ObservePass(Summary, error) {}
