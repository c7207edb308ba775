package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

var (
	now   = time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	price = plan.Money{Amount: 900, Currency: "USD"}
)

func newSub(status subscription.Status, end time.Time) subscription.Subscription {
	return subscription.Subscription{
		ID:                 uuid.New(),
		OrganizationID:     uuid.New(),
		PlanID:             "price_basic",
		Status:             status,
		BillingCredential:  "cus_1|pm_1",
		CurrentPeriodStart: subscription.AddMonth(end.AddDate(0, -2, 0)),
		CurrentPeriodEnd:   end,
	}
}

func TestMachine_ChargeSucceeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := subscription.NewMachine()

	for _, status := range []subscription.Status{
		subscription.StatusTrialing,
		subscription.StatusActive,
		subscription.StatusPastDue,
	} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			yesterday := now.AddDate(0, 0, -1)
			sub := newSub(status, yesterday)

			tr, err := m.Apply(ctx, sub, subscription.EventChargeSucceeded, now, subscription.EventData{
				Amount: price, ProviderReference: "pi_1", IdempotencyKey: "key",
			})
			require.NoError(t, err)

			assert.Equal(t, subscription.StatusActive, tr.To.Status)
			assert.Equal(t, yesterday, tr.To.CurrentPeriodStart)
			assert.Equal(t, yesterday.AddDate(0, 1, 0), tr.To.CurrentPeriodEnd, "advanced from previous end, not from now")
			assert.Equal(t, now, tr.To.UpdatedAt)

			require.NotNil(t, tr.Record)
			assert.Equal(t, ledger.StatusPaid, tr.Record.Status)
			assert.Equal(t, sub.ID, tr.Record.SubscriptionID)
			assert.Equal(t, "pi_1", tr.Record.ProviderReference)
			assert.Equal(t, "key", tr.Record.IdempotencyKey)
			assert.Equal(t, price, tr.Record.Amount)

			assert.Equal(t, sub, tr.From, "input is not modified")
		})
	}
}

func TestMachine_ChargeFailedGraceBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := subscription.NewMachine()

	const d = 24 * time.Hour
	tests := []struct {
		name     string
		from     subscription.Status
		ago      time.Duration
		want     subscription.Status
		canceled bool
	}{
		{"active, period just ended", subscription.StatusActive, 0, subscription.StatusPastDue, false},
		{"past_due, 6 days", subscription.StatusPastDue, 6 * d, subscription.StatusPastDue, false},
		{"past_due, 6 days 23h", subscription.StatusPastDue, 7*d - time.Hour, subscription.StatusPastDue, false},
		{"past_due, exactly 7 days", subscription.StatusPastDue, 7 * d, subscription.StatusCanceled, true},
		{"past_due, 8 days", subscription.StatusPastDue, 8 * d, subscription.StatusCanceled, true},
		{"active, 7 days", subscription.StatusActive, 7 * d, subscription.StatusCanceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub := newSub(tt.from, now.Add(-tt.ago))

			tr, err := m.Apply(ctx, sub, subscription.EventChargeFailed, now, subscription.EventData{
				Amount: price, FailureReason: "card_declined",
			})
			require.NoError(t, err)

			assert.Equal(t, tt.want, tr.To.Status)
			assert.Equal(t, sub.CurrentPeriodEnd, tr.To.CurrentPeriodEnd, "period never advances on failure")
			if tt.canceled {
				require.NotNil(t, tr.To.CanceledAt)
				assert.Equal(t, now, *tr.To.CanceledAt)
			} else {
				assert.Nil(t, tr.To.CanceledAt)
			}

			require.NotNil(t, tr.Record)
			assert.Equal(t, ledger.StatusFailed, tr.Record.Status)
			assert.Equal(t, "card_declined", tr.Record.FailureReason)
		})
	}
}

func TestMachine_ChargeFailedDefaultsReason(t *testing.T) {
	t.Parallel()
	m := subscription.NewMachine()

	tr, err := m.Apply(context.Background(), newSub(subscription.StatusActive, now), subscription.EventChargeFailed, now, subscription.EventData{})
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonProviderError, tr.Record.FailureReason)
}

func TestMachine_CustomGraceDays(t *testing.T) {
	t.Parallel()
	m := subscription.NewMachine(subscription.WithGraceDays(3))

	tr, err := m.Apply(context.Background(), newSub(subscription.StatusPastDue, now.AddDate(0, 0, -3)),
		subscription.EventChargeFailed, now, subscription.EventData{})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, tr.To.Status)
}

func TestMachine_CancelAndResume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := subscription.NewMachine()
	sub := newSub(subscription.StatusActive, now.AddDate(0, 0, 10))

	tr, err := m.Apply(ctx, sub, subscription.EventCancelRequested, now, subscription.EventData{})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, tr.To.Status)
	assert.True(t, tr.To.CancelAtPeriodEnd)
	assert.True(t, tr.CancelFlagChanged())
	assert.Nil(t, tr.Record)

	again, err := m.Apply(ctx, tr.To, subscription.EventCancelRequested, now, subscription.EventData{})
	require.NoError(t, err)
	assert.False(t, again.Changed())

	resumed, err := m.Apply(ctx, tr.To, subscription.EventResumeRequested, now, subscription.EventData{})
	require.NoError(t, err)
	assert.False(t, resumed.To.CancelAtPeriodEnd)

	t.Run("resume without pending cancel is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := m.Apply(ctx, sub, subscription.EventResumeRequested, now, subscription.EventData{})
		assert.ErrorIs(t, err, subscription.ErrInvalidTransition)
	})

	t.Run("resume after period end is rejected", func(t *testing.T) {
		t.Parallel()
		flagged := tr.To
		_, err := m.Apply(ctx, flagged, subscription.EventResumeRequested, flagged.CurrentPeriodEnd, subscription.EventData{})
		assert.ErrorIs(t, err, subscription.ErrInvalidTransition)
	})

	t.Run("past_due cannot be canceled at period end", func(t *testing.T) {
		t.Parallel()
		_, err := m.Apply(ctx, newSub(subscription.StatusPastDue, now), subscription.EventCancelRequested, now, subscription.EventData{})
		assert.ErrorIs(t, err, subscription.ErrInvalidTransition)
	})
}

func TestMachine_PeriodEnded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := subscription.NewMachine()

	sub := newSub(subscription.StatusActive, now.AddDate(0, 0, -1))
	sub.CancelAtPeriodEnd = true

	tr, err := m.Apply(ctx, sub, subscription.EventPeriodEnded, now, subscription.EventData{})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, tr.To.Status)
	require.NotNil(t, tr.To.CanceledAt)
	assert.Equal(t, now, *tr.To.CanceledAt)
	assert.Nil(t, tr.Record, "no charge, no ledger record")

	t.Run("not flagged", func(t *testing.T) {
		t.Parallel()
		unflagged := sub
		unflagged.CancelAtPeriodEnd = false
		assert.False(t, m.Can(ctx, unflagged, subscription.EventPeriodEnded, now))
	})

	t.Run("period still running", func(t *testing.T) {
		t.Parallel()
		running := sub
		running.CurrentPeriodEnd = now.Add(time.Hour)
		assert.False(t, m.Can(ctx, running, subscription.EventPeriodEnded, now))
	})
}

func TestMachine_TerminalAndIncomplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := subscription.NewMachine()

	for _, status := range []subscription.Status{subscription.StatusCanceled, subscription.StatusIncomplete} {
		for _, ev := range []subscription.Event{
			subscription.EventChargeSucceeded,
			subscription.EventChargeFailed,
			subscription.EventCancelRequested,
			subscription.EventPeriodEnded,
		} {
			_, err := m.Apply(ctx, newSub(status, now), ev, now, subscription.EventData{})
			assert.ErrorIs(t, err, subscription.ErrInvalidTransition, "%s on %s", ev, status)
		}
	}
}

func TestSubscription_Predicates(t *testing.T) {
	t.Parallel()
	cutoff := now.Add(24 * time.Hour)

	assert.True(t, newSub(subscription.StatusActive, now).DueForRenewal(cutoff))
	assert.True(t, newSub(subscription.StatusPastDue, cutoff).DueForRenewal(cutoff))
	assert.False(t, newSub(subscription.StatusActive, cutoff.Add(time.Second)).DueForRenewal(cutoff))
	assert.False(t, newSub(subscription.StatusTrialing, now).DueForRenewal(cutoff))

	flagged := newSub(subscription.StatusActive, now)
	flagged.CancelAtPeriodEnd = true
	assert.False(t, flagged.DueForRenewal(cutoff))
	assert.True(t, flagged.PendingCancellation(now))
	assert.False(t, flagged.PendingCancellation(now.Add(-time.Second)))

	assert.True(t, subscription.StatusPastDue.Governing())
	assert.False(t, subscription.StatusIncomplete.Governing())
	assert.True(t, subscription.StatusCanceled.Terminal())
}
