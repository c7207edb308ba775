package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/plan"
)

// ChargeRequest asks the provider to charge a stored billing credential.
type ChargeRequest struct {
	Credential     string
	Amount         plan.Money
	OrderReference string // unique per subscription and attempt day
	IdempotencyKey string // stable per subscription and target period
	Metadata       map[string]string
}

// ChargeResult is the success payload of a charge.
type ChargeResult struct {
	ProviderReference    string
	PaymentMethodSummary string
}

// Charger charges a billing credential. A decline is reported as a
// *DeclineError; any other error is transient. Implementations must be safe
// to call again with the same IdempotencyKey.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// ChargerFunc adapts a function to Charger.
type ChargerFunc func(ctx context.Context, req ChargeRequest) (ChargeResult, error)

func (f ChargerFunc) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	return f(ctx, req)
}

// DeclineError is the provider's failure payload for a charge it refused.
type DeclineError struct {
	Reason            string
	ProviderReference string
}

func (e *DeclineError) Error() string {
	return "payment declined: " + e.Reason
}

// AsDecline unwraps a *DeclineError from err.
func AsDecline(err error) (*DeclineError, bool) {
	var d *DeclineError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// FailureReason maps a charge error to the reason stored in the ledger.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChargeTimeout), errors.Is(err, context.DeadlineExceeded):
		return ledger.ReasonChargeTimeout
	case errors.Is(err, ErrInvalidCredential):
		return ReasonInvalidCredential
	case errors.Is(err, ErrUnsupportedProvider):
		return ReasonUnsupportedProvider
	case errors.Is(err, ErrChargePanicked):
		return ledger.ReasonInternalError
	}
	if d, ok := AsDecline(err); ok && d.Reason != "" {
		return d.Reason
	}
	return ledger.ReasonProviderError
}

// ReasonInvalidCredential is recorded when the stored credential cannot be
// used by the configured provider.
const ReasonInvalidCredential = "invalid_billing_credential"

// Keys are the two references attached to a renewal charge.
type Keys struct {
	OrderReference string
	IdempotencyKey string
}

// RenewalKeys derives the renewal references for a subscription. The order
// reference changes every calendar day (UTC) so genuinely distinct attempts
// never collide in the provider's duplicate check. The idempotency key is
// tied to the period being paid for, so a retried call after a timeout that
// actually succeeded is deduplicated by the provider.
func RenewalKeys(subID uuid.UUID, periodEnd, now time.Time) Keys {
	return Keys{
		OrderReference: fmt.Sprintf("renewal-%s-%s", subID, now.UTC().Format("20060102")),
		IdempotencyKey: fmt.Sprintf("renewal:%s:%d", subID, periodEnd.UTC().Unix()),
	}
}

type timeoutCharger struct {
	next    Charger
	timeout time.Duration
}

// WithTimeout bounds every charge by d. A charge that exceeds it fails with
// ErrChargeTimeout and is not retried here; the next pass retries it with
// the same idempotency key.
func WithTimeout(c Charger, d time.Duration) Charger {
	if d <= 0 {
		return c
	}
	return &timeoutCharger{next: c, timeout: d}
}

func (t *timeoutCharger) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		res ChargeResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: charger panicked: %v", ErrChargePanicked, r)}
			}
		}()
		res, err := t.next.Charge(ctx, req)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ChargeResult{}, errors.Join(ErrChargeTimeout, o.err)
		}
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ChargeResult{}, ErrChargeTimeout
		}
		return ChargeResult{}, ctx.Err()
	}
}
