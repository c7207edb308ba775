package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/speakbill/pkg/payment"
	"github.com/dmitrymomot/speakbill/pkg/plan"
)

func TestCredentialProvider(t *testing.T) {
	t.Parallel()

	assert.Equal(t, payment.ProviderStripe, payment.CredentialProvider(payment.StripeCredential("cus_1", "pm_1")))
	assert.Equal(t, payment.ProviderPaddle, payment.CredentialProvider(payment.PaddleCredential("ctm_01hv8x", "paymtd_01hv8y")))
	assert.Empty(t, payment.CredentialProvider("acct_1|pm_1"))
	assert.Empty(t, payment.CredentialProvider(""))
}

func TestRouter(t *testing.T) {
	t.Parallel()

	named := func(name string, calls *[]string) payment.Charger {
		return payment.ChargerFunc(func(_ context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
			*calls = append(*calls, name+":"+req.Credential)
			return payment.ChargeResult{ProviderReference: name + "_ref"}, nil
		})
	}
	req := func(cred string) payment.ChargeRequest {
		return payment.ChargeRequest{Credential: cred, Amount: plan.Money{Amount: 1000, Currency: "USD"}}
	}

	t.Run("dispatches by credential provider", func(t *testing.T) {
		t.Parallel()
		var calls []string
		r := payment.NewRouter(map[string]payment.Charger{
			payment.ProviderStripe: named("stripe", &calls),
			payment.ProviderPaddle: named("paddle", &calls),
		})

		res, err := r.Charge(context.Background(), req("ctm_01hv8x|paymtd_01hv8y"))
		require.NoError(t, err)
		assert.Equal(t, "paddle_ref", res.ProviderReference)

		res, err = r.Charge(context.Background(), req("cus_1|pm_1"))
		require.NoError(t, err)
		assert.Equal(t, "stripe_ref", res.ProviderReference)

		assert.Equal(t, []string{"paddle:ctm_01hv8x|paymtd_01hv8y", "stripe:cus_1|pm_1"}, calls)
	})

	t.Run("provider without a charger never reaches another provider", func(t *testing.T) {
		t.Parallel()
		var calls []string
		r := payment.NewRouter(map[string]payment.Charger{
			payment.ProviderStripe: named("stripe", &calls),
			payment.ProviderPaddle: nil,
		})

		assert.True(t, r.Supports(payment.ProviderStripe))
		assert.False(t, r.Supports(payment.ProviderPaddle))

		_, err := r.Charge(context.Background(), req("ctm_01hv8x|paymtd_01hv8y"))
		require.ErrorIs(t, err, payment.ErrUnsupportedProvider)
		assert.Equal(t, payment.ReasonUnsupportedProvider, payment.FailureReason(err))
		assert.Empty(t, calls)
	})

	t.Run("unrecognized credential", func(t *testing.T) {
		t.Parallel()
		var calls []string
		r := payment.NewRouter(map[string]payment.Charger{payment.ProviderStripe: named("stripe", &calls)})

		_, err := r.Charge(context.Background(), req("garbage"))
		require.ErrorIs(t, err, payment.ErrInvalidCredential)
		assert.Empty(t, calls)
	})
}
