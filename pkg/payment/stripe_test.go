package payment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/speakbill/pkg/payment"
	"github.com/dmitrymomot/speakbill/pkg/plan"
)

type stripeStub struct {
	mu       sync.Mutex
	requests []url.Values
	headers  []http.Header
	status   int
	body     string
}

func (s *stripeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(raw))

	s.mu.Lock()
	s.requests = append(s.requests, form)
	s.headers = append(s.headers, r.Header.Clone())
	status, body := s.status, s.body
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func newStripeCharger(t *testing.T, stub *stripeStub) *payment.StripeCharger {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	c, err := payment.NewStripeCharger(payment.StripeConfig{SecretKey: "sk_test_123", APIURL: srv.URL})
	require.NoError(t, err)
	return c
}

var chargeReq = payment.ChargeRequest{
	Credential:     "cus_123|pm_456",
	Amount:         plan.Money{Amount: 900, Currency: "USD"},
	OrderReference: "renewal-abc-20250310",
	IdempotencyKey: "renewal:abc:1741489200",
	Metadata:       map[string]string{"subscription_id": "abc"},
}

func TestStripeCharger_Success(t *testing.T) {
	t.Parallel()
	stub := &stripeStub{status: http.StatusOK, body: `{
		"id": "pi_123", "object": "payment_intent", "status": "succeeded",
		"amount": 900, "currency": "usd",
		"payment_method": {"id": "pm_456", "object": "payment_method", "card": {"brand": "visa", "last4": "4242"}}
	}`}
	c := newStripeCharger(t, stub)

	res, err := c.Charge(context.Background(), chargeReq)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", res.ProviderReference)
	assert.Equal(t, "visa ****4242", res.PaymentMethodSummary)

	require.Len(t, stub.requests, 1)
	form := stub.requests[0]
	assert.Equal(t, "900", form.Get("amount"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "cus_123", form.Get("customer"))
	assert.Equal(t, "pm_456", form.Get("payment_method"))
	assert.Equal(t, "true", form.Get("confirm"))
	assert.Equal(t, "true", form.Get("off_session"))
	assert.Equal(t, "renewal-abc-20250310", form.Get("metadata[order_reference]"))
	assert.Equal(t, "abc", form.Get("metadata[subscription_id]"))
	assert.Equal(t, "renewal:abc:1741489200", stub.headers[0].Get("Idempotency-Key"))
}

func TestStripeCharger_Decline(t *testing.T) {
	t.Parallel()
	stub := &stripeStub{status: http.StatusPaymentRequired, body: `{"error": {
		"type": "card_error", "code": "card_declined", "decline_code": "insufficient_funds",
		"message": "Your card has insufficient funds.",
		"payment_intent": {"id": "pi_declined", "object": "payment_intent", "status": "requires_payment_method"}
	}}`}
	c := newStripeCharger(t, stub)

	_, err := c.Charge(context.Background(), chargeReq)
	d, ok := payment.AsDecline(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "insufficient_funds", d.Reason)
	assert.Equal(t, "pi_declined", d.ProviderReference)
	assert.Len(t, stub.requests, 1, "no in-process retry")
}

func TestStripeCharger_ProviderError(t *testing.T) {
	t.Parallel()
	stub := &stripeStub{status: http.StatusInternalServerError, body: `{"error": {"type": "api_error", "message": "boom"}}`}
	c := newStripeCharger(t, stub)

	_, err := c.Charge(context.Background(), chargeReq)
	require.Error(t, err)
	_, isDecline := payment.AsDecline(err)
	assert.False(t, isDecline, "server errors are transient, not declines")
	assert.Len(t, stub.requests, 1)
}

func TestStripeCharger_RequiresAction(t *testing.T) {
	t.Parallel()
	stub := &stripeStub{status: http.StatusOK, body: `{"id": "pi_3ds", "object": "payment_intent", "status": "requires_action"}`}
	c := newStripeCharger(t, stub)

	_, err := c.Charge(context.Background(), chargeReq)
	d, ok := payment.AsDecline(err)
	require.True(t, ok)
	assert.Equal(t, "authentication_required", d.Reason)
}

func TestStripeCharger_InvalidCredential(t *testing.T) {
	t.Parallel()
	stub := &stripeStub{status: http.StatusOK, body: `{}`}
	c := newStripeCharger(t, stub)

	for _, cred := range []string{"", "cus_123", "ctm_01|paymtd_01", "cus_123|"} {
		req := chargeReq
		req.Credential = cred
		_, err := c.Charge(context.Background(), req)
		assert.ErrorIs(t, err, payment.ErrInvalidCredential, cred)
	}
	assert.Empty(t, stub.requests)
}

func TestNewStripeCharger_MissingKey(t *testing.T) {
	t.Parallel()
	_, err := payment.NewStripeCharger(payment.StripeConfig{})
	assert.ErrorIs(t, err, payment.ErrMissingCredentials)
}

func TestStripeWebhook_ParseCheckout(t *testing.T) {
	t.Parallel()
	const secret = "whsec_test"
	orgID := uuid.New()

	hook, err := payment.NewStripeWebhook(payment.StripeConfig{WebhookSecret: secret})
	require.NoError(t, err)

	signed := func(body string) *http.Request {
		sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   []byte(body),
			Secret:    secret,
			Timestamp: time.Now(),
		})
		r := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(body))
		r.Header.Set("Stripe-Signature", sp.Header)
		return r
	}
	eventJSON := func(typ string, metadata map[string]string) string {
		md, _ := json.Marshal(metadata)
		return fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"created":1741489200,"data":{"object":{
			"id":"pi_checkout","object":"payment_intent","status":"succeeded","amount":900,"currency":"usd",
			"customer":"cus_123","payment_method":"pm_456","metadata":%s}}}`, typ, md)
	}

	t.Run("checkout completed", func(t *testing.T) {
		t.Parallel()
		evt, ok, err := hook.ParseCheckout(signed(eventJSON("payment_intent.succeeded", map[string]string{
			"organization_id": orgID.String(), "plan_id": "price_basic",
		})))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, orgID, evt.OrganizationID)
		assert.Equal(t, "price_basic", evt.PlanID)
		assert.Equal(t, "cus_123|pm_456", evt.Credential)
		assert.Equal(t, plan.Money{Amount: 900, Currency: "USD"}, evt.Amount)
		assert.Equal(t, "pi_checkout", evt.ProviderReference)
		assert.Equal(t, time.Unix(1741489200, 0).UTC(), evt.OccurredAt)
	})

	t.Run("renewal intents are ignored", func(t *testing.T) {
		t.Parallel()
		_, ok, err := hook.ParseCheckout(signed(eventJSON("payment_intent.succeeded", map[string]string{
			"order_reference": "renewal-x-20250310",
		})))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("other events are ignored", func(t *testing.T) {
		t.Parallel()
		_, ok, err := hook.ParseCheckout(signed(eventJSON("charge.refunded", nil)))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(eventJSON("payment_intent.succeeded", nil)))
		r.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
		_, _, err := hook.ParseCheckout(r)
		assert.ErrorIs(t, err, payment.ErrWebhookVerificationFailed)
	})
}
