package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/speakbill/pkg/plan"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	// APIURL overrides the API endpoint; used against stripe-mock and in tests.
	APIURL string `env:"STRIPE_API_URL"`
}

// credentialSeparator joins the Stripe customer and payment method IDs in
// the stored billing credential: "cus_123|pm_456".
const credentialSeparator = "|"

// StripeCredential builds the billing credential stored for a Stripe customer.
func StripeCredential(customerID, paymentMethodID string) string {
	return customerID + credentialSeparator + paymentMethodID
}

func parseStripeCredential(cred string) (customerID, paymentMethodID string, err error) {
	customerID, paymentMethodID, ok := strings.Cut(cred, credentialSeparator)
	if !ok || !strings.HasPrefix(customerID, "cus_") || paymentMethodID == "" {
		return "", "", ErrInvalidCredential
	}
	return customerID, paymentMethodID, nil
}

// StripeCharger charges stored payment methods with off-session,
// immediately confirmed PaymentIntents.
type StripeCharger struct {
	api *client.API
}

// NewStripeCharger creates a charger. Returns ErrMissingCredentials when no
// secret key is configured. The SDK's own network retries are disabled: a
// failed charge is retried by the next renewal pass, not in-process.
func NewStripeCharger(cfg StripeConfig) (*StripeCharger, error) {
	if cfg.SecretKey == "" {
		return nil, errors.Join(ErrMissingCredentials, errors.New("STRIPE_SECRET_KEY is empty"))
	}

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &StripeCharger{api: api}, nil
}

// Charge implements Charger.
func (c *StripeCharger) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	customerID, paymentMethodID, err := parseStripeCredential(req.Credential)
	if err != nil {
		return ChargeResult{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Amount),
		Currency:      stripe.String(strings.ToLower(req.Amount.Currency)),
		Customer:      stripe.String(customerID),
		PaymentMethod: stripe.String(paymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(req.OrderReference),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("order_reference", req.OrderReference)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return ChargeResult{}, mapStripeError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return ChargeResult{
			ProviderReference:    pi.ID,
			PaymentMethodSummary: paymentMethodSummary(pi),
		}, nil
	case stripe.PaymentIntentStatusRequiresAction:
		return ChargeResult{}, &DeclineError{Reason: "authentication_required", ProviderReference: pi.ID}
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		reason := "requires_payment_method"
		if pi.LastPaymentError != nil {
			reason = stripeDeclineReason(pi.LastPaymentError)
		}
		return ChargeResult{}, &DeclineError{Reason: reason, ProviderReference: pi.ID}
	default:
		return ChargeResult{}, fmt.Errorf("stripe payment intent %s in status %s", pi.ID, pi.Status)
	}
}

func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("stripe request failed: %w", err)
	}
	if se.Type == stripe.ErrorTypeCard {
		d := &DeclineError{Reason: stripeDeclineReason(se)}
		if se.PaymentIntent != nil {
			d.ProviderReference = se.PaymentIntent.ID
		}
		return d
	}
	return fmt.Errorf("stripe %s (http %d): %w", se.Type, se.HTTPStatusCode, err)
}

func stripeDeclineReason(se *stripe.Error) string {
	switch {
	case se.DeclineCode != "":
		return string(se.DeclineCode)
	case se.Code != "":
		return string(se.Code)
	default:
		return "card_declined"
	}
}

func paymentMethodSummary(pi *stripe.PaymentIntent) string {
	if pi.PaymentMethod == nil || pi.PaymentMethod.Card == nil {
		return ""
	}
	return fmt.Sprintf("%s ****%s", pi.PaymentMethod.Card.Brand, pi.PaymentMethod.Card.Last4)
}

// Stripe metadata keys set by the checkout flow on the first PaymentIntent.
const (
	MetadataOrganizationID = "organization_id"
	MetadataPlanID         = "plan_id"
)

// StripeWebhook turns payment_intent.succeeded events from the checkout flow
// into CheckoutCompleted values.
type StripeWebhook struct {
	secret string
}

// NewStripeWebhook returns ErrMissingCredentials when no secret is set.
func NewStripeWebhook(cfg StripeConfig) (*StripeWebhook, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.Join(ErrMissingCredentials, errors.New("STRIPE_WEBHOOK_SECRET is empty"))
	}
	return &StripeWebhook{secret: cfg.WebhookSecret}, nil
}

// ParseCheckout implements CheckoutWebhook.
func (w *StripeWebhook) ParseCheckout(r *http.Request) (CheckoutCompleted, bool, error) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return CheckoutCompleted{}, false, fmt.Errorf("read webhook body: %w", err)
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), w.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return CheckoutCompleted{}, false, errors.Join(ErrWebhookVerificationFailed, err)
	}

	if event.Type != "payment_intent.succeeded" {
		return CheckoutCompleted{}, false, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return CheckoutCompleted{}, false, errors.Join(ErrInvalidWebhookPayload, err)
	}

	orgRaw, isCheckout := pi.Metadata[MetadataOrganizationID]
	if !isCheckout {
		// renewal charges carry no organization metadata
		return CheckoutCompleted{}, false, nil
	}
	orgID, err := uuid.Parse(orgRaw)
	if err != nil {
		return CheckoutCompleted{}, false, errors.Join(ErrInvalidWebhookPayload, fmt.Errorf("organization_id: %w", err))
	}
	if pi.Customer == nil || pi.PaymentMethod == nil {
		return CheckoutCompleted{}, false, errors.Join(ErrInvalidWebhookPayload, errors.New("missing customer or payment method"))
	}

	return CheckoutCompleted{
		OrganizationID:    orgID,
		PlanID:            pi.Metadata[MetadataPlanID],
		Credential:        StripeCredential(pi.Customer.ID, pi.PaymentMethod.ID),
		Amount:            plan.Money{Amount: pi.Amount, Currency: strings.ToUpper(string(pi.Currency))},
		ProviderReference: pi.ID,
		OccurredAt:        time.Unix(event.Created, 0).UTC(),
	}, true, nil
}
