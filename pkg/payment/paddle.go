package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/plan"
)

// PaddleConfig holds configuration for Paddle checkout webhooks.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
}

// PaddleWebhook verifies Paddle notifications and turns completed checkout
// transactions into CheckoutCompleted values.
type PaddleWebhook struct {
	verifier *paddle.WebhookVerifier
}

// NewPaddleWebhook returns ErrMissingCredentials when no secret is set.
func NewPaddleWebhook(cfg PaddleConfig) (*PaddleWebhook, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.Join(ErrMissingCredentials, errors.New("PADDLE_WEBHOOK_SECRET is empty"))
	}
	return &PaddleWebhook{verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret)}, nil
}

type paddleEvent struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       paddleTransaction `json:"data"`
}

type paddleTransaction struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	CustomerID   string            `json:"customer_id"`
	CurrencyCode string            `json:"currency_code"`
	CustomData   map[string]string `json:"custom_data"`
	Items        []struct {
		PriceID string `json:"price_id"`
	} `json:"items"`
	Details struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
	Payments []struct {
		PaymentMethodID string `json:"payment_method_id"`
		Status          string `json:"status"`
	} `json:"payments"`
}

// ParseCheckout implements CheckoutWebhook. Only transaction.completed
// events carrying an organization_id in custom_data are checkouts.
func (w *PaddleWebhook) ParseCheckout(r *http.Request) (CheckoutCompleted, bool, error) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return CheckoutCompleted{}, false, fmt.Errorf("read webhook body: %w", err)
	}

	// Verify against a copy so the verifier can consume the body freely.
	vreq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, r.URL.String(), bytes.NewReader(payload))
	if err != nil {
		return CheckoutCompleted{}, false, fmt.Errorf("build verification request: %w", err)
	}
	vreq.Header = r.Header.Clone()

	valid, err := w.verifier.Verify(vreq)
	if err != nil {
		return CheckoutCompleted{}, false, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return CheckoutCompleted{}, false, ErrWebhookVerificationFailed
	}

	var evt paddleEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return CheckoutCompleted{}, false, errors.Join(ErrInvalidWebhookPayload, err)
	}
	if evt.EventType != "transaction.completed" {
		return CheckoutCompleted{}, false, nil
	}

	txn := evt.Data
	orgRaw, isCheckout := txn.CustomData[MetadataOrganizationID]
	if !isCheckout {
		return CheckoutCompleted{}, false, nil
	}
	orgID, err := uuid.Parse(orgRaw)
	if err != nil {
		return CheckoutCompleted{}, false, errors.Join(ErrInvalidWebhookPayload, fmt.Errorf("organization_id: %w", err))
	}
	if len(txn.Items) == 0 || txn.Items[0].PriceID == "" {
		return CheckoutCompleted{}, false, errors.Join(ErrInvalidWebhookPayload, errors.New("transaction has no price"))
	}
	amount, err := strconv.ParseInt(txn.Details.Totals.GrandTotal, 10, 64)
	if err != nil {
		return CheckoutCompleted{}, false, errors.Join(ErrInvalidWebhookPayload, fmt.Errorf("grand_total: %w", err))
	}

	var paymentMethodID string
	for _, p := range txn.Payments {
		if p.Status == "captured" && p.PaymentMethodID != "" {
			paymentMethodID = p.PaymentMethodID
			break
		}
	}
	if txn.CustomerID == "" || paymentMethodID == "" {
		return CheckoutCompleted{}, false, errors.Join(ErrInvalidWebhookPayload, errors.New("missing customer or payment method"))
	}

	return CheckoutCompleted{
		OrganizationID:    orgID,
		PlanID:            txn.Items[0].PriceID,
		Credential:        PaddleCredential(txn.CustomerID, paymentMethodID),
		Amount:            plan.Money{Amount: amount, Currency: strings.ToUpper(txn.CurrencyCode)},
		ProviderReference: txn.ID,
		OccurredAt:        evt.OccurredAt.UTC(),
	}, true, nil
}
