package payment

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/plan"
)

// CheckoutCompleted is what a finished external checkout yields: the
// organization, the plan bought, a reusable billing credential and the
// first payment.
type CheckoutCompleted struct {
	OrganizationID    uuid.UUID
	PlanID            string
	Credential        string
	Amount            plan.Money
	ProviderReference string
	OccurredAt        time.Time
}

// CheckoutWebhook verifies a provider webhook and extracts a completed
// checkout. ok is false for verified events that are not checkout
// completions; those should be acknowledged and ignored.
type CheckoutWebhook interface {
	ParseCheckout(r *http.Request) (evt CheckoutCompleted, ok bool, err error)
}
