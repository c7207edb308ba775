package payment

import (
	"context"
	"fmt"
	"strings"
)

// Provider names used to route charges and checkout webhooks.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
)

// ReasonUnsupportedProvider is recorded when a credential was issued by a
// provider this deployment has no charger for.
const ReasonUnsupportedProvider = "unsupported_billing_provider"

// PaddleCredential builds the billing credential stored for a Paddle
// customer: "ctm_123|paymtd_456".
func PaddleCredential(customerID, paymentMethodID string) string {
	return customerID + credentialSeparator + paymentMethodID
}

// CredentialProvider returns the provider that issued cred, judged by the
// customer ID prefix, or "" when it matches none.
func CredentialProvider(cred string) string {
	customerID, _, _ := strings.Cut(cred, credentialSeparator)
	switch {
	case strings.HasPrefix(customerID, "cus_"):
		return ProviderStripe
	case strings.HasPrefix(customerID, "ctm_"):
		return ProviderPaddle
	default:
		return ""
	}
}

// Router dispatches each charge to the charger of the provider that issued
// its credential.
type Router struct {
	chargers map[string]Charger
}

// NewRouter returns a Router over chargers keyed by provider name. Nil
// chargers are ignored.
func NewRouter(chargers map[string]Charger) *Router {
	r := &Router{chargers: make(map[string]Charger, len(chargers))}
	for name, c := range chargers {
		if c != nil {
			r.chargers[name] = c
		}
	}
	return r
}

// Supports reports whether r can charge credentials issued by provider.
func (r *Router) Supports(provider string) bool {
	_, ok := r.chargers[provider]
	return ok
}

// Charge fails with ErrInvalidCredential for an unrecognized credential and
// with ErrUnsupportedProvider when its provider has no charger. Neither
// reaches a provider.
func (r *Router) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	provider := CredentialProvider(req.Credential)
	if provider == "" {
		return ChargeResult{}, ErrInvalidCredential
	}
	c, ok := r.chargers[provider]
	if !ok {
		return ChargeResult{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	return c.Charge(ctx, req)
}
