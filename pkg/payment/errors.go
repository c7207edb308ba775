package payment

import "errors"

var (
	ErrMissingCredentials        = errors.New("payment provider credentials are not configured")
	ErrChargeTimeout             = errors.New("payment charge timed out")
	ErrChargePanicked            = errors.New("payment charge panicked")
	ErrInvalidCredential         = errors.New("billing credential is not usable by this provider")
	ErrUnsupportedProvider       = errors.New("no charger configured for the credential provider")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload     = errors.New("invalid webhook payload")
)
