// Package payment is the boundary to the external payment provider.
//
// The renewal engine consumes a single operation, Charger.Charge: charge a
// stored billing credential for an amount. A refusal comes back as a
// *DeclineError; anything else is transient. Both end up as a failed ledger
// record and are retried by the next scheduled pass, never in-process.
//
// Every renewal charge carries two references built by RenewalKeys:
//
//   - an order reference, unique per subscription and attempt day;
//   - an idempotency key, stable for the period being paid for, so a charge
//     that timed out but succeeded at the provider is not taken twice.
//
// StripeCharger is the production Charger. Router sends each charge to the
// charger of the provider that issued the credential, so a credential from a
// provider without one fails before any network call. StripeWebhook and PaddleWebhook
// verify checkout notifications and turn them into CheckoutCompleted values,
// which is where a new subscription and its billing credential come from.
package payment
