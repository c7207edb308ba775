// Package entitlement decides whether a user may use a plan-gated feature.
//
// The resolver walks user → governing organization → governing subscription
// → plan and evaluates the plan's flag for the feature. Users without an
// organization or without a paid subscription fall back to FreeDefaults.
// past_due subscriptions still grant their plan: the grace period applies to
// the user experience while the renewal engine keeps collecting.
//
// Resolution is read-only and takes no locks. Transient lookup failures are
// returned as errors and are never reported as denials.
//
// Basic usage:
//
//	r := entitlement.NewResolver(memberships, subscriptions, catalog)
//	d, err := r.Check(ctx, userID, plan.FeatureAIFeedback)
//	if err != nil {
//		return err // lookup failed, not a denial
//	}
//	if !d.Allowed {
//		return ErrUpgradeRequired
//	}
//
// Wrap a resolver with NewCachedResolver to absorb hot-path traffic, and use
// RequireFeature to gate HTTP handlers.
package entitlement
