package entitlement

import (
	"context"
	"maps"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/plan"
)

// Reason explains a decision. Empty when the subscribed plan grants access.
type Reason string

const (
	ReasonUnknownFeature  Reason = "UNKNOWN_FEATURE"
	ReasonNoOrg           Reason = "NO_ORG"
	ReasonNoSubscription  Reason = "NO_SUBSCRIPTION"
	ReasonFeatureDisabled Reason = "FEATURE_DISABLED"
	ReasonQuotaExceeded   Reason = "QUOTA_EXCEEDED"
	ReasonUnknownQuota    Reason = "UNKNOWN_QUOTA"
)

// Decision is the outcome of a feature check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	PlanKey string `json:"plan_key"`
	Reason  Reason `json:"reason,omitempty"`
}

// QuotaDecision is the outcome of a quota check. Limit is plan.Unlimited for
// unbounded quotas.
type QuotaDecision struct {
	Allowed bool   `json:"allowed"`
	PlanKey string `json:"plan_key"`
	Limit   int64  `json:"limit"`
	Used    int64  `json:"used"`
	Reason  Reason `json:"reason,omitempty"`
}

// Checker answers feature checks. *Resolver and *CachedResolver implement it.
type Checker interface {
	Check(ctx context.Context, userID uuid.UUID, feature plan.Feature) (Decision, error)
}

var freeDefaults = map[plan.Feature]bool{
	plan.FeatureAIFeedback: false,
	plan.FeatureTTS:        false,
}

// FreeDefaults returns the feature flags granted when no paid subscription
// governs a user.
func FreeDefaults() map[plan.Feature]bool {
	return maps.Clone(freeDefaults)
}
