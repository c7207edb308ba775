package plan

import "fmt"

// FreePlanKey is the plan key reported when no paid subscription governs a user.
const FreePlanKey = "free"

// Unlimited marks a quota without an upper bound (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// Feature is a boolean capability gated by the plan.
type Feature string

const (
	FeatureAIFeedback Feature = "ai_feedback"
	FeatureTTS        Feature = "tts"
)

// Features lists every feature the catalog knows about.
func Features() []Feature {
	return []Feature{FeatureAIFeedback, FeatureTTS}
}

// Valid reports whether f is a known feature.
func (f Feature) Valid() bool {
	switch f {
	case FeatureAIFeedback, FeatureTTS:
		return true
	}
	return false
}

// Quota is a numeric limit gated by the plan.
type Quota string

const (
	QuotaMaxStudents Quota = "max_students"
	QuotaMaxScripts  Quota = "max_scripts"
)

// Valid reports whether q is a known quota.
func (q Quota) Valid() bool {
	switch q {
	case QuotaMaxStudents, QuotaMaxScripts:
		return true
	}
	return false
}

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount" validate:"gte=0"`
	Currency string `yaml:"currency" json:"currency" validate:"required,len=3,uppercase"`
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, m.Currency)
}

// Plan is an immutable catalog entry. The ID should match the payment
// provider's price ID for paid plans so webhook payloads map directly.
type Plan struct {
	ID           string `yaml:"id" json:"id" validate:"required"`
	Key          string `yaml:"key" json:"key" validate:"required,lowercase"`
	Tier         int    `yaml:"tier" json:"tier" validate:"gte=0"`
	Name         string `yaml:"name" json:"name" validate:"required"`
	PriceMonthly Money  `yaml:"price_monthly" json:"price_monthly"`

	AIFeedbackEnabled bool `yaml:"ai_feedback_enabled" json:"ai_feedback_enabled"`
	TTSEnabled        bool `yaml:"tts_enabled" json:"tts_enabled"`

	MaxStudents int64 `yaml:"max_students" json:"max_students" validate:"gte=-1"`
	MaxScripts  int64 `yaml:"max_scripts" json:"max_scripts" validate:"gte=-1"`
}

// Feature evaluates the flag for f. The second result is false for unknown features.
func (p Plan) Feature(f Feature) (enabled, known bool) {
	switch f {
	case FeatureAIFeedback:
		return p.AIFeedbackEnabled, true
	case FeatureTTS:
		return p.TTSEnabled, true
	}
	return false, false
}

// Quota returns the limit for q. The second result is false for unknown quotas.
func (p Plan) Quota(q Quota) (limit int64, known bool) {
	switch q {
	case QuotaMaxStudents:
		return p.MaxStudents, true
	case QuotaMaxScripts:
		return p.MaxScripts, true
	}
	return 0, false
}

// IsFree reports whether the plan costs nothing and is never charged.
func (p Plan) IsFree() bool {
	return p.PriceMonthly.Amount == 0
}
