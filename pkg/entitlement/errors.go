package entitlement

import "errors"

var (
	ErrMembershipLookup   = errors.New("entitlement: membership lookup failed")
	ErrSubscriptionLookup = errors.New("entitlement: subscription lookup failed")
	ErrPlanLookup         = errors.New("entitlement: plan lookup failed")
	ErrUsageCount         = errors.New("entitlement: usage count failed")
)
