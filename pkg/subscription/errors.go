package subscription

import "errors"

var (
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("organization already has a governing subscription")
	ErrInvalidTransition         = errors.New("transition not allowed from current subscription state")
	ErrConcurrentUpdate          = errors.New("subscription changed concurrently")
	ErrInvalidSubscribeRequest   = errors.New("invalid subscribe request")
	ErrFreePlanNotSubscribable   = errors.New("free plan does not need a subscription")
	ErrPlanNotFound              = errors.New("subscription plan not found")
)
