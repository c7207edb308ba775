package renewal

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid renewal configuration")
	ErrMissingDependency = errors.New("renewal engine dependency is missing")
	ErrPassInProgress    = errors.New("another renewal pass is in progress")
	ErrCandidateQuery    = errors.New("failed to select renewal candidates")
	ErrLockUnavailable   = errors.New("failed to acquire renewal pass lock")
)
