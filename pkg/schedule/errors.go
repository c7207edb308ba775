package schedule

import "errors"

var (
	ErrSchedulerNotConfigured = errors.New("scheduler has no jobs registered")
	ErrJobAlreadyRegistered   = errors.New("job already registered")
	ErrInvalidJob             = errors.New("job name, schedule and function are required")
)
