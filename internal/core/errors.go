package core

import "errors"

var (
	// ErrInvalidWorkflow wraps every validation failure.
	ErrInvalidWorkflow = errors.New("invalid workflow")
	// ErrUnsupportedAction is returned for `uses:` steps with no configured handler.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrCycle is returned when `needs` forms a loop.
	ErrCycle = errors.New("job dependency cycle")
)
