package services

import "errors"

// Command rejection taxonomy. NotFound, InvalidTransition and
// InsufficientResources are terminal per-command outcomes returned to
// the caller unchanged. Conflict and Transient are retryable; the
// orchestrator retries them on the next cycle.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrConflict              = errors.New("conflict")
	ErrTransient             = errors.New("transient failure")
)

// Retryable reports whether the orchestrator should retry this error on
// the next cycle instead of surfacing it.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient)
}
