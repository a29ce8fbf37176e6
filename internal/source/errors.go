package source

import (
	"errors"
	"fmt"

	"dealscout/internal/domain"
)

// Failure classes for the orchestrator's retry and circuit decisions.
var (
	// ErrTransient covers timeouts, resets and 5xx responses. The cycle
	// may be retried on the next tick without penalty escalation.
	ErrTransient = errors.New("transient source failure")

	// ErrRateLimited means the marketplace throttled us. Repeated
	// occurrences open the circuit for the source.
	ErrRateLimited = errors.New("source rate limited")

	// ErrBlocked means the marketplace served a bot-detection page
	// instead of data. Treated like rate limiting for circuit purposes.
	ErrBlocked = errors.New("source blocked")

	// ErrAuthFailed means credentials were rejected. Not retryable
	// without operator intervention.
	ErrAuthFailed = errors.New("source auth failed")
)

// SourceError wraps a marketplace failure with its classification. Kind is
// always one of the sentinel errors above.
type SourceError struct {
	Platform domain.Platform
	Kind     error
	Err      error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Platform, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Platform, e.Kind, e.Err)
}

// Unwrap exposes both the classification sentinel and the underlying cause
// to errors.Is and errors.As.
func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds a classified source error.
func NewError(platform domain.Platform, kind, err error) *SourceError {
	return &SourceError{Platform: platform, Kind: kind, Err: err}
}

// KindLabel names err's failure class for logs and metric labels.
// Unclassified errors are reported transient so a lone hiccup never
// escalates.
func KindLabel(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "transient"
	}
}

// IsCircuitTripping reports whether err should count toward opening the
// source's circuit.
func IsCircuitTripping(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrBlocked)
}
