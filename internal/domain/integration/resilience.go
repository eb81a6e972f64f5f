package integration

import (
	"context"
	"errors"
	"time"
)

// FailureKind is the resilience classification of a provider error.
type FailureKind string

const (
	FailureNone      FailureKind = "none"
	FailureAuth      FailureKind = "auth_failure"
	FailureRateLimit FailureKind = "rate_limit"
	FailureTransient FailureKind = "transient"
	FailureFatal     FailureKind = "fatal"
)

// String returns the string representation of FailureKind
func (k FailureKind) String() string {
	return string(k)
}

// Classify maps err onto the resilience policy. Only FailureAuth is ever
// retried, and only once after a credential refresh.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	var apiErr *ProviderAPIError
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return FailureAuth
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimit
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTransient
	case errors.As(err, &apiErr) && apiErr.Transient:
		return FailureTransient
	default:
		return FailureFatal
	}
}

// RetryAfter extracts the back-off hint of a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	if errors.Is(err, ErrRateLimited) {
		return DefaultRetryAfter, true
	}
	return 0, false
}

// IsRetryable reports whether the caller may back off and try again later.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case FailureRateLimit, FailureTransient:
		return true
	default:
		return false
	}
}
