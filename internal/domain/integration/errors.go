package integration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Gateway Errors
// ---------------------------------------------------------------------------

var (
	// Configuration and credential errors
	ErrConfiguration    = errors.New("integration: invalid configuration")
	ErrDecryptionFailed = errors.New("integration: credential decryption failed")
	ErrNoRefreshToken   = errors.New("integration: no refresh token available")

	// Connection errors
	ErrConnectionNotFound = errors.New("integration: connection not found")
	ErrConnectionInactive = errors.New("integration: connection is not active")
	ErrConnectionChanged  = errors.New("integration: connection changed concurrently")
	ErrUnsupportedCRMType = errors.New("integration: unsupported CRM type")

	// Provider errors
	ErrAuthenticationFailed = errors.New("integration: authentication failed")
	ErrPermissionDenied     = errors.New("integration: permission denied")
	ErrRateLimited          = errors.New("integration: rate limited")
	ErrProviderError        = errors.New("integration: provider error")

	// Input errors
	ErrValidation        = errors.New("integration: validation failed")
	ErrInvalidObjectType = errors.New("integration: invalid object type")
	ErrInvalidTenantID   = errors.New("integration: invalid tenant ID")
)

// DecryptionHint is attached to every decryption failure surfaced to callers.
const DecryptionHint = "the credential encryption key may have changed since these credentials were stored; re-enter the CRM credentials or restore the original key"

// DefaultRetryAfter is used when a rate-limited response carries no hint.
const DefaultRetryAfter = 60 * time.Second

// RateLimitError reports a vendor rate limit together with the back-off hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrRateLimited).
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// PermissionError reports a missing-scope failure.
type PermissionError struct {
	MissingScopes []string
	Message       string
}

func (e *PermissionError) Error() string {
	msg := ErrPermissionDenied.Error()
	if len(e.MissingScopes) > 0 {
		msg += ": missing scopes " + strings.Join(e.MissingScopes, ", ")
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap allows errors.Is(err, ErrPermissionDenied).
func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// ProviderAPIError wraps an opaque vendor failure.
// Transient is set for 5xx responses and transport failures.
type ProviderAPIError struct {
	Status        int
	Message       string
	CorrelationID string
	Transient     bool
}

func (e *ProviderAPIError) Error() string {
	var b strings.Builder
	b.WriteString(ErrProviderError.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.CorrelationID != "" {
		fmt.Fprintf(&b, " (correlation id %s)", e.CorrelationID)
	}
	return b.String()
}

// Unwrap allows errors.Is(err, ErrProviderError).
func (e *ProviderAPIError) Unwrap() error { return ErrProviderError }

// NewDecryptionError wraps cause as a decryption failure carrying the remediation hint.
func NewDecryptionError(cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrDecryptionFailed, DecryptionHint)
	}
	return fmt.Errorf("%w: %v; %s", ErrDecryptionFailed, cause, DecryptionHint)
}

// ValidationError lists the input fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+" "+e.Fields[field])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }

// DescribeFailure renders err as the message stored on a failed connection,
// e.g. "Authentication failed: token revoked".
func DescribeFailure(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimPrefix(err.Error(), "integration: ")
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}
