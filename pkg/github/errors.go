package github

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrContextCancelled is returned when the context is cancelled mid-request.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorKind classifies a failed GitHub API call.
type ErrorKind string

const (
	// KindAuthentication is a 401 response. Fatal to the whole run.
	KindAuthentication ErrorKind = "authentication"

	// KindNotFound is a 404 response.
	KindNotFound ErrorKind = "not_found"

	// KindRateLimit covers primary and secondary rate limits (403 with
	// exhausted quota, abuse detection, 429).
	KindRateLimit ErrorKind = "rate_limit"

	// KindTimeout is a request that exceeded its per-operation deadline.
	KindTimeout ErrorKind = "timeout"

	// KindPrivateRepository is a repository that exists but is inaccessible.
	KindPrivateRepository ErrorKind = "private_repository"

	// KindEmptyRepository is a 409 response on commit endpoints.
	KindEmptyRepository ErrorKind = "empty_repository"

	// KindForkAccess is a fork that cannot be read during a scan.
	KindForkAccess ErrorKind = "fork_access"

	// KindAPI is any other API or transport failure.
	KindAPI ErrorKind = "api"
)

// RateLimitState holds the rate limit headers of one response.
// It is parsed fresh per response and never persisted.
type RateLimitState struct {
	Remaining int
	Limit     int
	Reset     time.Time
}

// TimeUntilReset returns the duration until the rate limit window resets.
// Returns 0 if the reset time has already passed or is unknown.
func (s RateLimitState) TimeUntilReset() time.Duration {
	if s.Reset.IsZero() {
		return 0
	}
	duration := time.Until(s.Reset)
	if duration < 0 {
		return 0
	}
	return duration
}

// HasReset reports whether the server supplied a usable reset time.
func (s RateLimitState) HasReset() bool {
	return !s.Reset.IsZero()
}

// APIError represents a classified GitHub API error with structured context.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string

	// Repository is the owner/name this call was made against, when known.
	Repository string

	// ForkURL identifies the fork involved for KindForkAccess.
	ForkURL string

	// Reason carries extra detail for permission errors.
	Reason string

	// RateLimit is populated for KindRateLimit.
	RateLimit RateLimitState

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("github %s error (status %d): %s: %v",
			e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("github %s error (status %d): %s",
		e.Kind, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether this error may succeed on a later attempt.
// Rate limits always are. Server errors (5xx) and transport failures
// (no status code) are. Everything else is not.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit:
		return true
	case KindAPI:
		return e.StatusCode == 0 || e.StatusCode >= 500
	default:
		return false
	}
}

// Class labels the error for logs and metrics. Satisfies the retry
// coordinator's classified-error contract.
func (e *APIError) Class() string {
	return string(e.Kind)
}

// RateLimited reports whether this is a rate limit error, and the reset
// time when the server supplied one. Satisfies the retry coordinator's
// classified-error contract.
func (e *APIError) RateLimited() (time.Time, bool) {
	if e.Kind != KindRateLimit {
		return time.Time{}, false
	}
	return e.RateLimit.Reset, true
}

// KindOf extracts the ErrorKind from err, or "" if err is not an APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// AsAPIError extracts the *APIError from err, or nil.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// Recoverable reports whether err describes a per-item failure that a
// bulk operation can absorb (one inaccessible fork among hundreds).
func Recoverable(err error) bool {
	switch KindOf(err) {
	case KindPrivateRepository, KindEmptyRepository, KindForkAccess, KindTimeout, KindNotFound:
		return true
	default:
		return false
	}
}

// ShouldContinueProcessing reports whether a bulk scan should keep going
// after observing err. Authentication failures abort the run; everything
// else allows partial results.
func ShouldContinueProcessing(err error) bool {
	return KindOf(err) != KindAuthentication
}
