package github

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Romamo/forkscout-sub000/pkg/retry"
)

// The retry coordinator never sees this package's types directly; it
// works against its classified-error contract.
var _ retry.Classified = (*APIError)(nil)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiErr   *APIError
		expected string
	}{
		{
			name: "error with wrapped error",
			apiErr: &APIError{
				Kind:       KindAPI,
				StatusCode: 500,
				Message:    "internal server error",
				Err:        errors.New("connection refused"),
			},
			expected: "github api error (status 500): internal server error: connection refused",
		},
		{
			name: "error without wrapped error",
			apiErr: &APIError{
				Kind:       KindNotFound,
				StatusCode: 404,
				Message:    "not found",
			},
			expected: "github not_found error (status 404): not found",
		},
		{
			name: "rate limit error",
			apiErr: &APIError{
				Kind:       KindRateLimit,
				StatusCode: 429,
				Message:    "rate limit exceeded",
			},
			expected: "github rate_limit error (status 429): rate limit exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.apiErr.Error()
			if result != tt.expected {
				t.Errorf("Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	apiErr := &APIError{
		Kind:       KindAPI,
		StatusCode: 500,
		Message:    "server error",
		Err:        wrappedErr,
	}

	if !errors.Is(apiErr, wrappedErr) {
		t.Error("errors.Is should work with wrapped error")
	}
}

func TestAPIError_Retryable(t *testing.T) {
	tests := []struct {
		name     string
		apiErr   *APIError
		expected bool
	}{
		{
			name:     "rate limit is retryable",
			apiErr:   &APIError{Kind: KindRateLimit, StatusCode: 403},
			expected: true,
		},
		{
			name:     "server error is retryable",
			apiErr:   &APIError{Kind: KindAPI, StatusCode: 502},
			expected: true,
		},
		{
			name:     "transport error is retryable",
			apiErr:   &APIError{Kind: KindAPI, StatusCode: 0},
			expected: true,
		},
		{
			name:     "authentication is not retryable",
			apiErr:   &APIError{Kind: KindAuthentication, StatusCode: 401},
			expected: false,
		},
		{
			name:     "not found is not retryable",
			apiErr:   &APIError{Kind: KindNotFound, StatusCode: 404},
			expected: false,
		},
		{
			name:     "timeout is not retryable at this layer",
			apiErr:   &APIError{Kind: KindTimeout},
			expected: false,
		},
		{
			name:     "4xx api error is not retryable",
			apiErr:   &APIError{Kind: KindAPI, StatusCode: 422},
			expected: false,
		},
		{
			name:     "private repository is not retryable",
			apiErr:   &APIError{Kind: KindPrivateRepository, StatusCode: 403},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiErr.Retryable(); got != tt.expected {
				t.Errorf("Retryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	apiErr := &APIError{Kind: KindRateLimit, StatusCode: 429}

	if got := KindOf(apiErr); got != KindRateLimit {
		t.Errorf("KindOf(apiErr) = %q, want %q", got, KindRateLimit)
	}

	// Wrapped errors resolve through errors.As.
	wrapped := fmt.Errorf("call failed: %w", apiErr)
	if got := KindOf(wrapped); got != KindRateLimit {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindRateLimit)
	}

	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}

	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
}

func TestAPIError_Class(t *testing.T) {
	apiErr := &APIError{Kind: KindRateLimit}
	if got := apiErr.Class(); got != "rate_limit" {
		t.Errorf("Class() = %q, want rate_limit", got)
	}
}

func TestAPIError_RateLimited(t *testing.T) {
	reset := time.Now().Add(time.Minute)
	limited := &APIError{Kind: KindRateLimit, RateLimit: RateLimitState{Reset: reset}}

	got, ok := limited.RateLimited()
	if !ok {
		t.Fatal("RateLimited() ok = false for a rate limit error")
	}
	if !got.Equal(reset) {
		t.Errorf("RateLimited() reset = %v, want %v", got, reset)
	}

	// No reset time known: still a rate limit.
	secondary := &APIError{Kind: KindRateLimit}
	got, ok = secondary.RateLimited()
	if !ok || !got.IsZero() {
		t.Errorf("RateLimited() = (%v, %v), want zero time and ok", got, ok)
	}

	other := &APIError{Kind: KindAuthentication}
	if _, ok := other.RateLimited(); ok {
		t.Error("RateLimited() ok = true for a non-rate-limit error")
	}
}

func TestShouldContinueProcessing(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "authentication aborts the run",
			err:      &APIError{Kind: KindAuthentication, StatusCode: 401},
			expected: false,
		},
		{
			name:     "private repository continues",
			err:      &APIError{Kind: KindPrivateRepository, StatusCode: 404},
			expected: true,
		},
		{
			name:     "rate limit continues",
			err:      &APIError{Kind: KindRateLimit, StatusCode: 429},
			expected: true,
		},
		{
			name:     "plain error continues",
			err:      errors.New("something else"),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldContinueProcessing(tt.err); got != tt.expected {
				t.Errorf("ShouldContinueProcessing() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRecoverable(t *testing.T) {
	recoverable := []ErrorKind{KindPrivateRepository, KindEmptyRepository, KindForkAccess, KindTimeout, KindNotFound}
	for _, kind := range recoverable {
		if !Recoverable(&APIError{Kind: kind}) {
			t.Errorf("Recoverable(%s) = false, want true", kind)
		}
	}

	fatal := []ErrorKind{KindAuthentication, KindRateLimit, KindAPI}
	for _, kind := range fatal {
		if Recoverable(&APIError{Kind: kind}) {
			t.Errorf("Recoverable(%s) = true, want false", kind)
		}
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	past := RateLimitState{Reset: time.Now().Add(-time.Minute)}
	if got := past.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() for past reset = %v, want 0", got)
	}

	unknown := RateLimitState{}
	if got := unknown.TimeUntilReset(); got != 0 {
		t.Errorf("TimeUntilReset() for unknown reset = %v, want 0", got)
	}
	if unknown.HasReset() {
		t.Error("HasReset() for zero reset = true, want false")
	}

	future := RateLimitState{Reset: time.Now().Add(30 * time.Second)}
	got := future.TimeUntilReset()
	if got < 29*time.Second || got > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~30s", got)
	}
	if !future.HasReset() {
		t.Error("HasReset() for future reset = false, want true")
	}
}
