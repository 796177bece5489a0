package github

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// AccessContext tells Classify what kind of resource a call touched, so
// ambiguous status codes can be narrowed (403 on a fork vs. a repository,
// 409 on a commit comparison).
type AccessContext string

const (
	// AccessGeneric is a call with no special resource semantics.
	AccessGeneric AccessContext = "generic"

	// AccessRepository is a call against a repository resource.
	AccessRepository AccessContext = "repository"

	// AccessFork is a call against a fork during a scan.
	AccessFork AccessContext = "fork"

	// AccessCommits is a commit listing or comparison call.
	AccessCommits AccessContext = "commits"
)

// Phrases that mark a 403 body as a rate limit rather than a permission
// denial. Matched case-insensitively.
var rateLimitPhrases = []string{
	"rate limit",
	"abuse detection",
	"secondary rate limit",
	"too many requests",
}

// apiMessage is the subset of a GitHub error body we inspect.
type apiMessage struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url"`
}

// Classify inspects an HTTP response and body and produces a classified
// APIError. Rules are evaluated in order: 401, 404, 403, 429, 409, 5xx.
// Responses below 400 classify as a generic APIError (caller bug).
func Classify(resp *http.Response, body []byte, access AccessContext) *APIError {
	message := parseMessage(body, resp.Status)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &APIError{
			Kind:       KindAuthentication,
			StatusCode: resp.StatusCode,
			Message:    message,
		}

	case resp.StatusCode == http.StatusNotFound:
		// A 404 on a repository may mean the repository exists but is
		// private; GitHub does not distinguish.
		if access == AccessRepository || access == AccessFork {
			return &APIError{
				Kind:       KindPrivateRepository,
				StatusCode: resp.StatusCode,
				Message:    message,
				Reason:     "not found or private",
			}
		}
		return &APIError{
			Kind:       KindNotFound,
			StatusCode: resp.StatusCode,
			Message:    message,
		}

	case resp.StatusCode == http.StatusForbidden:
		return classifyForbidden(resp, body, message, access)

	case resp.StatusCode == http.StatusTooManyRequests:
		state := ParseRateLimit(resp.Header)
		if retryAfter := resp.Header.Get("retry-after"); retryAfter != "" {
			if secs, err := strconv.Atoi(retryAfter); err == nil {
				state.Reset = time.Now().Add(time.Duration(secs) * time.Second)
			}
		}
		return &APIError{
			Kind:       KindRateLimit,
			StatusCode: resp.StatusCode,
			Message:    message,
			RateLimit:  state,
		}

	case resp.StatusCode == http.StatusConflict && access == AccessCommits:
		return &APIError{
			Kind:       KindEmptyRepository,
			StatusCode: resp.StatusCode,
			Message:    message,
			Reason:     "repository has no commits",
		}

	default:
		return &APIError{
			Kind:       KindAPI,
			StatusCode: resp.StatusCode,
			Message:    message,
		}
	}
}

// classifyForbidden decides between rate limit and permission denial for
// a 403. The x-ratelimit-remaining header is authoritative; the body is
// the fallback for secondary limits that do not touch the primary quota.
func classifyForbidden(resp *http.Response, body []byte, message string, access AccessContext) *APIError {
	state := ParseRateLimit(resp.Header)

	if resp.Header.Get("x-ratelimit-remaining") == "0" {
		return &APIError{
			Kind:       KindRateLimit,
			StatusCode: resp.StatusCode,
			Message:    message,
			RateLimit:  state,
		}
	}

	if bodyIndicatesRateLimit(body) {
		// Secondary/abuse limits carry no usable reset time.
		return &APIError{
			Kind:       KindRateLimit,
			StatusCode: resp.StatusCode,
			Message:    message,
			RateLimit:  RateLimitState{Remaining: state.Remaining, Limit: state.Limit},
		}
	}

	kind := KindPrivateRepository
	if access == AccessFork {
		kind = KindForkAccess
	}
	return &APIError{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Message:    message,
		Reason:     "permission denied",
	}
}

// bodyIndicatesRateLimit scans a 403 body for rate limit phrases or a
// documentation_url pointing at the rate limiting docs.
func bodyIndicatesRateLimit(body []byte) bool {
	if len(body) == 0 {
		return false
	}

	lower := strings.ToLower(string(body))
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	var msg apiMessage
	if err := json.Unmarshal(body, &msg); err == nil {
		if strings.Contains(strings.ToLower(msg.DocumentationURL), "rate-limit") {
			return true
		}
	}
	return false
}

// ParseRateLimit extracts the rate limit state from response headers.
// Missing headers leave zero values; Reset stays zero when unknown.
func ParseRateLimit(headers http.Header) RateLimitState {
	state := RateLimitState{}

	if remaining, err := strconv.Atoi(headers.Get("x-ratelimit-remaining")); err == nil {
		state.Remaining = remaining
	}
	if limit, err := strconv.Atoi(headers.Get("x-ratelimit-limit")); err == nil {
		state.Limit = limit
	}
	if reset, err := strconv.ParseInt(headers.Get("x-ratelimit-reset"), 10, 64); err == nil && reset > 0 {
		state.Reset = time.Unix(reset, 0)
	}

	return state
}

// ClassifyTransportError converts a low-level transport failure into an
// APIError. Deadline expiry becomes KindTimeout; other network errors
// become a retryable generic APIError with no status code.
func ClassifyTransportError(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{
			Kind:    KindTimeout,
			Message: "request timed out",
			Err:     err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{
			Kind:    KindTimeout,
			Message: "request timed out",
			Err:     err,
		}
	}

	return &APIError{
		Kind:    KindAPI,
		Message: "network error",
		Err:     err,
	}
}

// parseMessage pulls the GitHub error message out of a response body,
// falling back to the HTTP status line.
func parseMessage(body []byte, fallback string) string {
	var msg apiMessage
	if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
		return msg.Message
	}
	return fallback
}

// HandleRepositoryAccessError narrows a generic APIError observed while
// reading a repository into KindPrivateRepository. RateLimit and
// Authentication classifications pass through unchanged.
func HandleRepositoryAccessError(err error, repository string) error {
	return narrow(err, KindPrivateRepository, repository, "")
}

// HandleForkAccessError narrows a generic APIError observed while reading
// a fork into KindForkAccess.
func HandleForkAccessError(err error, forkURL string) error {
	return narrow(err, KindForkAccess, "", forkURL)
}

// HandleCommitAccessError narrows a generic APIError observed while
// comparing commits. A 409 means the repository is empty.
func HandleCommitAccessError(err error, repository string) error {
	apiErr := AsAPIError(err)
	if apiErr == nil {
		return err
	}
	if apiErr.StatusCode == http.StatusConflict {
		return narrow(err, KindEmptyRepository, repository, "")
	}
	return narrow(err, KindPrivateRepository, repository, "")
}

// narrow rewrites the kind of a generic APIError once domain context is
// known. Already-specific kinds are left alone: a rate limit on a fork is
// still a rate limit.
func narrow(err error, kind ErrorKind, repository, forkURL string) error {
	apiErr := AsAPIError(err)
	if apiErr == nil {
		return err
	}

	switch apiErr.Kind {
	case KindAPI, KindNotFound:
		narrowed := *apiErr
		narrowed.Kind = kind
		if repository != "" {
			narrowed.Repository = repository
		}
		if forkURL != "" {
			narrowed.ForkURL = forkURL
		}
		return &narrowed
	default:
		return err
	}
}
