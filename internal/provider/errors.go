package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/mohitmishra786/prompt-craft/internal/models"
)

// ErrorCategory is the closed classification every backend failure is mapped
// into before it leaves a provider.
type ErrorCategory string

const (
	// CategoryAuthentication covers invalid or missing static keys and
	// expired or rejected dynamic tokens.
	CategoryAuthentication ErrorCategory = "authentication"
	// CategoryAuthorization covers valid credentials lacking permission for
	// the requested resource.
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound covers deployments or models unknown to the backend.
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryRateLimited covers backend throttling.
	CategoryRateLimited ErrorCategory = "rate_limited"
	// CategoryContentFiltered covers backend policy rejections.
	CategoryContentFiltered ErrorCategory = "content_filtered"
	// CategoryServiceUnavailable covers backend-side outages and 5xx.
	CategoryServiceUnavailable ErrorCategory = "service_unavailable"
	// CategoryTimeout covers local timeouts elapsing before a response.
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryNetworkUnreachable covers connections that never established.
	CategoryNetworkUnreachable ErrorCategory = "network_unreachable"
	// CategoryConfiguration covers missing or malformed required fields
	// detected at construction time.
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryAuthToolUnavailable means the local auth CLI is not installed.
	CategoryAuthToolUnavailable ErrorCategory = "auth_tool_unavailable"
	// CategoryAuthSessionMissing means the auth CLI has no active login.
	CategoryAuthSessionMissing ErrorCategory = "auth_session_missing"
	// CategoryAuthEnvironmentMismatch means the workload is not running in
	// the environment the auth strategy requires (e.g. no reachable IMDS).
	CategoryAuthEnvironmentMismatch ErrorCategory = "auth_environment_mismatch"
	// CategoryEmptyResponse means the backend reported success but returned
	// no usable content.
	CategoryEmptyResponse ErrorCategory = "empty_response"
)

// Error is a classified provider failure. Raw transport or backend errors
// never escape a Provider's public methods without being wrapped in one.
type Error struct {
	Category ErrorCategory
	Provider models.ProviderType
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s provider %s: %s: %v", e.Provider, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s provider %s: %s", e.Provider, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a classified provider error.
func NewError(t models.ProviderType, category ErrorCategory, message string, err error) *Error {
	return &Error{Category: category, Provider: t, Message: message, Err: err}
}

// CategoryOf extracts the classification from an error chain, or "" when the
// chain carries no provider error.
func CategoryOf(err error) ErrorCategory {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Category
	}
	return ""
}

// ClassifyStatus maps an HTTP status from a backend into the taxonomy.
// retryAfter, when non-empty, is folded into the rate-limit message so the
// caller can surface the backend's retry hint.
func ClassifyStatus(t models.ProviderType, status int, detail, retryAfter string) *Error {
	switch {
	case status == 401:
		return NewError(t, CategoryAuthentication, authMessage(detail), nil)
	case status == 403:
		return NewError(t, CategoryAuthorization, orDefault(detail, "credential lacks permission for this resource"), nil)
	case status == 404:
		return NewError(t, CategoryNotFound, orDefault(detail, "requested model or resource does not exist"), nil)
	case status == 429:
		msg := orDefault(detail, "backend is throttling requests")
		if retryAfter != "" {
			msg = fmt.Sprintf("%s (retry after %s)", msg, retryAfter)
		}
		return NewError(t, CategoryRateLimited, msg, nil)
	case status >= 500:
		return NewError(t, CategoryServiceUnavailable, orDefault(detail, fmt.Sprintf("backend returned status %d", status)), nil)
	default:
		return NewError(t, CategoryServiceUnavailable, orDefault(detail, fmt.Sprintf("unexpected backend status %d", status)), nil)
	}
}

// ClassifyTransport maps a failed HTTP round trip into the taxonomy: local
// deadline expiry becomes Timeout, everything else NetworkUnreachable.
func ClassifyTransport(t models.ProviderType, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(t, CategoryTimeout, "request timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return NewError(t, CategoryTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(t, CategoryTimeout, "request timed out", err)
	}
	return NewError(t, CategoryNetworkUnreachable, "could not reach backend", err)
}

func authMessage(detail string) string {
	return orDefault(detail, "backend rejected the supplied credential")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
