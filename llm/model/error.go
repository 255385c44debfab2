package model

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Laisky/errors/v2"
)

// ErrorCode is the shared provider error taxonomy. Callers branch on the
// code only; vendor-specific detail stays inside Detail.
type ErrorCode string

const (
	// ErrRateLimited marks vendor throttling. Caller may retry with backoff;
	// the core never retries automatically.
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrAuthFailed marks bad or expired credentials. Fatal for the current
	// request, not retryable without operator intervention.
	ErrAuthFailed ErrorCode = "AUTH_FAILED"
	// ErrInvalidRequest marks malformed parameters or unsupported modality.
	// Fatal, indicates a caller or config bug.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrTimeout marks a vendor or tool call exceeding its deadline. Safe to
	// retry once.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrUnknown marks an unclassified vendor exception.
	ErrUnknown ErrorCode = "UNKNOWN"
)

// ProviderError is the single error type adapters raise. Message is safe to
// show to end users; Detail carries the technical explanation for logs.
type ProviderError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	cause   error
}

// NewProviderError builds a ProviderError without an underlying cause.
func NewProviderError(code ErrorCode, message, detail string) *ProviderError {
	return &ProviderError{Code: code, Message: message, Detail: detail}
}

// WrapProviderError attaches a vendor error as the cause, preserving it for
// errors.Is/As chains and diagnostics.
func WrapProviderError(cause error, code ErrorCode, message string) *ProviderError {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &ProviderError{Code: code, Message: message, Detail: detail, cause: cause}
}

func (e *ProviderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.cause
}

// Retryable reports whether a caller may reasonably retry the request.
func (e *ProviderError) Retryable() bool {
	return e.Code == ErrTimeout || e.Code == ErrRateLimited
}

// AsProviderError unwraps err into a *ProviderError when one is in the chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeFromHTTPStatus maps an HTTP status onto the shared taxonomy. Adapters
// use it for vendors whose SDK surfaces raw status codes.
func CodeFromHTTPStatus(status int) ErrorCode {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthFailed
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrTimeout
	case status >= 400 && status < 500:
		return ErrInvalidRequest
	default:
		return ErrUnknown
	}
}

// CodeFromContextErr classifies context cancellation and deadline errors.
// Returns ErrUnknown for errors that are not context errors.
func CodeFromContextErr(err error) ErrorCode {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrTimeout
	default:
		return ErrUnknown
	}
}
