package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorCode is a machine readable failure class for model calls
type ErrorCode string

const (
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeQuotaExceeded    ErrorCode = "QUOTA_EXCEEDED"
	CodeServiceError     ErrorCode = "SERVICE_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeEmptyResponse    ErrorCode = "EMPTY_RESPONSE"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeForbidden        ErrorCode = "FORBIDDEN"
	CodeModelNotFound    ErrorCode = "MODEL_NOT_FOUND"
	CodeBadRequest       ErrorCode = "BAD_REQUEST"
	CodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Error is a classified model invocation failure
type Error struct {
	Code       ErrorCode
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a classified retryable failure
func IsRetryable(err error) bool {
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr.Retryable
	}
	return false
}

// errorForStatus maps a provider HTTP status to a classified error
func errorForStatus(status int, body []byte) *Error {
	lower := strings.ToLower(string(body))
	switch {
	case status == http.StatusTooManyRequests:
		if strings.Contains(lower, "quota") {
			return &Error{Code: CodeQuotaExceeded, StatusCode: status, Retryable: true,
				Message: "Gemini API quota exhausted"}
		}
		return &Error{Code: CodeRateLimit, StatusCode: status, Retryable: true,
			Message: "Gemini API rate limit exceeded"}
	case status == http.StatusForbidden:
		if strings.Contains(lower, "quota") {
			return &Error{Code: CodeQuotaExceeded, StatusCode: status, Retryable: true,
				Message: "Gemini API quota exhausted"}
		}
		return &Error{Code: CodeForbidden, StatusCode: status,
			Message: "Gemini API access denied - check API key permissions"}
	case status == http.StatusUnauthorized:
		return &Error{Code: CodeUnauthorized, StatusCode: status, Message: "invalid Gemini API key"}
	case status == http.StatusNotFound:
		return &Error{Code: CodeModelNotFound, StatusCode: status, Message: "model not found"}
	case status == http.StatusBadRequest:
		return &Error{Code: CodeBadRequest, StatusCode: status, Message: truncate(string(body), 300)}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Code: CodeTimeout, StatusCode: status, Retryable: true,
			Message: fmt.Sprintf("Gemini request timed out (status %d)", status)}
	case status >= 500:
		return &Error{Code: CodeServiceError, StatusCode: status, Retryable: true,
			Message: fmt.Sprintf("Gemini service temporarily unavailable (status %d)", status)}
	default:
		return &Error{Code: CodeUnknown, StatusCode: status,
			Message: fmt.Sprintf("Gemini request failed with status %d: %s", status, truncate(string(body), 300))}
	}
}

// transientMarkers are matched against unstructured error text
var transientMarkers = []string{
	"rate limit",
	"quota",
	"429",
	"503",
	"500",
	"resource exhausted",
	"resource_exhausted",
	"deadline exceeded",
	"temporarily",
	"timeout",
	"overloaded",
	"connection reset",
	"connection refused",
	"eof",
}

// Classify turns any error from a Generator into an *Error. Structured errors
// pass through unchanged; everything else is classified by its text.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Retryable: true, Message: "request timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Code: CodeCanceled, Message: "request canceled", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Code: CodeTimeout, Retryable: true, Message: err.Error(), Err: err}
	}

	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			code := CodeServiceError
			switch {
			case strings.Contains(text, "quota"):
				code = CodeQuotaExceeded
			case strings.Contains(text, "rate limit") || strings.Contains(text, "429"):
				code = CodeRateLimit
			case strings.Contains(text, "timeout") || strings.Contains(text, "deadline"):
				code = CodeTimeout
			}
			return &Error{Code: code, Retryable: true, Message: err.Error(), Err: err}
		}
	}

	return &Error{Code: CodeUnknown, Message: err.Error(), Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
