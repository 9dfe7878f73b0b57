package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a provider failure so callers can decide between
// surfacing, retrying, or trimming context.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotLoaded
	KindLoadFailure
	KindConnectionFailed
	KindAuthRejected
	KindContextTooLarge
	KindModelNotLoaded
	KindRateLimited
	KindCancelled
)

// String returns the string representation of the failure kind
func (k Kind) String() string {
	switch k {
	case KindNotLoaded:
		return "not_loaded"
	case KindLoadFailure:
		return "load_failure"
	case KindConnectionFailed:
		return "connection_failed"
	case KindAuthRejected:
		return "auth_rejected"
	case KindContextTooLarge:
		return "context_too_large"
	case KindModelNotLoaded:
		return "model_not_loaded"
	case KindRateLimited:
		return "rate_limited"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure. RateLimited errors may carry a
// retry-after hint from the backend.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a failure kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf creates a classified error from a format string.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from an error chain. Context
// cancellation maps to KindCancelled even when unwrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// RetryAfterOf returns the retry-after hint carried by a rate-limit error,
// or zero.
func RetryAfterOf(err error) time.Duration {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.RetryAfter
	}
	return 0
}

// Transient reports whether the failure may succeed on a plain retry.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindConnectionFailed:
		return true
	}
	return false
}

// classifyHTTP maps an HTTP error response to a provider error.
func classifyHTTP(status int, header http.Header, body string) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Errorf(KindAuthRejected, "backend rejected credentials (status %d): %s", status, body)
	case status == http.StatusTooManyRequests:
		e := Errorf(KindRateLimited, "rate limited (status %d): %s", status, body)
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
		return e
	case status == http.StatusNotFound && strings.Contains(strings.ToLower(body), "model"):
		return Errorf(KindModelNotLoaded, "model not available (status %d): %s", status, body)
	case status == http.StatusBadRequest && looksLikeContextOverflow(body):
		return Errorf(KindContextTooLarge, "prompt exceeds context limit (status %d): %s", status, body)
	default:
		return Errorf(KindUnknown, "request failed with status %d: %s", status, body)
	}
}

// classifyTransport maps a transport-level failure to a provider error.
func classifyTransport(err error) *Error {
	if errors.Is(err, context.Canceled) {
		return NewError(KindCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindConnectionFailed, err)
	}
	// Older transports report cancellation as a string only
	if msg := err.Error(); strings.Contains(msg, "context canceled") || strings.Contains(msg, "request canceled") {
		return NewError(KindCancelled, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(KindConnectionFailed, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewError(KindConnectionFailed, err)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return NewError(KindConnectionFailed, err)
	}
	return NewError(KindUnknown, err)
}

// looksLikeContextOverflow detects the phrasing backends use for an
// oversized prompt. The match is deliberately loose; a miss only costs
// one skipped trim-and-retry.
func looksLikeContextOverflow(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context window") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "too many tokens") ||
		strings.Contains(lower, "reduce the length")
}

// parseRetryAfter handles the delta-seconds form of the Retry-After header.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
