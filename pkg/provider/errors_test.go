package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindNotLoaded, "not_loaded"},
		{KindLoadFailure, "load_failure"},
		{KindConnectionFailed, "connection_failed"},
		{KindAuthRejected, "auth_rejected"},
		{KindContextTooLarge, "context_too_large"},
		{KindModelNotLoaded, "model_not_loaded"},
		{KindRateLimited, "rate_limited"},
		{KindCancelled, "cancelled"},
		{KindUnknown, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.kind.String())
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindOf(NewError(KindRateLimited, errors.New("429"))))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))

	// Wrapped classified errors still classify
	wrapped := fmt.Errorf("request failed: %w", NewError(KindAuthRejected, errors.New("401")))
	assert.Equal(t, KindAuthRejected, KindOf(wrapped))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(NewError(KindRateLimited, nil)))
	assert.True(t, Transient(NewError(KindConnectionFailed, nil)))
	assert.False(t, Transient(NewError(KindAuthRejected, nil)))
	assert.False(t, Transient(NewError(KindContextTooLarge, nil)))
	assert.False(t, Transient(nil))
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected Kind
	}{
		{"unauthorized", 401, "invalid api key", KindAuthRejected},
		{"forbidden", 403, "denied", KindAuthRejected},
		{"rate limited", 429, "slow down", KindRateLimited},
		{"context overflow", 400, "This model's maximum context length is 4096 tokens", KindContextTooLarge},
		{"other bad request", 400, "malformed json", KindUnknown},
		{"missing model", 404, "model 'nope' not found", KindModelNotLoaded},
		{"server error", 500, "boom", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyHTTP(tt.status, http.Header{}, tt.body)
			assert.Equal(t, tt.expected, err.Kind)
		})
	}
}

func TestClassifyHTTPRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "2")

	err := classifyHTTP(429, header, "rate limited")
	assert.Equal(t, KindRateLimited, err.Kind)
	assert.Equal(t, 2*time.Second, err.RetryAfter)
	assert.Equal(t, 2*time.Second, RetryAfterOf(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))
}

func TestClassifyTransport(t *testing.T) {
	assert.Equal(t, KindCancelled, classifyTransport(context.Canceled).Kind)
	assert.Equal(t, KindConnectionFailed, classifyTransport(context.DeadlineExceeded).Kind)
	assert.Equal(t, KindConnectionFailed, classifyTransport(errors.New("dial tcp: connection refused")).Kind)
	assert.Equal(t, KindUnknown, classifyTransport(errors.New("something else")).Kind)
}

func TestLooksLikeContextOverflow(t *testing.T) {
	assert.True(t, looksLikeContextOverflow("maximum context length exceeded"))
	assert.True(t, looksLikeContextOverflow("please reduce the length of the messages"))
	assert.False(t, looksLikeContextOverflow("invalid temperature"))
}
