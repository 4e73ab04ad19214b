package chat

import (
	"strings"
	"time"
)

// RetryConfig bounds the retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // retry attempts after the first call
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // backoff ceiling
}

// DefaultRetryConfig returns the defaults used for Gemini API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups transient-error substrings by category, matched
// case-insensitively against err.Error().
//
// String matching is used because the Gemini SDK does not expose sentinel
// errors for transient failures. Re-evaluate if the SDK grows typed errors.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "resource_exhausted", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "timeout", "temporary"},
}

// retryableError reports whether err looks transient.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(msg, group...) {
			return true
		}
	}
	return false
}

// containsAny reports whether s contains any of the substrings,
// case-insensitively.
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
