// Package llmerrors defines the common error taxonomy shared by the provider
// gateway and the retry policy. Backend-specific failures are normalized into
// a small set of kinds so callers never branch on raw HTTP details.
package llmerrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a generation failure.
type Kind string

const (
	KindRateLimited       Kind = "rate_limited"
	KindNetwork           Kind = "network"
	KindInvalidCredential Kind = "invalid_credential"
	KindMalformedResponse Kind = "malformed_response"
	KindUnsupported       Kind = "unsupported"
	KindConfiguration     Kind = "configuration"
	KindContentTooShort   Kind = "content_too_short"
	KindAborted           Kind = "aborted"
	KindUnknown           Kind = "unknown"
)

// Error is the normalized error returned by the provider gateway.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, KindUnknown if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

var rateLimitPatterns = []string{
	"rate limit",
	"quota",
	"too many requests",
	"resource exhausted",
}

var networkPatterns = []string{
	"network",
	"fetch",
	"connection",
}

// FromHTTP normalizes an HTTP failure into the taxonomy based on status code
// first, then message pattern matching.
func FromHTTP(statusCode int, message string) *Error {
	lower := strings.ToLower(message)

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return &Error{Kind: KindRateLimited, StatusCode: statusCode, Message: message}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindInvalidCredential, StatusCode: statusCode, Message: message}
	}

	for _, p := range rateLimitPatterns {
		if strings.Contains(lower, p) {
			return &Error{Kind: KindRateLimited, StatusCode: statusCode, Message: message}
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(lower, p) {
			return &Error{Kind: KindNetwork, StatusCode: statusCode, Message: message}
		}
	}

	return &Error{Kind: KindUnknown, StatusCode: statusCode, Message: message}
}
