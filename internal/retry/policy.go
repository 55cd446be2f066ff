// Package retry implements the unit-level retry decision and backoff policy.
// It is pure: no I/O, no shared mutable state.
package retry

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/lamim/lessonforge/internal/llmerrors"
)

const (
	// DefaultMaxAttempts is the unit-level attempt ceiling.
	DefaultMaxAttempts = 5
	// DefaultRetryDelayBase is the base delay for exponential backoff.
	DefaultRetryDelayBase = 2 * time.Second
	// DefaultMaxRetryDelayCap bounds the worst-case wait between attempts.
	DefaultMaxRetryDelayCap = 30 * time.Second
	// DefaultRateLimitDelayBase is the base delay for rate-limited errors,
	// which grow slower (1.5^n) since limits often clear within a fixed window.
	DefaultRateLimitDelayBase = 5 * time.Second
	// MaxJitter is the upper bound of the random jitter added to backoff.
	MaxJitter = time.Second
)

// transientPatterns are error-message signatures treated as retryable even
// when the error carries no recognized kind.
var transientPatterns = []string{
	"timeout",
	"overloaded",
	"unavailable",
	"internal error",
	"bad gateway",
}

// Policy decides whether and when a failed attempt should be retried.
type Policy struct {
	MaxAttempts        int
	RetryDelayBase     time.Duration
	MaxRetryDelayCap   time.Duration
	RateLimitDelayBase time.Duration
}

// Default returns the standard policy.
func Default() Policy {
	return Policy{
		MaxAttempts:        DefaultMaxAttempts,
		RetryDelayBase:     DefaultRetryDelayBase,
		MaxRetryDelayCap:   DefaultMaxRetryDelayCap,
		RateLimitDelayBase: DefaultRateLimitDelayBase,
	}
}

// ShouldRetry reports whether another attempt should be made after err on the
// given 1-based attempt number.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}

	switch llmerrors.KindOf(err) {
	case llmerrors.KindRateLimited, llmerrors.KindNetwork, llmerrors.KindContentTooShort:
		return true
	case llmerrors.KindInvalidCredential,
		llmerrors.KindMalformedResponse,
		llmerrors.KindUnsupported,
		llmerrors.KindConfiguration,
		llmerrors.KindAborted:
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// NextDelay computes the wait before the next attempt. attempt is the 1-based
// attempt number that just failed.
func (p Policy) NextDelay(attempt int, rateLimited bool) time.Duration {
	if rateLimited {
		return time.Duration(float64(p.RateLimitDelayBase) * math.Pow(1.5, float64(attempt)))
	}

	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * p.RetryDelayBase
	jitter := time.Duration(rand.Int63n(int64(MaxJitter)))
	delay := backoff + jitter
	if delay > p.MaxRetryDelayCap {
		delay = p.MaxRetryDelayCap
	}
	return delay
}
