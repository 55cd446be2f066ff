package provider

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-backend rate limiters.
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int
	mu       sync.Mutex
}

// NewRateLimiterPool creates a new rate limiter pool.
func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

// GetOrCreate returns an existing rate limiter or creates a new one. A limiter
// created with a different rate is kept as-is with a warning.
func (p *RateLimiterPool) GetOrCreate(backend string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[backend]; exists {
		if existing, ok := p.rates[backend]; ok && existing != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, using existing rate",
				"backend", backend,
				"existing_rpm", existing,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 5
	if burst < 5 {
		burst = 5
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[backend] = limiter
	p.rates[backend] = requestsPerMinute

	slog.Debug("Created rate limiter", "backend", backend, "rpm", requestsPerMinute, "burst", burst)
	return limiter
}

// Wait blocks until the rate limiter allows the next request.
func (p *RateLimiterPool) Wait(ctx context.Context, backend string, requestsPerMinute int) error {
	return p.GetOrCreate(backend, requestsPerMinute).Wait(ctx)
}
