// Package provider implements the gateway to external text-generation
// services. It normalizes backend failures into the llmerrors taxonomy and
// presents a uniform incremental-delivery contract whether or not the
// selected backend actually streams.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/lamim/lessonforge/internal/config"
	"github.com/lamim/lessonforge/internal/llmerrors"
	"github.com/lamim/lessonforge/internal/metrics"
)

// DefaultRequestTimeout bounds a generation call when neither the caller nor
// the configuration specifies one.
const DefaultRequestTimeout = 150 * time.Second

// Options controls a single generation call.
type Options struct {
	// OnDelta, when set, receives each text fragment as it is produced. Only
	// the delta is delivered; accumulation is the caller's job.
	OnDelta func(delta string)
	// Timeout overrides the configured request timeout when positive.
	Timeout time.Duration
}

// Gateway is the narrow generation capability the orchestrator depends on.
type Gateway interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Client dispatches generation calls to the configured backend.
type Client struct {
	providerCfg config.ProviderConfig
	backends    map[string]config.BackendConfig
	secrets     *config.Secrets
	httpClient  *http.Client
	limiters    *RateLimiterPool
	collector   *metrics.Collector
	logger      *slog.Logger
}

// NewClient creates a new provider client. collector may be nil.
func NewClient(cfg *config.Config, secrets *config.Secrets, collector *metrics.Collector, logger *slog.Logger) *Client {
	return &Client{
		providerCfg: cfg.Provider,
		backends:    cfg.Backends,
		secrets:     secrets,
		// Per-call deadlines come from context; no transport-level timeout on
		// top of them.
		httpClient: &http.Client{},
		limiters:   NewRateLimiterPool(),
		collector:  collector,
		logger:     logger,
	}
}

// Generate runs one generation call against the active backend, applying the
// gateway-internal connection retry for rate-limit class failures. This retry
// is distinct from the unit-level retry the orchestrator applies.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	name := c.providerCfg.Backend
	if name == "" {
		return "", llmerrors.New(llmerrors.KindConfiguration, "no backend selected")
	}
	backend, ok := c.backends[name]
	if !ok {
		return "", llmerrors.New(llmerrors.KindConfiguration, "backend %q is not configured", name)
	}
	apiKey := c.secrets.GetAPIKey(backend.BaseURL)
	if apiKey == "" {
		return "", llmerrors.New(llmerrors.KindConfiguration, "no API key configured for backend %q", name)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(c.providerCfg.RequestTimeoutSeconds) * time.Second
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitStart := time.Now()
	if err := c.limiters.Wait(callCtx, name, backend.RateLimitPerMinute); err != nil {
		if ab := c.abortError(ctx, callCtx, timeout); ab != nil {
			return "", ab
		}
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	c.collector.RecordRateLimiterWait(name, time.Since(waitStart))

	baseDelay := time.Duration(c.providerCfg.ConnectRetryBaseMS) * time.Millisecond
	requestStart := time.Now()

	var lastErr error
	for attempt := 0; attempt <= c.providerCfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
			jitter := time.Duration(float64(backoff) * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1))
			sleep := backoff + jitter

			c.logger.Warn("Retrying provider request",
				"attempt", attempt,
				"max_retries", c.providerCfg.ConnectRetries,
				"backoff", sleep,
				"backend", name)

			select {
			case <-callCtx.Done():
				return "", c.abortError(ctx, callCtx, timeout)
			case <-time.After(sleep):
			}
		}

		text, err := c.dispatch(callCtx, name, backend, apiKey, prompt, opts)
		if err == nil {
			c.collector.RecordProviderRequest(name, time.Since(requestStart), true)
			return text, nil
		}

		if ab := c.abortError(ctx, callCtx, timeout); ab != nil {
			c.collector.RecordProviderRequest(name, time.Since(requestStart), false)
			return "", ab
		}

		lastErr = err
		// Only rate-limit class failures (429/503) get the low-level retry;
		// everything else surfaces to the unit-level policy.
		if !llmerrors.Is(err, llmerrors.KindRateLimited) {
			c.collector.RecordProviderRequest(name, time.Since(requestStart), false)
			return "", err
		}
	}

	c.collector.RecordProviderRequest(name, time.Since(requestStart), false)
	return "", fmt.Errorf("connection retries exhausted: %w", lastErr)
}

// dispatch routes to the backend implementation and applies the synthetic
// chunk rebroadcast when the backend delivered the full text at once.
func (c *Client) dispatch(ctx context.Context, name string, backend config.BackendConfig, apiKey, prompt string, opts Options) (string, error) {
	switch name {
	case "openai":
		if backend.UseStreaming && opts.OnDelta != nil {
			return c.openaiStreaming(ctx, backend, apiKey, prompt, opts.OnDelta)
		}
		text, err := c.openaiComplete(ctx, backend, apiKey, prompt)
		if err != nil {
			return "", err
		}
		c.rebroadcast(ctx, text, opts.OnDelta)
		return text, nil
	case "gemini":
		text, err := c.geminiComplete(ctx, backend, apiKey, prompt)
		if err != nil {
			return "", err
		}
		c.rebroadcast(ctx, text, opts.OnDelta)
		return text, nil
	default:
		return "", llmerrors.New(llmerrors.KindUnsupported, "unknown backend %q", name)
	}
}

// rebroadcast replays a fully-fetched response in fixed-size word chunks with
// a small delay, so consumers observe the same incremental contract as with a
// real stream.
func (c *Client) rebroadcast(ctx context.Context, text string, onDelta func(string)) {
	if onDelta == nil {
		return
	}
	chunkWords := c.providerCfg.SyntheticChunkWords
	if chunkWords <= 0 {
		chunkWords = 12
	}
	delay := time.Duration(c.providerCfg.SyntheticChunkDelayMS) * time.Millisecond

	words := strings.Fields(text)
	for i := 0; i < len(words); i += chunkWords {
		end := i + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		onDelta(chunk)

		if end < len(words) && delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// abortError distinguishes caller cancellation and timeout from ordinary
// failures. Both map to the aborted class, which is never retried.
func (c *Client) abortError(parent, callCtx context.Context, timeout time.Duration) *llmerrors.Error {
	if parent.Err() != nil {
		return llmerrors.New(llmerrors.KindAborted, "generation cancelled")
	}
	if callCtx.Err() == context.DeadlineExceeded {
		return llmerrors.New(llmerrors.KindAborted, "request timed out after %s", timeout)
	}
	return nil
}
