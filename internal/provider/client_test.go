package provider

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lamim/lessonforge/internal/config"
	"github.com/lamim/lessonforge/internal/llmerrors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient(baseURL string, streaming bool) *Client {
	cfg := &config.Config{
		Provider: config.ProviderConfig{
			Backend:               "openai",
			RequestTimeoutSeconds: 5,
			ConnectRetries:        2,
			ConnectRetryBaseMS:    10,
			SyntheticChunkWords:   3,
		},
		Backends: map[string]config.BackendConfig{
			"openai": {
				BaseURL:            baseURL,
				ModelName:          "test-model",
				Temperature:        0.7,
				TopP:               1.0,
				MaxOutputTokens:    256,
				RateLimitPerMinute: 600,
				UseStreaming:       streaming,
			},
		},
	}
	secrets := &config.Secrets{APIKeys: map[string]string{"generic": "test-key"}}
	return NewClient(cfg, secrets, nil, testLogger())
}

func TestGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"id": "test-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "Generated unit content here"},
				"finish_reason": "stop"
			}]
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL, false)
	text, err := client.Generate(context.Background(), "write something", Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Generated unit content here" {
		t.Errorf("text = %q", text)
	}
}

func TestGenerate_SyntheticRebroadcast(t *testing.T) {
	// A non-streaming backend still delivers incremental fragments whose
	// concatenation equals the full text.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "one two three four five six seven"}, "finish_reason": "stop"}]
		}`))
	}))
	defer server.Close()

	client := testClient(server.URL, false)

	var fragments []string
	text, err := client.Generate(context.Background(), "p", Options{OnDelta: func(d string) {
		fragments = append(fragments, d)
	}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(fragments) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(fragments))
	}
	if joined := strings.Join(fragments, ""); joined != text {
		t.Errorf("fragments join to %q, full text %q", joined, text)
	}
}

func TestGenerate_Streaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"streamed \"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := testClient(server.URL, true)

	var deltas []string
	text, err := client.Generate(context.Background(), "p", Options{OnDelta: func(d string) {
		deltas = append(deltas, d)
	}})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Hello streamed world" {
		t.Errorf("text = %q", text)
	}
	if len(deltas) != 3 {
		t.Errorf("expected 3 deltas, got %d: %v", len(deltas), deltas)
	}
}

func TestGenerate_RateLimitedThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "Rate limit exceeded"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "recovered"}, "finish_reason": "stop"}]}`))
	}))
	defer server.Close()

	client := testClient(server.URL, false)
	text, err := client.Generate(context.Background(), "p", Options{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q", text)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestGenerate_InvalidCredentialNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid API key"}}`))
	}))
	defer server.Close()

	client := testClient(server.URL, false)
	_, err := client.Generate(context.Background(), "p", Options{})
	if !llmerrors.Is(err, llmerrors.KindInvalidCredential) {
		t.Fatalf("expected invalid_credential, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestGenerate_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"choices": []}`},
		{"empty content", `{"choices": [{"message": {"role": "assistant", "content": ""}, "finish_reason": "stop"}]}`},
		{"content filtered", `{"choices": [{"message": {"role": "assistant", "content": "x"}, "finish_reason": "content_filter"}]}`},
		{"not json", `<html>oops</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := testClient(server.URL, false)
			_, err := client.Generate(context.Background(), "p", Options{})
			if !llmerrors.Is(err, llmerrors.KindMalformedResponse) {
				t.Errorf("expected malformed_response, got %v", err)
			}
		})
	}
}

func TestGenerate_ConfigurationErrors(t *testing.T) {
	logger := testLogger()
	secrets := &config.Secrets{APIKeys: map[string]string{"generic": "key"}}

	t.Run("no backend selected", func(t *testing.T) {
		cfg := &config.Config{Backends: map[string]config.BackendConfig{}}
		client := NewClient(cfg, secrets, nil, logger)
		_, err := client.Generate(context.Background(), "p", Options{})
		if !llmerrors.Is(err, llmerrors.KindConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("backend not configured", func(t *testing.T) {
		cfg := &config.Config{
			Provider: config.ProviderConfig{Backend: "ghost"},
			Backends: map[string]config.BackendConfig{},
		}
		client := NewClient(cfg, secrets, nil, logger)
		_, err := client.Generate(context.Background(), "p", Options{})
		if !llmerrors.Is(err, llmerrors.KindConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := &config.Config{
			Provider: config.ProviderConfig{Backend: "openai"},
			Backends: map[string]config.BackendConfig{
				"openai": {BaseURL: "http://localhost:1", ModelName: "m"},
			},
		}
		client := NewClient(cfg, &config.Secrets{APIKeys: map[string]string{}}, nil, logger)
		_, err := client.Generate(context.Background(), "p", Options{})
		if !llmerrors.Is(err, llmerrors.KindConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}

func TestGenerate_UnknownBackendKind(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderConfig{Backend: "mystery", RequestTimeoutSeconds: 5},
		Backends: map[string]config.BackendConfig{
			"mystery": {BaseURL: "http://localhost:1", ModelName: "m", RateLimitPerMinute: 600},
		},
	}
	client := NewClient(cfg, &config.Secrets{APIKeys: map[string]string{"generic": "key"}}, nil, testLogger())
	_, err := client.Generate(context.Background(), "p", Options{})
	if !llmerrors.Is(err, llmerrors.KindUnsupported) {
		t.Errorf("expected unsupported, got %v", err)
	}
}

func TestGenerate_CallerCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	client := testClient(server.URL, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Generate(ctx, "p", Options{})
	if !llmerrors.Is(err, llmerrors.KindAborted) {
		t.Errorf("expected aborted, got %v", err)
	}
}
