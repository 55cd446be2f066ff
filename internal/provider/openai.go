package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lamim/lessonforge/internal/config"
	"github.com/lamim/lessonforge/internal/llmerrors"
)

func openaiEndpoint(baseURL string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + "chat/completions"
}

func (c *Client) openaiRequest(backend config.BackendConfig, prompt string, stream bool) chatCompletionRequest {
	return chatCompletionRequest{
		Model:       backend.ModelName,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: backend.Temperature,
		TopP:        backend.TopP,
		MaxTokens:   backend.MaxOutputTokens,
		N:           1,
		Stream:      stream,
	}
}

func (c *Client) openaiDo(ctx context.Context, backend config.BackendConfig, apiKey string, req chatCompletionRequest, accept string) (*http.Response, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", openaiEndpoint(backend.BaseURL), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if accept != "" {
		httpReq.Header.Set("Accept", accept)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindNetwork, err, fmt.Sprintf("request failed: %v", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)

		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, llmerrors.FromHTTP(httpResp.StatusCode, errResp.Error.Message)
		}
		return nil, llmerrors.FromHTTP(httpResp.StatusCode,
			fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(body)))
	}

	return httpResp, nil
}

// openaiComplete fetches the full response in one round trip.
func (c *Client) openaiComplete(ctx context.Context, backend config.BackendConfig, apiKey, prompt string) (string, error) {
	httpResp, err := c.openaiDo(ctx, backend, apiKey, c.openaiRequest(backend, prompt, false), "")
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	var resp chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", llmerrors.Wrap(llmerrors.KindMalformedResponse, err, "failed to parse response")
	}
	if len(resp.Choices) == 0 {
		return "", llmerrors.New(llmerrors.KindMalformedResponse, "no choices returned in response")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", llmerrors.New(llmerrors.KindMalformedResponse, "response was content filtered")
	}
	if choice.Message.Content == "" {
		return "", llmerrors.New(llmerrors.KindMalformedResponse, "empty completion content")
	}
	return choice.Message.Content, nil
}

// openaiStreaming issues a streaming request, invoking onDelta once per
// decoded fragment and accumulating the full text for the return value.
func (c *Client) openaiStreaming(ctx context.Context, backend config.BackendConfig, apiKey, prompt string, onDelta func(string)) (string, error) {
	httpResp, err := c.openaiDo(ctx, backend, apiKey, c.openaiRequest(backend, prompt, true), "text/event-stream")
	if err != nil {
		return "", err
	}
	defer httpResp.Body.Close()

	var content strings.Builder
	var filtered bool

	extract := func(payload []byte) (string, error) {
		var chunk streamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return "", err
		}
		if len(chunk.Choices) == 0 {
			return "", nil
		}
		if fr := chunk.Choices[0].FinishReason; fr != nil && *fr == "content_filter" {
			filtered = true
		}
		return chunk.Choices[0].Delta.Content, nil
	}

	err = decodeSSE(httpResp.Body, extract, func(fragment string) {
		content.WriteString(fragment)
		onDelta(fragment)
	}, c.logger)
	if err != nil {
		return "", llmerrors.Wrap(llmerrors.KindNetwork, err, "stream interrupted")
	}
	if filtered {
		return "", llmerrors.New(llmerrors.KindMalformedResponse, "response was content filtered")
	}
	if content.Len() == 0 {
		return "", llmerrors.New(llmerrors.KindMalformedResponse, "empty stream body")
	}
	return content.String(), nil
}
