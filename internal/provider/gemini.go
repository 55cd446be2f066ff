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

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiError struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// geminiComplete fetches a full response from a Gemini-style generateContent
// endpoint. The API offers no SSE surface here, so incremental delivery is
// synthesized by the caller.
func (c *Client) geminiComplete(ctx context.Context, backend config.BackendConfig, apiKey, prompt string) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     backend.Temperature,
			TopP:            backend.TopP,
			MaxOutputTokens: backend.MaxOutputTokens,
		},
	}

	buf := getBuffer()
	defer putBuffer(buf)
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(backend.BaseURL, "/") +
		"/models/" + backend.ModelName + ":generateContent?key=" + apiKey

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", llmerrors.Wrap(llmerrors.KindNetwork, err, fmt.Sprintf("request failed: %v", err))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", llmerrors.Wrap(llmerrors.KindNetwork, err, "failed to read response")
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp geminiError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", llmerrors.FromHTTP(httpResp.StatusCode, errResp.Error.Message)
		}
		return "", llmerrors.FromHTTP(httpResp.StatusCode,
			fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, string(body)))
	}

	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", llmerrors.Wrap(llmerrors.KindMalformedResponse, err, "failed to parse response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", llmerrors.New(llmerrors.KindMalformedResponse,
			"response was content filtered: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", llmerrors.New(llmerrors.KindMalformedResponse, "no candidates returned in response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", llmerrors.New(llmerrors.KindMalformedResponse, "empty candidate content")
	}
	return text.String(), nil
}
