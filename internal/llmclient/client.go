// Package llmclient is a concrete llm.Embedder/llm.Generator implementation
// against an OpenAI-compatible HTTP API: a retry-with-backoff request loop
// over the chat-completions and embeddings endpoints with bearer-token auth.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultChatPath  = "/chat/completions"
	defaultEmbedPath = "/embeddings"
)

// RetryConfig controls the backoff applied between retried requests.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig matches the provider's published defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Client talks to an OpenAI-compatible API over HTTP. It satisfies both
// llm.Embedder and llm.Generator so a single instance can serve extraction,
// reranking, and embedding calls.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig
}

// New creates a Client. baseURL defaults to the public OpenAI endpoint.
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate implements llm.Generator.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, defaultChatPath, body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements llm.Embedder.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := c.EmbedMany(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany implements llm.Embedder.
func (c *Client) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, defaultEmbedPath, body)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors, want %d", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *Client) doWithRetry(ctx context.Context, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("retryable status %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("api error: status %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.retryConfig.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.retryConfig.Multiplier)
		if delay > c.retryConfig.MaxDelay {
			return c.retryConfig.MaxDelay
		}
	}
	return delay
}
