// Package real implements domain.AIClient against a single OpenAI-compatible
// HTTP provider, with per-model circuit breaking and exponential backoff.
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/cvmatch/matching-engine/internal/adapter/ai"
	"github.com/cvmatch/matching-engine/internal/config"
	"github.com/cvmatch/matching-engine/internal/domain"
	"github.com/cvmatch/matching-engine/internal/observability"
)

// Client is a minimal OpenAI-compatible chat-completions + embeddings
// client implementing domain.AIClient.
type Client struct {
	cfg      config.Config
	http     *http.Client
	breakers *ai.CircuitBreakerManager
}

// New constructs a Client from configuration.
func New(cfg config.Config) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: 60 * time.Second},
		breakers: ai.NewCircuitBreakerManager(),
	}
}

func (c *Client) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Seed        int           `json:"seed,omitempty"`
	ResponseFmt *responseFmt  `json:"response_format,omitempty"`
}

type responseFmt struct {
	Type string `json:"type"`
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

// ChatJSON calls the chat-completions endpoint at temperature 0 with a fixed
// seed, requesting a strict JSON object response, and retries on transient
// upstream failures through an exponential backoff guarded by a per-model
// circuit breaker.
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	breaker := c.breakers.GetBreaker(c.cfg.ExtractModel)
	if !breaker.ShouldAttempt() {
		return "", fmt.Errorf("%w: circuit open for model %s", domain.ErrUpstreamUnavail, c.cfg.ExtractModel)
	}

	lg := observability.LoggerFromContext(ctx)
	body := chatRequest{
		Model: c.cfg.ExtractModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0,
		Seed:        1,
		ResponseFmt: &responseFmt{Type: "json_object"},
	}

	var result string
	op := func() error {
		out, retryable, err := c.doChat(ctx, body)
		if err != nil {
			if retryable {
				return err
			}
			return backoff.Permanent(err)
		}
		result = out
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(c.getBackoffConfig(), ctx))
	if err != nil {
		breaker.RecordFailure()
		lg.Warn("chat completion failed", "model", c.cfg.ExtractModel, "error", err)
		return "", err
	}
	breaker.RecordSuccess()
	return result, nil
}

func (c *Client) doChat(ctx context.Context, body chatRequest) (string, bool, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", false, fmt.Errorf("%w: marshal chat request: %v", domain.ErrInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.OpenAIBaseURL, "/")+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", true, fmt.Errorf("%w: status %d", domain.ErrUpstreamRateLimit, resp.StatusCode)
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusGatewayTimeout:
		return "", true, fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavail, resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", false, fmt.Errorf("%w: status %d: %s", domain.ErrInvalidArgument, resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", true, fmt.Errorf("%w: parse chat response: %v", domain.ErrSchemaInvalid, err)
	}
	if len(parsed.Choices) == 0 {
		return "", true, fmt.Errorf("%w: empty choices", domain.ErrSchemaInvalid)
	}
	return parsed.Choices[0].Message.Content, false, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed calls the embeddings endpoint in batches of 64.
func (c *Client) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	const batchSize = 64
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx domain.Context, texts []string) ([][]float32, error) {
	breaker := c.breakers.GetBreaker(c.cfg.EmbeddingsModel)
	if !breaker.ShouldAttempt() {
		return nil, fmt.Errorf("%w: circuit open for model %s", domain.ErrUpstreamUnavail, c.cfg.EmbeddingsModel)
	}

	var result [][]float32
	op := func() error {
		vecs, retryable, err := c.doEmbed(ctx, texts)
		if err != nil {
			if retryable {
				return err
			}
			return backoff.Permanent(err)
		}
		result = vecs
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(c.getBackoffConfig(), ctx)); err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	breaker.RecordSuccess()
	return result, nil
}

func (c *Client) doEmbed(ctx context.Context, texts []string) ([][]float32, bool, error) {
	b, err := json.Marshal(embedRequest{Model: c.cfg.EmbeddingsModel, Input: texts})
	if err != nil {
		return nil, false, fmt.Errorf("%w: marshal embed request: %v", domain.ErrInternal, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.OpenAIBaseURL, "/")+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: status %d", domain.ErrUpstreamRateLimit, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavail, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("%w: status %d: %s", domain.ErrInvalidArgument, resp.StatusCode, string(data))
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, true, fmt.Errorf("%w: parse embed response: %v", domain.ErrSchemaInvalid, err)
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, false, nil
}
