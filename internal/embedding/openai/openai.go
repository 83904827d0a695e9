package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	rerrors "podcastrag/internal/errors"
)

// Client is an OpenAI-compatible embeddings client. It also understands the
// Ollama-native {"embedding": [...]} response shape.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int

	mu        sync.Mutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// AllowMissingKey permits keyless local servers such as Ollama.
	AllowMissingKey bool
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" && !cfg.AllowMissingKey {
		return nil, rerrors.NewConfigurationf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		client:     &http.Client{Timeout: t},
		maxRetries: 5,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Prepare is not required for remote embedding. Dimension is learned on first embed.
func (c *Client) Prepare(corpus []string) error { return nil }

// Dimension returns the dimensionality of the produced embedding vectors, 0 until the first call.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

type embedRequest struct {
	Input  string `json:"input,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model"`
}

// errRetry marks a transient failure worth another attempt.
var errRetry = errors.New("retryable")

// Embed returns an embedding vector for the given text, retrying 429 and 5xx responses
// with exponential backoff or the server's Retry-After.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		vec, wait, err := c.embedOnce(ctx, text)
		if err == nil {
			c.mu.Lock()
			if c.dimension == 0 {
				c.dimension = len(vec)
			}
			c.mu.Unlock()
			return vec, nil
		}
		if !errors.Is(err, errRetry) {
			return nil, err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}
		if wait == 0 {
			wait = retryDelay(attempt)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("openai embeddings: giving up after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float64, time.Duration, error) {
	data, err := json.Marshal(embedRequest{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("%w: %v", errRetry, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		var wait time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			wait = time.Duration(secs) * time.Second
		}
		return nil, wait, fmt.Errorf("%w: %s", errRetry, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, 0, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errRetry, err)
	}
	var openaiOut struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding, 0, nil
		}
	}
	var ollamaOut struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return ollamaOut.Embedding, 0, nil
	}
	return nil, 0, errors.New("no embedding returned")
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
