// Package llm holds the generation collaborators: an OpenAI-compatible chat client
// (OpenAI, Groq) and an offline extractive fallback.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

// ChatClient talks to a /chat/completions endpoint.
type ChatClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

type ChatConfig struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// NewChatClient reads the API key from cfg.APIKeyEnv. A missing key is a configuration error.
func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, rerrors.NewConfigurationf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ChatClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      key,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *ChatClient) Model() string { return c.model }

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate returns the full completion for messages.
func (c *ChatClient) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateStream reads server-sent completion chunks. The channel closes after a token
// with Done set; a token with Error set is always the last one.
func (c *ChatClient) GenerateStream(ctx context.Context, messages []domain.Message) (<-chan domain.StreamToken, error) {
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.StreamToken, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		send := func(tok domain.StreamToken) bool {
			select {
			case ch <- tok:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := readEvents(resp.Body, func(data string) (bool, error) {
			if data == "[DONE]" {
				return true, nil
			}
			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return false, fmt.Errorf("decode stream chunk: %w", err)
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !send(domain.StreamToken{Content: choice.Delta.Content}) {
					return true, ctx.Err()
				}
			}
			return false, nil
		})
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			send(domain.StreamToken{Done: true, Error: err})
			return
		}
		send(domain.StreamToken{Done: true})
	}()
	return ch, nil
}

func (c *ChatClient) post(ctx context.Context, messages []domain.Message, stream bool) (*http.Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("chat completion failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// readEvents calls fn with the data of each server-sent event until fn reports done,
// fn fails, or the body ends.
func readEvents(r io.Reader, fn func(data string) (bool, error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data []string
	flush := func() (bool, error) {
		if len(data) == 0 {
			return false, nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		return fn(payload)
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			done, err := flush()
			if err != nil || done {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(rest, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err := flush()
	return err
}
