// Package openai is a minimal client for the OpenAI embeddings and chat
// completion endpoints.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultBaseURL = "https://api.openai.com"

	// EmbeddingModel produces 1536-dimension vectors; the user_documents
	// embedding column is sized to match.
	EmbeddingModel = "text-embedding-ada-002"
	ChatModel      = "gpt-3.5-turbo"
)

// Client calls the OpenAI API. All calls go through a circuit breaker so a
// degraded upstream fails fast instead of stalling sync cycles.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used in tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.http.SetBaseURL(baseURL)
	}
}

// New creates an OpenAI client.
func New(apiKey string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetAuthToken(apiKey).
			SetTimeout(60 * time.Second),
		log: log.With().Str("component", "openai").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:    "openai",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embeddingResponse
	err := c.post(ctx, "/v1/embeddings", embeddingRequest{
		Model: EmbeddingModel,
		Input: text,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding response has no data")
	}
	return result.Data[0].Embedding, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete runs a chat completion with a system prompt and a user message
// and returns the assistant's reply.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var result chatResponse
	err := c.post(ctx, "/v1/chat/completions", chatRequest{
		Model: ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}, &result)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	_, err := c.breaker.Execute(func() (*resty.Response, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(result).
			Post(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
		}
		return resp, nil
	})
	return err
}
