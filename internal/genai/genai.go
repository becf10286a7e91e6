// Package genai provides the optional LLM polish gateway. It rewrites a
// rendered template for tone while preserving its factual content; the engine
// treats it as best-effort and falls back to the verbatim template on any
// failure.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const polishSystemPrompt = "You rewrite customer-service messages for a UAE business-setup and visa " +
	"consultancy. Rephrase the given message to sound warm and natural for WhatsApp. " +
	"Keep every fact, number, and question exactly as given. Do not add offers, claims, " +
	"promises, or new information. Reply with the rewritten message only."

// chatService is the minimal completion surface, extracted for testing.
type chatService interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Opts holds configuration options for the polish client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the polish client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// Client implements templates.Polisher on top of the OpenAI chat API.
type Client struct {
	chat  chatService
	model string
}

// NewClient initializes a polish client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	slog.Debug("genai.NewClient: polish client created", "model", cfg.Model)
	return &Client{chat: openai.NewClient(cfg.APIKey), model: cfg.Model}, nil
}

// Polish rewrites rendered text through the LLM. Temperature is pinned to
// zero so repeated polish calls stay stable.
func (c *Client) Polish(ctx context.Context, rendered string, variables map[string]string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: polishSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: rendered},
		},
	}
	resp, err := c.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("polish completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("polish completion returned no choices")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("polish completion returned empty text")
	}
	return out, nil
}
