package llm

import (
	"context"
	"time"
)

// Message is one turn in a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model    string
	Messages []Message

	// ForceJSON asks the provider for a JSON-object response format.
	ForceJSON bool

	// Temperature is optional; nil means the model default.
	Temperature *float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type Response struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

// Client is a single-turn chat completion client.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}
