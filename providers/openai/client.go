package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openaiapi "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/quailyquaily/taskporter/llm"
)

type Config struct {
	APIKey         string
	Endpoint       string
	Model          string
	RequestTimeout time.Duration
}

type client struct {
	api   openaiapi.Client
	model string
}

// New creates an llm.Client backed by an OpenAI-compatible endpoint.
func New(cfg Config) (llm.Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing llm api key")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	return &client{
		api:   openaiapi.NewClient(opts...),
		model: strings.TrimSpace(cfg.Model),
	}, nil
}

func (c *client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("missing model")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}

	messages := make([]openaiapi.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.TrimSpace(strings.ToLower(msg.Role)) {
		case "system":
			messages = append(messages, openaiapi.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openaiapi.AssistantMessage(msg.Content))
		case "user", "":
			messages = append(messages, openaiapi.UserMessage(msg.Content))
		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	params := openaiapi.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiapi.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openaiapi.Float(*req.Temperature)
	}
	if req.ForceJSON {
		params.ResponseFormat = openaiapi.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat returned no choices")
	}
	duration := time.Since(start)

	slog.Debug("llm_chat_completed",
		"model", model,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return &llm.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
		Duration: duration,
	}, nil
}
