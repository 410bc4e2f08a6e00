// Package extract turns free-form chat text into TaskDraft batches through a
// single LLM completion with a fixed few-shot prompt.
package extract

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/quailyquaily/taskporter/draft"
	"github.com/quailyquaily/taskporter/internal/jsonutil"
	"github.com/quailyquaily/taskporter/llm"
)

//go:embed prompts/extract_tasks.tmpl
var promptFS embed.FS

// ErrNoTasksPayload means the model response contained no parsable JSON
// array. It is surfaced to the user; there is no internal retry.
var ErrNoTasksPayload = errors.New("extract: response contains no task array")

const defaultTemperature = 0.2

// MessageContext is the small context record rendered into the prompt.
type MessageContext struct {
	ChannelName string
	AuthorName  string
}

type Client struct {
	llm         llm.Client
	model       string
	temperature float64
	log         *slog.Logger
	prompt      *template.Template
}

func New(client llm.Client, model string, log *slog.Logger) (*Client, error) {
	if client == nil {
		return nil, fmt.Errorf("nil llm client")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("missing model")
	}
	if log == nil {
		log = slog.Default()
	}
	tmpl, err := template.ParseFS(promptFS, "prompts/extract_tasks.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse extraction prompt: %w", err)
	}
	return &Client{
		llm:         client,
		model:       model,
		temperature: defaultTemperature,
		log:         log,
		prompt:      tmpl,
	}, nil
}

// Extract runs one completion and returns the validated drafts. Dropped or
// defaulted fields are not errors; a response with no JSON array is.
func (c *Client) Extract(ctx context.Context, text string, mctx MessageContext) ([]draft.TaskDraft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("extract: text is required")
	}

	var buf bytes.Buffer
	err := c.prompt.Execute(&buf, map[string]string{
		"Text":        text,
		"ChannelName": strings.TrimSpace(mctx.ChannelName),
		"AuthorName":  strings.TrimSpace(mctx.AuthorName),
	})
	if err != nil {
		return nil, fmt.Errorf("render extraction prompt: %w", err)
	}

	temperature := c.temperature
	res, err := c.llm.Chat(ctx, llm.Request{
		Model:       c.model,
		Temperature: &temperature,
		Messages: []llm.Message{
			{Role: "user", Content: buf.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract: llm request: %w", err)
	}

	tasks, err := parseTaskArray(res.Text)
	if err != nil {
		return nil, err
	}

	out := make([]draft.TaskDraft, 0, len(tasks))
	dropped := 0
	for _, raw := range tasks {
		d, ok := draft.Normalize(raw.toDraft())
		if !ok {
			dropped++
			continue
		}
		out = append(out, d)
	}
	if dropped > 0 {
		c.log.Debug("extract_dropped_tasks", "dropped", dropped, "kept", len(out))
	}
	return out, nil
}

// rawTask tolerates loosely-typed model output; anything non-string becomes
// the zero value and falls through validation.
type rawTask struct {
	Title      any    `json:"title"`
	Assignee   any    `json:"assignee"`
	DueDate    any    `json:"due_date"`
	Confidence string `json:"confidence"`
	Priority   string `json:"priority"`
	Context    any    `json:"context"`
}

func (r rawTask) toDraft() draft.TaskDraft {
	return draft.TaskDraft{
		Title:      stringField(r.Title),
		Assignee:   stringField(r.Assignee),
		DueDate:    stringField(r.DueDate),
		Confidence: r.Confidence,
		Priority:   r.Priority,
		Context:    stringField(r.Context),
	}
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func parseTaskArray(raw string) ([]rawTask, error) {
	payload, err := jsonutil.FirstJSONArray(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTasksPayload, err)
	}
	var tasks []rawTask
	if err := json.Unmarshal([]byte(payload), &tasks); err != nil {
		// Second, more aggressive pass over the whole response.
		if err2 := jsonutil.DecodeWithFallback(raw, &tasks); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoTasksPayload, err)
		}
	}
	return tasks, nil
}
