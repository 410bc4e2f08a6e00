// Package draft holds the candidate-task types shared by extraction,
// destination matching and the approval queue.
package draft

import (
	"fmt"
	"strings"

	"github.com/quailyquaily/taskporter/internal/textutil"
)

const (
	// Assignee placeholders resolved at sync time.
	AssigneeInferFromContext = "infer_from_context"
	AssigneeMessageAuthor    = "message_author"

	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"

	MaxBatchSize = 10
	minTitleLen  = 3
)

// TaskDraft is a candidate task extracted from chat text. It is not created
// in the destination system until the batch is approved.
type TaskDraft struct {
	Title      string `json:"title"`
	Assignee   string `json:"assignee"`
	DueDate    string `json:"due_date,omitempty"`
	Confidence string `json:"confidence"`
	Priority   string `json:"priority"`
	Context    string `json:"context,omitempty"`
}

// Normalize applies field-level defaulting. It reports false when the draft
// must be dropped (missing or too-short title).
func Normalize(d TaskDraft) (TaskDraft, bool) {
	d.Title = strings.TrimSpace(d.Title)
	if len(d.Title) < minTitleLen {
		return TaskDraft{}, false
	}
	d.Assignee = strings.TrimSpace(d.Assignee)
	if d.Assignee == "" {
		d.Assignee = AssigneeInferFromContext
	}
	d.DueDate = strings.TrimSpace(d.DueDate)
	d.Confidence = normalizeLevel(d.Confidence)
	d.Priority = normalizeLevel(d.Priority)
	d.Context = strings.TrimSpace(d.Context)
	return d, true
}

func normalizeLevel(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case LevelHigh:
		return LevelHigh
	case LevelLow:
		return LevelLow
	default:
		return LevelMedium
	}
}

// ValidateBatch enforces the 1..MaxBatchSize batch size contract.
func ValidateBatch(tasks []TaskDraft) error {
	if len(tasks) == 0 {
		return fmt.Errorf("task batch is empty; nothing to queue")
	}
	if len(tasks) > MaxBatchSize {
		return fmt.Errorf("task batch has %d tasks; the maximum per message is %d", len(tasks), MaxBatchSize)
	}
	return nil
}

// ApplyEdit returns a new batch with the edit command applied. The input
// slice is never mutated.
func ApplyEdit(tasks []TaskDraft, cmd textutil.EditCommand) ([]TaskDraft, error) {
	out := append([]TaskDraft(nil), tasks...)
	if cmd.Action == "done" || cmd.Action == "cancel" {
		return out, nil
	}
	if cmd.TaskIndex < 0 || cmd.TaskIndex >= len(out) {
		return nil, fmt.Errorf("task %d does not exist; the batch has %d task(s)", cmd.TaskIndex+1, len(out))
	}

	switch cmd.Action {
	case "remove":
		out = append(out[:cmd.TaskIndex], out[cmd.TaskIndex+1:]...)
	case "title":
		if len(strings.TrimSpace(cmd.Value)) < minTitleLen {
			return nil, fmt.Errorf("new title is too short")
		}
		out[cmd.TaskIndex].Title = strings.TrimSpace(cmd.Value)
	case "due":
		out[cmd.TaskIndex].DueDate = strings.TrimSpace(cmd.Value)
	case "assign":
		assignee := strings.TrimSpace(cmd.Value)
		if assignee == "" {
			return nil, fmt.Errorf("assignee is required")
		}
		out[cmd.TaskIndex].Assignee = assignee
	default:
		return nil, fmt.Errorf("unsupported edit action: %s", cmd.Action)
	}
	return out, nil
}
