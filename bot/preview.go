package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quailyquaily/taskporter/dest"
	"github.com/quailyquaily/taskporter/queue"
)

// RenderPreview builds the numbered task preview posted under a source
// message, with the reaction legend users act on.
func RenderPreview(entry queue.Entry) string {
	var b strings.Builder
	if len(entry.Tasks) == 1 {
		b.WriteString("I found *1 task* in that message:\n")
	} else {
		fmt.Fprintf(&b, "I found *%d tasks* in that message:\n", len(entry.Tasks))
	}

	for i, task := range entry.Tasks {
		fmt.Fprintf(&b, "\n*%d.* %s", i+1, task.Title)
		details := make([]string, 0, 3)
		if task.Assignee != "" {
			details = append(details, "assignee: "+humanAssignee(task.Assignee))
		}
		if task.DueDate != "" {
			details = append(details, "due: "+task.DueDate)
		}
		if task.Priority != "" {
			details = append(details, "priority: "+task.Priority)
		}
		if len(details) > 0 {
			b.WriteString("\n    _" + strings.Join(details, " · ") + "_")
		}
		if sug := suggestionAt(entry.Suggestions, i); sug != nil {
			fmt.Fprintf(&b, "\n    → %s", sug.GroupName)
			if sug.ProjectName != "" {
				b.WriteString(" / " + sug.ProjectName)
			}
			fmt.Fprintf(&b, " (%s confidence)", sug.Confidence)
		}
	}

	b.WriteString("\n\nReact with :white_check_mark: to create, :x: to dismiss, or :pencil2: to edit.")
	return b.String()
}

// RenderSyncResult reports what happened after an approval.
func RenderSyncResult(res dest.SyncResult) string {
	var b strings.Builder
	switch {
	case res.FailCount == 0:
		if res.SuccessCount == 1 {
			b.WriteString("Created 1 task. :tada:")
		} else {
			fmt.Fprintf(&b, "Created %d tasks. :tada:", res.SuccessCount)
		}
	case res.SuccessCount == 0:
		b.WriteString("Couldn't create the tasks:")
	default:
		fmt.Fprintf(&b, "Created %d of %d tasks. The rest failed:", res.SuccessCount, res.SuccessCount+res.FailCount)
	}
	for _, r := range res.Results {
		if r.Err == nil {
			continue
		}
		fmt.Fprintf(&b, "\n• %s — %s", r.Task.Title, failureReason(r.Err))
	}
	return b.String()
}

// RenderEditHelp is posted when an edit-mode message is not a recognized
// command.
func RenderEditHelp() string {
	return strings.Join([]string{
		"I didn't understand that edit. You can say:",
		"• `remove task 2`",
		"• `change task 1 title to <new title>`",
		"• `set task 3 due date to Friday`",
		"• `assign task 2 to @someone`",
		"• `done` to finish, or `cancel` to keep the batch as it was",
	}, "\n")
}

// RenderGreeting is posted when the bot joins a channel.
func RenderGreeting() string {
	return strings.Join([]string{
		"Hi! I watch for actionable tasks in messages here.",
		"When I spot one I'll reply with a preview; react with :white_check_mark: to create it, :x: to dismiss, or :pencil2: to edit first.",
	}, " ")
}

// RenderDigest summarizes queue activity for the daily digest channel.
func RenderDigest(counts map[string]int) string {
	var b strings.Builder
	b.WriteString("Daily task digest:\n")
	fmt.Fprintf(&b, "• completed: %d\n", counts[queue.StatusCompleted])
	fmt.Fprintf(&b, "• pending: %d\n", counts[queue.StatusPending])
	fmt.Fprintf(&b, "• failed: %d", counts[queue.StatusFailed])
	return b.String()
}

func humanAssignee(assignee string) string {
	switch assignee {
	case "infer_from_context":
		return "(from context)"
	case "message_author":
		return "message author"
	default:
		return assignee
	}
}

func suggestionAt(sugs []dest.Suggestion, i int) *dest.Suggestion {
	if i < 0 || i >= len(sugs) {
		return nil
	}
	return &sugs[i]
}

func failureReason(err error) string {
	var apiErr *dest.APIError
	if errors.As(err, &apiErr) {
		return dest.CategoryMessage(apiErr.Category)
	}
	return "the destination request failed"
}
