// Package dest talks to the destination task-management service: catalog
// reads, task creation with client-side pacing, and the heuristic that files
// a draft under a destination group and project.
package dest

import (
	"fmt"
	"time"

	"github.com/quailyquaily/taskporter/draft"
)

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GroupID string `json:"groupId"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// TaskCreate is the destination API's task schema.
type TaskCreate struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	GroupID     string `json:"groupId"`
	ProjectID   string `json:"projectId,omitempty"`
	AssigneeID  string `json:"assigneeId,omitempty"`
	Priority    string `json:"priority"` // HIGH | MEDIUM | LOW
	Status      string `json:"status"`
	DueDate     string `json:"dueDate,omitempty"` // RFC 3339
}

// Suggestion pairs a draft with the destination container it should be
// filed under. Regenerated wholesale whenever the batch is edited.
type Suggestion struct {
	Task        draft.TaskDraft `json:"task"`
	GroupID     string          `json:"group_id"`
	GroupName   string          `json:"group_name"`
	ProjectID   string          `json:"project_id,omitempty"`
	ProjectName string          `json:"project_name,omitempty"`
	Confidence  string          `json:"confidence"`
	Reasoning   string          `json:"reasoning"`
}

// Coarse error categories mapped from HTTP status codes.
const (
	CategoryAuthInvalid   = "auth_invalid"
	CategoryForbidden     = "forbidden"
	CategoryNotFound      = "not_found"
	CategoryRateLimited   = "rate_limited"
	CategoryServerError   = "server_error"
	CategoryRequestFailed = "request_failed"
)

// APIError is a failed destination API call with its coarse category.
type APIError struct {
	Status     int
	Category   string
	Message    string
	RetryAfter time.Duration // only set for rate_limited responses
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("destination api: %s (http %d): %s", e.Category, e.Status, e.Message)
	}
	return fmt.Sprintf("destination api: %s: %s", e.Category, e.Message)
}

func categorize(status int) string {
	switch {
	case status == 401:
		return CategoryAuthInvalid
	case status == 403:
		return CategoryForbidden
	case status == 404:
		return CategoryNotFound
	case status == 429:
		return CategoryRateLimited
	case status >= 500 && status <= 599:
		return CategoryServerError
	default:
		return CategoryRequestFailed
	}
}

// CategoryMessage renders a category as user-facing text.
func CategoryMessage(category string) string {
	switch category {
	case CategoryAuthInvalid:
		return "the destination API key is invalid or expired"
	case CategoryForbidden:
		return "the API key has no access to this group or project"
	case CategoryNotFound:
		return "the destination group or project no longer exists"
	case CategoryRateLimited:
		return "the destination API rate limit was hit"
	case CategoryServerError:
		return "the destination service had an internal error"
	default:
		return "the destination request failed"
	}
}
