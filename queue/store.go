// Package queue persists extracted task batches between the chat side and
// the sync side. Entries move pending -> processing -> completed, detour
// through editing while a user rewords the batch, and land in failed after
// the retry budget runs out.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quailyquaily/taskporter/dest"
	"github.com/quailyquaily/taskporter/draft"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusEditing    = "editing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	// MaxRetries is the sync attempt budget. The attempt that pushes
	// RetryCount to this value is the last one.
	MaxRetries = 3
)

var (
	ErrNotFound  = errors.New("queue entry not found")
	ErrDuplicate = errors.New("queue entry already exists for this message")
)

// Entry is one reviewed batch. Tasks and Suggestions always travel together:
// an edit replaces both.
type Entry struct {
	ID          string            `json:"id"`
	MessageID   string            `json:"message_id"`
	ChannelID   string            `json:"channel_id"`
	TeamID      string            `json:"team_id,omitempty"`
	ChannelName string            `json:"channel_name,omitempty"`
	AuthorID    string            `json:"author_id,omitempty"`
	AuthorName  string            `json:"author_name,omitempty"`
	SourceText  string            `json:"source_text"`
	Status      string            `json:"status"`
	Tasks       []draft.TaskDraft `json:"tasks"`
	Suggestions []dest.Suggestion `json:"suggestions,omitempty"`
	PreviewTS   string            `json:"preview_ts,omitempty"`
	RetryCount  int               `json:"retry_count"`
	LastError   string            `json:"last_error,omitempty"`
	LastAttempt time.Time         `json:"last_attempt,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Patch is a partial update. Nil fields keep their stored values.
type Patch struct {
	Status      *string
	Tasks       []draft.TaskDraft
	Suggestions []dest.Suggestion
	PreviewTS   *string
	RetryCount  *int
	LastError   *string
	LastAttempt *time.Time
}

// HistoryRecord is one task created in the destination, kept for digests
// and the queue CLI.
type HistoryRecord struct {
	ID         string    `json:"id"`
	EntryID    string    `json:"entry_id"`
	ExternalID string    `json:"external_id"`
	Title      string    `json:"title"`
	GroupID    string    `json:"group_id,omitempty"`
	GroupName  string    `json:"group_name,omitempty"`
	ProjectID  string    `json:"project_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence contract shared by the file and database
// backends.
type Store interface {
	// Enqueue persists a new entry. ErrDuplicate if an entry already
	// exists for the same (message, channel).
	Enqueue(ctx context.Context, entry Entry) (Entry, error)

	Get(ctx context.Context, id string) (Entry, error)
	FindBySource(ctx context.Context, messageID, channelID string) (Entry, error)
	FindByPreview(ctx context.Context, channelID, previewTS string) (Entry, error)

	// Update applies a patch and returns the stored entry.
	Update(ctx context.Context, id string, patch Patch) (Entry, error)

	// ListPending returns retryable pending entries, oldest first:
	// entries with at least one recorded sync attempt and budget left.
	// Never-attempted entries are waiting on a reaction, not the sweep.
	ListPending(ctx context.Context, limit int) ([]Entry, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]Entry, error)
	CountByStatus(ctx context.Context) (map[string]int, error)

	// RecoverStale flips processing entries older than cutoff back to
	// pending. Run at startup after a crash mid-sync.
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)

	AppendHistory(ctx context.Context, records []HistoryRecord) error
	HistoryForEntry(ctx context.Context, entryID string) ([]HistoryRecord, error)
}

// ValidateNew checks the fields Enqueue requires.
func ValidateNew(entry Entry) error {
	if strings.TrimSpace(entry.MessageID) == "" {
		return errors.New("message id is required")
	}
	if strings.TrimSpace(entry.ChannelID) == "" {
		return errors.New("channel id is required")
	}
	if strings.TrimSpace(entry.SourceText) == "" {
		return errors.New("source text is required")
	}
	if err := draft.ValidateBatch(entry.Tasks); err != nil {
		return err
	}
	return nil
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Retryable reports whether a pending entry belongs to the retry sweep: it
// must have a recorded sync attempt behind it and budget left. A freshly
// enqueued entry has neither a retry count nor an attempt timestamp and is
// waiting on a user reaction, not on the sweep.
func Retryable(entry Entry) bool {
	if entry.Status != StatusPending || entry.RetryCount >= MaxRetries {
		return false
	}
	return entry.RetryCount > 0 || !entry.LastAttempt.IsZero()
}
