package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QueueEntry is one extracted batch awaiting review or sync, keyed by the
// source message. Tasks and Suggestions are JSON-encoded snapshots so edits
// replace them wholesale.
type QueueEntry struct {
	ID string `gorm:"primaryKey;type:text"`

	// Source message coordinates. One entry per (message, channel).
	MessageID string `gorm:"type:text;not null;uniqueIndex:idx_queue_source"`
	ChannelID string `gorm:"type:text;not null;uniqueIndex:idx_queue_source"`
	TeamID    string `gorm:"type:text"`

	ChannelName string `gorm:"type:text"`
	AuthorID    string `gorm:"type:text;index"`
	AuthorName  string `gorm:"type:text"`
	SourceText  string `gorm:"type:text;not null"`

	// pending|processing|editing|completed|failed
	Status string `gorm:"type:text;not null;index"`

	// JSON arrays of draft.TaskDraft and dest.Suggestion.
	Tasks       string `gorm:"type:text;not null"`
	Suggestions string `gorm:"type:text"`

	// Timestamp of the preview message the bot posted, for reaction routing.
	PreviewTS string `gorm:"type:text;index"`

	RetryCount int     `gorm:"not null;default:0"`
	LastError  *string `gorm:"type:text"`

	// UTC unix seconds of the last sync attempt.
	LastAttemptAt *int64 `gorm:""`

	CreatedAt int64 `gorm:"autoCreateTime"`
	UpdatedAt int64 `gorm:"autoUpdateTime"`
}

func (e *QueueEntry) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
