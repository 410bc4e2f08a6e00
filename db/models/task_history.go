package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskHistory records each task created in the destination service, one row
// per external task, linked back to the queue entry that produced it.
type TaskHistory struct {
	ID string `gorm:"primaryKey;type:text"`

	EntryID string     `gorm:"type:text;not null;index"`
	Entry   QueueEntry `gorm:"foreignKey:EntryID;references:ID;constraint:OnDelete:CASCADE"`

	ExternalID string `gorm:"type:text;not null"`
	Title      string `gorm:"type:text;not null"`
	GroupID    string `gorm:"type:text"`
	GroupName  string `gorm:"type:text"`
	ProjectID  string `gorm:"type:text"`

	CreatedAt int64 `gorm:"autoCreateTime"`
}

func (h *TaskHistory) BeforeCreate(_ *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}
