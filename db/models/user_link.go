package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserLink maps a chat user to their account in the destination service.
type UserLink struct {
	ID string `gorm:"primaryKey;type:text"`

	SlackUserID string `gorm:"type:text;not null;uniqueIndex"`
	SlackName   string `gorm:"type:text"`

	DestUserID string `gorm:"type:text;not null"`
	DestEmail  string `gorm:"type:text"`

	CreatedAt int64 `gorm:"autoCreateTime"`
	UpdatedAt int64 `gorm:"autoUpdateTime"`
}

func (l *UserLink) BeforeCreate(_ *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
