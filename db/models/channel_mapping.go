package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChannelMapping pins a channel to a default destination group, overriding
// the keyword heuristic for messages posted there.
type ChannelMapping struct {
	ID string `gorm:"primaryKey;type:text"`

	TeamID    string `gorm:"type:text;not null;uniqueIndex:idx_channel_mapping"`
	ChannelID string `gorm:"type:text;not null;uniqueIndex:idx_channel_mapping"`

	GroupID   string `gorm:"type:text;not null"`
	GroupName string `gorm:"type:text"`
	ProjectID string `gorm:"type:text"`

	CreatedAt int64 `gorm:"autoCreateTime"`
	UpdatedAt int64 `gorm:"autoUpdateTime"`
}

func (m *ChannelMapping) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
