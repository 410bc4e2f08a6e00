// Package directory keeps the user links and channel mappings that steer
// assignment and group routing: who a chat user is in the destination
// service, and which group a channel's tasks default to.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/quailyquaily/taskporter/db/models"
)

var ErrNotLinked = errors.New("user is not linked to a destination account")

type Service struct {
	db *gorm.DB
}

func New(gdb *gorm.DB) (*Service, error) {
	if gdb == nil {
		return nil, fmt.Errorf("nil db")
	}
	return &Service{db: gdb}, nil
}

// LinkUser upserts the mapping from a chat user to a destination account.
func (s *Service) LinkUser(ctx context.Context, link models.UserLink) (models.UserLink, error) {
	link.SlackUserID = strings.TrimSpace(link.SlackUserID)
	link.DestUserID = strings.TrimSpace(link.DestUserID)
	if link.SlackUserID == "" {
		return models.UserLink{}, fmt.Errorf("slack user id is required")
	}
	if link.DestUserID == "" {
		return models.UserLink{}, fmt.Errorf("destination user id is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.UserLink
		err := tx.Where("slack_user_id = ?", link.SlackUserID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&link).Error
		}
		if err != nil {
			return err
		}
		link.ID = existing.ID
		link.CreatedAt = existing.CreatedAt
		return tx.Model(&models.UserLink{}).Where("id = ?", existing.ID).Updates(map[string]any{
			"slack_name":   link.SlackName,
			"dest_user_id": link.DestUserID,
			"dest_email":   link.DestEmail,
		}).Error
	})
	if err != nil {
		return models.UserLink{}, err
	}
	return link, nil
}

// AssigneeFor resolves a chat user to their destination account id.
func (s *Service) AssigneeFor(ctx context.Context, slackUserID string) (string, error) {
	slackUserID = strings.TrimSpace(slackUserID)
	if slackUserID == "" {
		return "", ErrNotLinked
	}
	var link models.UserLink
	err := s.db.WithContext(ctx).Where("slack_user_id = ?", slackUserID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotLinked
	}
	if err != nil {
		return "", err
	}
	return link.DestUserID, nil
}

// UnlinkUser removes a user link. Missing links are not an error.
func (s *Service) UnlinkUser(ctx context.Context, slackUserID string) error {
	slackUserID = strings.TrimSpace(slackUserID)
	if slackUserID == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("slack_user_id = ?", slackUserID).
		Delete(&models.UserLink{}).Error
}

// MapChannel upserts a channel's default destination group.
func (s *Service) MapChannel(ctx context.Context, mapping models.ChannelMapping) (models.ChannelMapping, error) {
	mapping.TeamID = strings.TrimSpace(mapping.TeamID)
	mapping.ChannelID = strings.TrimSpace(mapping.ChannelID)
	mapping.GroupID = strings.TrimSpace(mapping.GroupID)
	if mapping.ChannelID == "" {
		return models.ChannelMapping{}, fmt.Errorf("channel id is required")
	}
	if mapping.GroupID == "" {
		return models.ChannelMapping{}, fmt.Errorf("group id is required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ChannelMapping
		err := tx.Where("team_id = ? AND channel_id = ?", mapping.TeamID, mapping.ChannelID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&mapping).Error
		}
		if err != nil {
			return err
		}
		mapping.ID = existing.ID
		mapping.CreatedAt = existing.CreatedAt
		return tx.Model(&models.ChannelMapping{}).Where("id = ?", existing.ID).Updates(map[string]any{
			"group_id":   mapping.GroupID,
			"group_name": mapping.GroupName,
			"project_id": mapping.ProjectID,
		}).Error
	})
	if err != nil {
		return models.ChannelMapping{}, err
	}
	return mapping, nil
}

// MappingFor returns a channel's pinned group, or (nil, nil) when the
// channel has none and the heuristic should decide.
func (s *Service) MappingFor(ctx context.Context, teamID, channelID string) (*models.ChannelMapping, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, nil
	}
	var mapping models.ChannelMapping
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND channel_id = ?", strings.TrimSpace(teamID), channelID).
		First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}
