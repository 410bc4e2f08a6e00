package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/quailyquaily/taskporter/db/models"
)

// DBStore persists the queue through gorm, for deployments where the bot
// shares a database or needs to survive host moves.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(gdb *gorm.DB) (*DBStore, error) {
	if gdb == nil {
		return nil, fmt.Errorf("nil db")
	}
	return &DBStore{db: gdb}, nil
}

func (s *DBStore) Enqueue(ctx context.Context, entry Entry) (Entry, error) {
	if err := ValidateNew(entry); err != nil {
		return Entry{}, err
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	entry.Status = normalizeStatus(entry.Status)

	row, err := toRow(entry)
	if err != nil {
		return Entry{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.QueueEntry{}).
			Where("message_id = ? AND channel_id = ?", entry.MessageID, entry.ChannelID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return Entry{}, err
	}
	return fromRow(row)
}

func (s *DBStore) Get(ctx context.Context, id string) (Entry, error) {
	var row models.QueueEntry
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return fromRow(row)
}

func (s *DBStore) FindBySource(ctx context.Context, messageID, channelID string) (Entry, error) {
	var row models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("message_id = ? AND channel_id = ?", messageID, channelID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return fromRow(row)
}

func (s *DBStore) FindByPreview(ctx context.Context, channelID, previewTS string) (Entry, error) {
	if previewTS == "" {
		return Entry{}, ErrNotFound
	}
	var row models.QueueEntry
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND preview_ts = ?", channelID, previewTS).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return fromRow(row)
}

func (s *DBStore) Update(ctx context.Context, id string, patch Patch) (Entry, error) {
	updates, err := patchUpdates(patch)
	if err != nil {
		return Entry{}, err
	}

	var row models.QueueEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.QueueEntry{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&row).Error
	})
	if err != nil {
		return Entry{}, err
	}
	return fromRow(row)
}

func (s *DBStore) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Where("retry_count < ?", MaxRetries).
		Where("retry_count > 0 OR last_attempt_at IS NOT NULL").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.QueueEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (s *DBStore) ListByStatus(ctx context.Context, status string, limit int) ([]Entry, error) {
	q := s.db.WithContext(ctx).
		Where("status = ?", normalizeStatus(status)).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.QueueEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (s *DBStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	type statusCount struct {
		Status string
		Count  int
	}
	var counts []statusCount
	err := s.db.WithContext(ctx).
		Model(&models.QueueEntry{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(counts))
	for _, c := range counts {
		out[c.Status] = c.Count
	}
	return out, nil
}

func (s *DBStore) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&models.QueueEntry{}).
		Where("status = ?", StatusProcessing).
		Where("updated_at < ?", cutoff.UTC().Unix()).
		Update("status", StatusPending)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *DBStore) AppendHistory(ctx context.Context, records []HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]models.TaskHistory, 0, len(records))
	for _, r := range records {
		rows = append(rows, models.TaskHistory{
			ID:         r.ID,
			EntryID:    r.EntryID,
			ExternalID: r.ExternalID,
			Title:      r.Title,
			GroupID:    r.GroupID,
			GroupName:  r.GroupName,
			ProjectID:  r.ProjectID,
		})
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

func (s *DBStore) HistoryForEntry(ctx context.Context, entryID string) ([]HistoryRecord, error) {
	var rows []models.TaskHistory
	err := s.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]HistoryRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, HistoryRecord{
			ID:         r.ID,
			EntryID:    r.EntryID,
			ExternalID: r.ExternalID,
			Title:      r.Title,
			GroupID:    r.GroupID,
			GroupName:  r.GroupName,
			ProjectID:  r.ProjectID,
			CreatedAt:  time.Unix(r.CreatedAt, 0).UTC(),
		})
	}
	return out, nil
}

func toRow(entry Entry) (models.QueueEntry, error) {
	tasks, err := json.Marshal(entry.Tasks)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("encode tasks: %w", err)
	}
	row := models.QueueEntry{
		ID:          entry.ID,
		MessageID:   entry.MessageID,
		ChannelID:   entry.ChannelID,
		TeamID:      entry.TeamID,
		ChannelName: entry.ChannelName,
		AuthorID:    entry.AuthorID,
		AuthorName:  entry.AuthorName,
		SourceText:  entry.SourceText,
		Status:      entry.Status,
		Tasks:       string(tasks),
		PreviewTS:   entry.PreviewTS,
		RetryCount:  entry.RetryCount,
	}
	if len(entry.Suggestions) > 0 {
		sugs, err := json.Marshal(entry.Suggestions)
		if err != nil {
			return models.QueueEntry{}, fmt.Errorf("encode suggestions: %w", err)
		}
		row.Suggestions = string(sugs)
	}
	if entry.LastError != "" {
		msg := entry.LastError
		row.LastError = &msg
	}
	if !entry.LastAttempt.IsZero() {
		at := entry.LastAttempt.UTC().Unix()
		row.LastAttemptAt = &at
	}
	return row, nil
}

func fromRow(row models.QueueEntry) (Entry, error) {
	entry := Entry{
		ID:          row.ID,
		MessageID:   row.MessageID,
		ChannelID:   row.ChannelID,
		TeamID:      row.TeamID,
		ChannelName: row.ChannelName,
		AuthorID:    row.AuthorID,
		AuthorName:  row.AuthorName,
		SourceText:  row.SourceText,
		Status:      row.Status,
		PreviewTS:   row.PreviewTS,
		RetryCount:  row.RetryCount,
		CreatedAt:   time.Unix(row.CreatedAt, 0).UTC(),
		UpdatedAt:   time.Unix(row.UpdatedAt, 0).UTC(),
	}
	if row.Tasks != "" {
		if err := json.Unmarshal([]byte(row.Tasks), &entry.Tasks); err != nil {
			return Entry{}, fmt.Errorf("decode tasks for %s: %w", row.ID, err)
		}
	}
	if row.Suggestions != "" {
		if err := json.Unmarshal([]byte(row.Suggestions), &entry.Suggestions); err != nil {
			return Entry{}, fmt.Errorf("decode suggestions for %s: %w", row.ID, err)
		}
	}
	if row.LastError != nil {
		entry.LastError = *row.LastError
	}
	if row.LastAttemptAt != nil {
		entry.LastAttempt = time.Unix(*row.LastAttemptAt, 0).UTC()
	}
	return entry, nil
}

func fromRows(rows []models.QueueEntry) ([]Entry, error) {
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func patchUpdates(patch Patch) (map[string]any, error) {
	updates := map[string]any{}
	if patch.Status != nil {
		updates["status"] = normalizeStatus(*patch.Status)
	}
	if patch.Tasks != nil {
		raw, err := json.Marshal(patch.Tasks)
		if err != nil {
			return nil, fmt.Errorf("encode tasks: %w", err)
		}
		updates["tasks"] = string(raw)
	}
	if patch.Suggestions != nil {
		raw, err := json.Marshal(patch.Suggestions)
		if err != nil {
			return nil, fmt.Errorf("encode suggestions: %w", err)
		}
		updates["suggestions"] = string(raw)
	}
	if patch.PreviewTS != nil {
		updates["preview_ts"] = *patch.PreviewTS
	}
	if patch.RetryCount != nil {
		updates["retry_count"] = *patch.RetryCount
	}
	if patch.LastError != nil {
		updates["last_error"] = *patch.LastError
	}
	if patch.LastAttempt != nil {
		updates["last_attempt_at"] = patch.LastAttempt.UTC().Unix()
	}
	return updates, nil
}
