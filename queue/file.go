package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore keeps the whole queue in one JSON file. Good enough for a
// single-process bot; the database store exists for anything beyond that.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type fileState struct {
	Entries []Entry         `json:"entries"`
	History []HistoryRecord `json:"history,omitempty"`
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("queue file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Enqueue(_ context.Context, entry Entry) (Entry, error) {
	if err := ValidateNew(entry); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range state.Entries {
		if e.MessageID == entry.MessageID && e.ChannelID == entry.ChannelID {
			return Entry{}, ErrDuplicate
		}
	}

	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	entry.Status = normalizeStatus(entry.Status)
	entry.CreatedAt = now
	entry.UpdatedAt = now

	state.Entries = append(state.Entries, entry)
	if err := s.save(state); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *FileStore) Get(_ context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range state.Entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (s *FileStore) FindBySource(_ context.Context, messageID, channelID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range state.Entries {
		if e.MessageID == messageID && e.ChannelID == channelID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (s *FileStore) FindByPreview(_ context.Context, channelID, previewTS string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	for _, e := range state.Entries {
		if e.ChannelID == channelID && e.PreviewTS != "" && e.PreviewTS == previewTS {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (s *FileStore) Update(_ context.Context, id string, patch Patch) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	for i := range state.Entries {
		if state.Entries[i].ID != id {
			continue
		}
		applyPatch(&state.Entries[i], patch)
		if err := s.save(state); err != nil {
			return Entry{}, err
		}
		return state.Entries[i], nil
	}
	return Entry{}, ErrNotFound
}

func (s *FileStore) ListPending(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, limit)
	for _, e := range state.Entries {
		if Retryable(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) ListByStatus(_ context.Context, status string, limit int) ([]Entry, error) {
	status = normalizeStatus(status)
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, limit)
	for _, e := range state.Entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FileStore) CountByStatus(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, e := range state.Entries {
		out[e.Status]++
	}
	return out, nil
}

func (s *FileStore) RecoverStale(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range state.Entries {
		e := &state.Entries[i]
		if e.Status != StatusProcessing || !e.UpdatedAt.Before(cutoff) {
			continue
		}
		e.Status = StatusPending
		e.UpdatedAt = time.Now().UTC()
		recovered++
	}
	if recovered == 0 {
		return 0, nil
	}
	if err := s.save(state); err != nil {
		return 0, err
	}
	return recovered, nil
}

func (s *FileStore) AppendHistory(_ context.Context, records []HistoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		state.History = append(state.History, r)
	}
	return s.save(state)
}

func (s *FileStore) HistoryForEntry(_ context.Context, entryID string) ([]HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []HistoryRecord
	for _, r := range state.History {
		if r.EntryID == entryID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *FileStore) load() (fileState, error) {
	var state fileState
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, err
	}
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("parse queue file: %w", err)
	}
	return state, nil
}

// save writes via a temp file and rename so a crash mid-write never leaves a
// truncated queue behind.
func (s *FileStore) save(state fileState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func applyPatch(e *Entry, patch Patch) {
	if patch.Status != nil {
		e.Status = normalizeStatus(*patch.Status)
	}
	if patch.Tasks != nil {
		e.Tasks = patch.Tasks
	}
	if patch.Suggestions != nil {
		e.Suggestions = patch.Suggestions
	}
	if patch.PreviewTS != nil {
		e.PreviewTS = *patch.PreviewTS
	}
	if patch.RetryCount != nil {
		e.RetryCount = *patch.RetryCount
	}
	if patch.LastError != nil {
		e.LastError = *patch.LastError
	}
	if patch.LastAttempt != nil {
		e.LastAttempt = *patch.LastAttempt
	}
	e.UpdatedAt = time.Now().UTC()
}
