package dest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quailyquaily/taskporter/draft"
)

// PaceConfig is the client-side rate limiting: fixed delays, no adaptive
// backoff. Zero values mean no waiting, which is what tests want.
type PaceConfig struct {
	BatchSize  int
	TaskDelay  time.Duration
	BatchDelay time.Duration
}

func DefaultPace() PaceConfig {
	return PaceConfig{
		BatchSize:  10,
		TaskDelay:  1 * time.Second,
		BatchDelay: 5 * time.Second,
	}
}

type TaskResult struct {
	Task       draft.TaskDraft
	ExternalID string
	Err        error
}

type SyncResult struct {
	SuccessCount int
	FailCount    int
	Results      []TaskResult
}

// ExternalIDs returns the ids of the successfully created tasks.
func (r SyncResult) ExternalIDs() []string {
	out := make([]string, 0, r.SuccessCount)
	for _, res := range r.Results {
		if res.Err == nil && res.ExternalID != "" {
			out = append(out, res.ExternalID)
		}
	}
	return out
}

// FirstError returns the first per-task failure, or nil.
func (r SyncResult) FirstError() error {
	for _, res := range r.Results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

// AssigneeResolver maps a draft assignee placeholder to a destination user
// id. Returning "" leaves the task unassigned.
type AssigneeResolver func(ctx context.Context, assignee, sourceUserID string) string

type Syncer struct {
	client   *Client
	pace     PaceConfig
	log      *slog.Logger
	now      func() time.Time
	resolver AssigneeResolver
}

type SyncerOptions struct {
	Client   *Client
	Pace     PaceConfig
	Logger   *slog.Logger
	Now      func() time.Time
	Resolver AssigneeResolver
}

func NewSyncer(opts SyncerOptions) (*Syncer, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("destination client is required")
	}
	if opts.Pace.BatchSize <= 0 {
		opts.Pace.BatchSize = DefaultPace().BatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		client:   opts.Client,
		pace:     opts.Pace,
		log:      opts.Logger,
		now:      opts.Now,
		resolver: opts.Resolver,
	}, nil
}

// CreateOne maps a draft to the destination schema and issues one create.
func (s *Syncer) CreateOne(ctx context.Context, task draft.TaskDraft, sug Suggestion, sourceUserID string) (string, error) {
	tc := s.buildTaskCreate(ctx, task, sug, sourceUserID)
	id, err := s.client.CreateTask(ctx, tc)
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateMany chunks the batch and paces the create calls. 429s are recorded
// as failures like any other error; the scheduled sweep owns retries.
func (s *Syncer) CreateMany(ctx context.Context, tasks []draft.TaskDraft, sugs []Suggestion, sourceUserID string) SyncResult {
	out := SyncResult{Results: make([]TaskResult, 0, len(tasks))}
	for i, task := range tasks {
		if i > 0 {
			delay := s.pace.TaskDelay
			if i%s.pace.BatchSize == 0 {
				delay = s.pace.BatchDelay
			}
			if err := sleepWithContext(ctx, delay); err != nil {
				out.Results = append(out.Results, TaskResult{Task: task, Err: err})
				out.FailCount++
				continue
			}
		}

		var sug Suggestion
		if i < len(sugs) {
			sug = sugs[i]
		}
		id, err := s.CreateOne(ctx, task, sug, sourceUserID)
		if err != nil {
			s.log.Warn("dest_create_error", "title", task.Title, "error", err.Error())
			out.Results = append(out.Results, TaskResult{Task: task, Err: err})
			out.FailCount++
			continue
		}
		out.Results = append(out.Results, TaskResult{Task: task, ExternalID: id})
		out.SuccessCount++
	}
	return out
}

func (s *Syncer) buildTaskCreate(ctx context.Context, task draft.TaskDraft, sug Suggestion, sourceUserID string) TaskCreate {
	tc := TaskCreate{
		Name:      task.Title,
		GroupID:   sug.GroupID,
		ProjectID: sug.ProjectID,
		Priority:  mapPriority(task.Priority),
		Status:    "TODO",
	}
	if task.Context != "" {
		tc.Description = task.Context
	}
	if s.resolver != nil {
		tc.AssigneeID = s.resolver(ctx, task.Assignee, sourceUserID)
	}
	if due, ok := ResolveDueDate(task.DueDate, s.now()); ok {
		tc.DueDate = due.Format(time.RFC3339)
	}
	return tc
}

func mapPriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case draft.LevelHigh:
		return "HIGH"
	case draft.LevelLow:
		return "LOW"
	default:
		return "MEDIUM"
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
