package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quailyquaily/taskporter/dest"
	"github.com/quailyquaily/taskporter/draft"
	"github.com/quailyquaily/taskporter/extract"
	"github.com/quailyquaily/taskporter/internal/textutil"
	"github.com/quailyquaily/taskporter/queue"
)

// Catalog reads the destination's groups and projects for matching.
type Catalog interface {
	Groups(ctx context.Context) ([]dest.Group, error)
	GroupProjects(ctx context.Context, groupID string) ([]dest.Project, error)
}

// Extractor turns a message into task drafts.
type Extractor interface {
	Extract(ctx context.Context, text string, mctx extract.MessageContext) ([]draft.TaskDraft, error)
}

// ChannelRoute pins a channel's tasks to one destination group.
type ChannelRoute struct {
	GroupID   string
	GroupName string
	ProjectID string
}

// Directory resolves user links and channel routes. Both lookups may report
// "no mapping" by returning zero values with a nil error.
type Directory interface {
	AssigneeFor(ctx context.Context, userID string) (string, error)
	RouteFor(ctx context.Context, teamID, channelID string) (*ChannelRoute, error)
}

type Config struct {
	ApproveReactions []string
	RejectReactions  []string
	EditReactions    []string
}

func DefaultConfig() Config {
	return Config{
		ApproveReactions: []string{"white_check_mark", "+1"},
		RejectReactions:  []string{"x", "-1"},
		EditReactions:    []string{"pencil2", "memo"},
	}
}

type Orchestrator struct {
	store     queue.Store
	extractor Extractor
	matcher   *dest.Matcher
	syncer    *dest.Syncer
	messenger Messenger
	catalog   Catalog
	directory Directory
	cfg       Config
	log       *slog.Logger

	// channel|user -> entry id awaiting an edit command.
	editMu sync.Mutex
	edits  map[string]string
}

type OrchestratorOptions struct {
	Store     queue.Store
	Extractor Extractor
	Matcher   *dest.Matcher
	Syncer    *dest.Syncer
	Messenger Messenger
	Catalog   Catalog
	Directory Directory
	Config    Config
	Logger    *slog.Logger
}

func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if opts.Syncer == nil {
		return nil, fmt.Errorf("syncer is required")
	}
	if opts.Messenger == nil {
		return nil, fmt.Errorf("messenger is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("destination catalog is required")
	}
	if opts.Matcher == nil {
		opts.Matcher = dest.NewMatcher(nil)
	}
	if len(opts.Config.ApproveReactions) == 0 {
		opts.Config = DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		store:     opts.Store,
		extractor: opts.Extractor,
		matcher:   opts.Matcher,
		syncer:    opts.Syncer,
		messenger: opts.Messenger,
		catalog:   opts.Catalog,
		directory: opts.Directory,
		cfg:       opts.Config,
		log:       opts.Logger,
		edits:     make(map[string]string),
	}, nil
}

// HandleMessage runs extraction on an inbound message and posts a preview
// when it yields tasks. Messages from a user in edit mode are treated as
// edit commands instead.
func (o *Orchestrator) HandleMessage(ctx context.Context, ev MessageEvent) error {
	if entryID, ok := o.takeEditSession(ev.ChannelID, ev.UserID); ok {
		return o.handleEditMessage(ctx, ev, entryID)
	}

	text := textutil.StripSlackMarkup(ev.Text)
	if quoted := textutil.ExtractQuotedText(text); quoted != "" {
		text = quoted
	}
	if text == "" {
		return nil
	}

	// The event carries Slack IDs, not display names. Raw IDs would only
	// confuse the extraction prompt, so the context stays empty.
	tasks, err := o.extractor.Extract(ctx, text, extract.MessageContext{})
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if len(tasks) == 0 {
		o.log.Debug("bot_no_tasks", "channel_id", ev.ChannelID, "message_ts", ev.MessageTS)
		return nil
	}
	if len(tasks) > draft.MaxBatchSize {
		o.log.Warn("bot_batch_truncated", "channel_id", ev.ChannelID, "extracted", len(tasks))
		tasks = tasks[:draft.MaxBatchSize]
	}

	suggestions, err := o.buildSuggestions(ctx, ev.TeamID, ev.ChannelID, tasks)
	if err != nil {
		return fmt.Errorf("match destinations: %w", err)
	}

	entry, err := o.store.Enqueue(ctx, queue.Entry{
		MessageID:   ev.MessageTS,
		ChannelID:   ev.ChannelID,
		TeamID:      ev.TeamID,
		ChannelName: ev.ChannelID,
		AuthorID:    ev.UserID,
		AuthorName:  ev.UserID,
		SourceText:  text,
		Status:      queue.StatusPending,
		Tasks:       tasks,
		Suggestions: suggestions,
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicate) {
			// Redelivered event; the preview is already out.
			return nil
		}
		return fmt.Errorf("enqueue: %w", err)
	}

	return o.postPreview(ctx, entry, previewThreadTS(ev))
}

// HandleReaction routes approve, reject, and edit reactions on previews.
func (o *Orchestrator) HandleReaction(ctx context.Context, ev ReactionEvent) error {
	entry, err := o.store.FindByPreview(ctx, ev.ChannelID, ev.ItemTS)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		return err
	}

	switch {
	case containsReaction(o.cfg.ApproveReactions, ev.Reaction):
		if entry.Status != queue.StatusPending && entry.Status != queue.StatusEditing {
			o.log.Debug("bot_reaction_ignored", "entry_id", entry.ID, "status", entry.Status, "reaction", ev.Reaction)
			return nil
		}
		o.clearEditSession(entry.ChannelID, ev.UserID)
		return o.syncEntry(ctx, entry, true)

	case containsReaction(o.cfg.RejectReactions, ev.Reaction):
		if entry.Status == queue.StatusCompleted {
			return nil
		}
		o.clearEditSession(entry.ChannelID, ev.UserID)
		status := queue.StatusFailed
		msg := "dismissed by reviewer"
		if _, err := o.store.Update(ctx, entry.ID, queue.Patch{Status: &status, LastError: &msg}); err != nil {
			return err
		}
		_, err := o.messenger.PostMessage(ctx, entry.ChannelID, "Okay, dismissed. I won't create those tasks.", entry.PreviewTS)
		return err

	case containsReaction(o.cfg.EditReactions, ev.Reaction):
		if entry.Status != queue.StatusPending {
			return nil
		}
		status := queue.StatusEditing
		if _, err := o.store.Update(ctx, entry.ID, queue.Patch{Status: &status}); err != nil {
			return err
		}
		o.setEditSession(entry.ChannelID, ev.UserID, entry.ID)
		_, err := o.messenger.PostMessage(ctx, entry.ChannelID,
			"What should I change? For example `remove task 2`, `set task 1 due date to Friday`, or `done`.",
			entry.PreviewTS)
		return err

	default:
		return nil
	}
}

// HandleMemberJoined greets a channel the bot was added to.
func (o *Orchestrator) HandleMemberJoined(ctx context.Context, ev MemberJoinedEvent, botUserID string) error {
	if ev.UserID != strings.TrimSpace(botUserID) {
		return nil
	}
	_, err := o.messenger.PostMessage(ctx, ev.ChannelID, RenderGreeting(), "")
	return err
}

// SyncPending is the sweep entry point: re-runs the sync path for one
// retryable entry, notifying the channel only on a terminal transition.
func (o *Orchestrator) SyncPending(ctx context.Context, entry queue.Entry) error {
	return o.syncEntry(ctx, entry, false)
}

func (o *Orchestrator) handleEditMessage(ctx context.Context, ev MessageEvent, entryID string) error {
	entry, err := o.store.Get(ctx, entryID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		return err
	}

	cmd, ok := textutil.ParseTaskEditCommand(textutil.StripSlackMarkup(ev.Text))
	if !ok {
		// Keep the session so the corrected command still lands here.
		o.setEditSession(ev.ChannelID, ev.UserID, entryID)
		_, err := o.messenger.PostMessage(ctx, ev.ChannelID, RenderEditHelp(), entry.PreviewTS)
		return err
	}

	switch cmd.Action {
	case "done", "cancel":
		status := queue.StatusPending
		if _, err := o.store.Update(ctx, entry.ID, queue.Patch{Status: &status}); err != nil {
			return err
		}
		_, err := o.messenger.PostMessage(ctx, ev.ChannelID,
			"Okay, the batch is back to pending. React :white_check_mark: on the preview to create it.",
			entry.PreviewTS)
		return err
	}

	tasks, err := draft.ApplyEdit(entry.Tasks, cmd)
	if err != nil {
		o.setEditSession(ev.ChannelID, ev.UserID, entryID)
		_, perr := o.messenger.PostMessage(ctx, ev.ChannelID, "That didn't work: "+err.Error(), entry.PreviewTS)
		return perr
	}
	if len(tasks) == 0 {
		status := queue.StatusFailed
		msg := "all tasks removed during edit"
		if _, err := o.store.Update(ctx, entry.ID, queue.Patch{Status: &status, LastError: &msg}); err != nil {
			return err
		}
		_, err := o.messenger.PostMessage(ctx, ev.ChannelID, "Nothing left in the batch, so I dismissed it.", entry.PreviewTS)
		return err
	}

	suggestions, err := o.buildSuggestions(ctx, entry.TeamID, entry.ChannelID, tasks)
	if err != nil {
		return fmt.Errorf("match destinations: %w", err)
	}
	status := queue.StatusPending
	updated, err := o.store.Update(ctx, entry.ID, queue.Patch{
		Status:      &status,
		Tasks:       tasks,
		Suggestions: suggestions,
	})
	if err != nil {
		return err
	}
	return o.postPreview(ctx, updated, entry.PreviewTS)
}

// syncEntry claims an entry, pushes its batch to the destination, and
// settles it: completed on full success, pending (or failed once the retry
// budget is spent) otherwise. Successfully created tasks never retry; the
// entry keeps only the failed remainder.
func (o *Orchestrator) syncEntry(ctx context.Context, entry queue.Entry, notify bool) error {
	status := queue.StatusProcessing
	now := time.Now().UTC()
	claimed, err := o.store.Update(ctx, entry.ID, queue.Patch{Status: &status, LastAttempt: &now})
	if err != nil {
		return err
	}

	if len(claimed.Suggestions) != len(claimed.Tasks) {
		sugs, err := o.buildSuggestions(ctx, claimed.TeamID, claimed.ChannelID, claimed.Tasks)
		if err != nil {
			return o.settleFailure(ctx, claimed, claimed.Tasks, claimed.Suggestions, err.Error(), notify)
		}
		claimed.Suggestions = sugs
	}

	res := o.syncer.CreateMany(ctx, claimed.Tasks, claimed.Suggestions, claimed.AuthorID)

	if res.SuccessCount > 0 {
		records := make([]queue.HistoryRecord, 0, res.SuccessCount)
		for i, r := range res.Results {
			if r.Err != nil {
				continue
			}
			rec := queue.HistoryRecord{
				EntryID:    claimed.ID,
				ExternalID: r.ExternalID,
				Title:      r.Task.Title,
			}
			if i < len(claimed.Suggestions) {
				rec.GroupID = claimed.Suggestions[i].GroupID
				rec.GroupName = claimed.Suggestions[i].GroupName
				rec.ProjectID = claimed.Suggestions[i].ProjectID
			}
			records = append(records, rec)
		}
		if err := o.store.AppendHistory(ctx, records); err != nil {
			o.log.Warn("bot_history_append_error", "entry_id", claimed.ID, "error", err.Error())
		}
	}

	if res.FailCount == 0 {
		done := queue.StatusCompleted
		if _, err := o.store.Update(ctx, claimed.ID, queue.Patch{Status: &done}); err != nil {
			return err
		}
		o.log.Info("bot_sync_completed", "entry_id", claimed.ID, "created", res.SuccessCount)
		if _, err := o.messenger.PostMessage(ctx, claimed.ChannelID, RenderSyncResult(res), claimed.PreviewTS); err != nil {
			o.log.Warn("bot_post_error", "channel_id", claimed.ChannelID, "error", err.Error())
		}
		return nil
	}

	// Keep only the failed remainder for the next attempt.
	remainTasks := make([]draft.TaskDraft, 0, res.FailCount)
	remainSugs := make([]dest.Suggestion, 0, res.FailCount)
	for i, r := range res.Results {
		if r.Err == nil {
			continue
		}
		remainTasks = append(remainTasks, r.Task)
		if i < len(claimed.Suggestions) {
			remainSugs = append(remainSugs, claimed.Suggestions[i])
		}
	}
	reason := "sync failed"
	if err := res.FirstError(); err != nil {
		reason = err.Error()
	}
	if notify {
		if _, err := o.messenger.PostMessage(ctx, claimed.ChannelID, RenderSyncResult(res), claimed.PreviewTS); err != nil {
			o.log.Warn("bot_post_error", "channel_id", claimed.ChannelID, "error", err.Error())
		}
	}
	return o.settleFailure(ctx, claimed, remainTasks, remainSugs, reason, notify)
}

func (o *Orchestrator) settleFailure(ctx context.Context, entry queue.Entry, tasks []draft.TaskDraft, sugs []dest.Suggestion, reason string, notified bool) error {
	retries := entry.RetryCount + 1
	status := queue.StatusPending
	if retries >= queue.MaxRetries {
		status = queue.StatusFailed
	}
	_, err := o.store.Update(ctx, entry.ID, queue.Patch{
		Status:      &status,
		Tasks:       tasks,
		Suggestions: sugs,
		RetryCount:  &retries,
		LastError:   &reason,
	})
	if err != nil {
		return err
	}
	o.log.Warn("bot_sync_failed",
		"entry_id", entry.ID,
		"retry_count", retries,
		"terminal", status == queue.StatusFailed,
		"error", reason,
	)
	if status == queue.StatusFailed && !notified {
		msg := fmt.Sprintf("I gave up creating the remaining tasks after %d attempts: %s", queue.MaxRetries, reason)
		if _, err := o.messenger.PostMessage(ctx, entry.ChannelID, msg, entry.PreviewTS); err != nil {
			o.log.Warn("bot_post_error", "channel_id", entry.ChannelID, "error", err.Error())
		}
	}
	return nil
}

func (o *Orchestrator) buildSuggestions(ctx context.Context, teamID, channelID string, tasks []draft.TaskDraft) ([]dest.Suggestion, error) {
	if o.directory != nil {
		route, err := o.directory.RouteFor(ctx, teamID, channelID)
		if err != nil {
			o.log.Warn("bot_route_lookup_error", "channel_id", channelID, "error", err.Error())
		} else if route != nil {
			out := make([]dest.Suggestion, 0, len(tasks))
			for _, task := range tasks {
				out = append(out, dest.Suggestion{
					Task:       task,
					GroupID:    route.GroupID,
					GroupName:  route.GroupName,
					ProjectID:  route.ProjectID,
					Confidence: draft.LevelHigh,
					Reasoning:  "channel mapping",
				})
			}
			return out, nil
		}
	}

	groups, err := o.catalog.Groups(ctx)
	if err != nil {
		return nil, err
	}
	projectsByGroup := make(map[string][]dest.Project, len(groups))
	for _, g := range groups {
		projects, err := o.catalog.GroupProjects(ctx, g.ID)
		if err != nil {
			o.log.Warn("bot_projects_lookup_error", "group_id", g.ID, "error", err.Error())
			continue
		}
		projectsByGroup[g.ID] = projects
	}
	return o.matcher.SuggestBatch(tasks, groups, projectsByGroup)
}

func (o *Orchestrator) postPreview(ctx context.Context, entry queue.Entry, threadTS string) error {
	ts, err := o.messenger.PostMessage(ctx, entry.ChannelID, RenderPreview(entry), threadTS)
	if err != nil {
		return fmt.Errorf("post preview: %w", err)
	}
	if _, err := o.store.Update(ctx, entry.ID, queue.Patch{PreviewTS: &ts}); err != nil {
		return fmt.Errorf("record preview ts: %w", err)
	}
	return nil
}

func (o *Orchestrator) setEditSession(channelID, userID, entryID string) {
	o.editMu.Lock()
	defer o.editMu.Unlock()
	o.edits[channelID+"|"+userID] = entryID
}

func (o *Orchestrator) takeEditSession(channelID, userID string) (string, bool) {
	o.editMu.Lock()
	defer o.editMu.Unlock()
	key := channelID + "|" + userID
	entryID, ok := o.edits[key]
	if ok {
		delete(o.edits, key)
	}
	return entryID, ok
}

func (o *Orchestrator) clearEditSession(channelID, userID string) {
	o.editMu.Lock()
	defer o.editMu.Unlock()
	delete(o.edits, channelID+"|"+userID)
}

func containsReaction(list []string, reaction string) bool {
	reaction = strings.Trim(strings.TrimSpace(reaction), ":")
	for _, item := range list {
		if strings.Trim(strings.TrimSpace(item), ":") == reaction {
			return true
		}
	}
	return false
}

func previewThreadTS(ev MessageEvent) string {
	if ev.ThreadTS != "" {
		return ev.ThreadTS
	}
	return ev.MessageTS
}
