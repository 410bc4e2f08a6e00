package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/quailyquaily/taskporter/dest"
	"github.com/quailyquaily/taskporter/draft"
	"github.com/quailyquaily/taskporter/extract"
	"github.com/quailyquaily/taskporter/queue"
)

type postedMessage struct {
	ChannelID string
	Text      string
	ThreadTS  string
}

type fakeMessenger struct {
	mu     sync.Mutex
	posts  []postedMessage
	nextTS int
}

func (m *fakeMessenger) PostMessage(_ context.Context, channelID, text, threadTS string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts = append(m.posts, postedMessage{ChannelID: channelID, Text: text, ThreadTS: threadTS})
	m.nextTS++
	return fmt.Sprintf("1700000000.%06d", m.nextTS), nil
}

func (m *fakeMessenger) AddReaction(context.Context, string, string, string) error { return nil }

func (m *fakeMessenger) lastPost(t *testing.T) postedMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posts) == 0 {
		t.Fatal("no messages posted")
	}
	return m.posts[len(m.posts)-1]
}

type fakeCatalog struct {
	groups   []dest.Group
	projects map[string][]dest.Project
}

func (c *fakeCatalog) Groups(context.Context) ([]dest.Group, error) { return c.groups, nil }
func (c *fakeCatalog) GroupProjects(_ context.Context, groupID string) ([]dest.Project, error) {
	return c.projects[groupID], nil
}

type fakeExtractor struct {
	tasks []draft.TaskDraft
	err   error
	texts []string
}

func (e *fakeExtractor) Extract(_ context.Context, text string, _ extract.MessageContext) ([]draft.TaskDraft, error) {
	e.texts = append(e.texts, text)
	return e.tasks, e.err
}

type harness struct {
	orch      *Orchestrator
	store     queue.Store
	messenger *fakeMessenger
	extractor *fakeExtractor
	destCalls *int
}

// newHarness wires an orchestrator against a file store and a stubbed
// destination server. handler nil means every create succeeds.
func newHarness(t *testing.T, tasks []draft.TaskDraft, handler http.HandlerFunc) *harness {
	t.Helper()

	calls := 0
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			calls++
			_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("task_%d", calls)})
		}
	} else {
		inner := handler
		handler = func(w http.ResponseWriter, r *http.Request) {
			calls++
			inner(w, r)
		}
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := dest.NewClient(srv.Client(), srv.URL, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	syncer, err := dest.NewSyncer(dest.SyncerOptions{Client: client, Pace: dest.PaceConfig{BatchSize: 10}})
	if err != nil {
		t.Fatal(err)
	}
	store, err := queue.NewFileStore(filepath.Join(t.TempDir(), "queue.json"))
	if err != nil {
		t.Fatal(err)
	}

	messenger := &fakeMessenger{}
	extractor := &fakeExtractor{tasks: tasks}
	orch, err := NewOrchestrator(OrchestratorOptions{
		Store:     store,
		Extractor: extractor,
		Syncer:    syncer,
		Messenger: messenger,
		Catalog: &fakeCatalog{
			groups: []dest.Group{
				{ID: "g1", Name: "Engineering"},
				{ID: "g2", Name: "Personal"},
			},
			projects: map[string][]dest.Project{
				"g1": {{ID: "p1", Name: "Reports", GroupID: "g1"}},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{orch: orch, store: store, messenger: messenger, extractor: extractor, destCalls: &calls}
}

func jennyMessage() MessageEvent {
	return MessageEvent{
		TeamID:    "T1",
		ChannelID: "C001",
		ChatType:  "channel",
		MessageTS: "1700000000.000100",
		UserID:    "U123",
		Text:      "Jenny needs to finish the report by Friday",
	}
}

func jennyTasks() []draft.TaskDraft {
	return []draft.TaskDraft{{
		Title:      "Finish the report",
		Assignee:   "Jenny",
		DueDate:    "Friday",
		Confidence: draft.LevelHigh,
		Priority:   draft.LevelMedium,
	}}
}

func TestHandleMessagePostsPreview(t *testing.T) {
	t.Parallel()

	h := newHarness(t, jennyTasks(), nil)
	ctx := context.Background()

	if err := h.orch.HandleMessage(ctx, jennyMessage()); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	post := h.messenger.lastPost(t)
	if post.ChannelID != "C001" {
		t.Fatalf("posted to %s", post.ChannelID)
	}
	if !strings.Contains(post.Text, "Finish the report") {
		t.Fatalf("preview missing task title:\n%s", post.Text)
	}
	if !strings.Contains(post.Text, "due: Friday") {
		t.Fatalf("preview missing due date:\n%s", post.Text)
	}
	if !strings.Contains(post.Text, ":white_check_mark:") {
		t.Fatalf("preview missing reaction legend:\n%s", post.Text)
	}

	entry, err := h.store.FindBySource(ctx, "1700000000.000100", "C001")
	if err != nil {
		t.Fatalf("FindBySource: %v", err)
	}
	if entry.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", entry.Status)
	}
	if entry.PreviewTS == "" {
		t.Fatal("preview ts not recorded")
	}
	if len(entry.Suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(entry.Suggestions))
	}
}

func TestHandleMessageDuplicateIsQuiet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, jennyTasks(), nil)
	ctx := context.Background()

	if err := h.orch.HandleMessage(ctx, jennyMessage()); err != nil {
		t.Fatal(err)
	}
	postCount := len(h.messenger.posts)
	if err := h.orch.HandleMessage(ctx, jennyMessage()); err != nil {
		t.Fatalf("redelivered message should not error: %v", err)
	}
	if len(h.messenger.posts) != postCount {
		t.Fatal("redelivered message posted a second preview")
	}
}

func TestHandleMessageNoTasksIsSilent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, nil)
	if err := h.orch.HandleMessage(context.Background(), jennyMessage()); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(h.messenger.posts) != 0 {
		t.Fatalf("expected no posts, got %d", len(h.messenger.posts))
	}
}

func TestApproveCreatesTasks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, jennyTasks(), nil)
	ctx := context.Background()

	if err := h.orch.HandleMessage(ctx, jennyMessage()); err != nil {
		t.Fatal(err)
	}
	entry, err := h.store.FindBySource(ctx, "1700000000.000100", "C001")
	if err != nil {
		t.Fatal(err)
	}

	if err := h.orch.HandleReaction(ctx, ReactionEvent{
		ChannelID: "C001",
		UserID:    "U456",
		Reaction:  "white_check_mark",
		ItemTS:    entry.PreviewTS,
	}); err != nil {
		t.Fatalf("HandleReaction: %v", err)
	}

	entry, err = h.store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", entry.Status)
	}
	if *h.destCalls != 1 {
		t.Fatalf("destination calls = %d, want 1", *h.destCalls)
	}

	history, err := h.store.HistoryForEntry(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ExternalID != "task_1" {
		t.Fatalf("unexpected history: %+v", history)
	}

	post := h.messenger.lastPost(t)
	if !strings.Contains(post.Text, "Created 1 task") {
		t.Fatalf("missing result message:\n%s", post.Text)
	}
}

func TestRejectDismissesEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, jennyTasks(), nil)
	ctx := context.Background()

	if err := h.orch.HandleMessage(ctx, jennyMessage()); err != nil {
		t.Fatal(err)
	}
	entry, err := h.store.FindBySource(ctx, "1700000000.000100", "C001")
	if err != nil {
		t.Fatal(err)
	}

	if err := h.orch.HandleReaction(ctx, ReactionEvent{
		ChannelID: "C001",
		UserID:    "U456",
		Reaction:  "x",
		ItemTS:    entry.PreviewTS,
	}); err != nil {
		t.Fatal(err)
	}

	entry, err = h.store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != queue.StatusFailed {
		t.Fatalf("status = %s, want failed", entry.Status)
	}
	if *h.destCalls != 0 {
		t.Fatalf("reject must not hit the destination, got %d calls", *h.destCalls)
	}
}

func TestEditFlowRemovesTask(t *testing.T) {
	t.Parallel()

	tasks := []draft.TaskDraft{
		{Title: "Finish the report", Assignee: "Jenny", Priority: draft.LevelMedium},
		{Title: "Schedule the review", Assignee: "Jenny", Priority: draft.LevelMedium},
	}
	h := newHarness(t, tasks, nil)
	ctx := context.Background()

	if err := h.orch.HandleMessage(ctx, jennyMessage()); err != nil {
		t.Fatal(err)
	}
	entry, err := h.store.FindBySource(ctx, "1700000000.000100", "C001")
	if err != nil {
		t.Fatal(err)
	}

	if err := h.orch.HandleReaction(ctx, ReactionEvent{
		ChannelID: "C001",
		UserID:    "U456",
		Reaction:  "pencil2",
		ItemTS:    entry.PreviewTS,
	}); err != nil {
		t.Fatal(err)
	}
	got, err := h.store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusEditing {
		t.Fatalf("status = %s, want editing", got.Status)
	}

	// The reacting user's next message is the edit command.
	if err := h.orch.HandleMessage(ctx, MessageEvent{
		TeamID:    "T1",
		ChannelID: "C001",
		MessageTS: "1700000000.000300",
		UserID:    "U456",
		Text:      "Remove task 2",
	}); err != nil {
		t.Fatal(err)
	}

	got, err = h.store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending after edit", got.Status)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].Title != "Finish the report" {
		t.Fatalf("unexpected tasks after edit: %+v", got.Tasks)
	}
	if len(got.Suggestions) != 1 {
		t.Fatalf("suggestions not regenerated: %+v", got.Suggestions)
	}

	post := h.messenger.lastPost(t)
	if !strings.Contains(post.Text, "1 task") {
		t.Fatalf("expected re-posted preview:\n%s", post.Text)
	}
}

func TestEditUnknownCommandShowsHelp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, jennyTasks(), nil)
	ctx := context.Background()

	if err := h.orch.HandleMessage(ctx, jennyMessage()); err != nil {
		t.Fatal(err)
	}
	entry, err := h.store.FindBySource(ctx, "1700000000.000100", "C001")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.orch.HandleReaction(ctx, ReactionEvent{
		ChannelID: "C001", UserID: "U456", Reaction: "pencil2", ItemTS: entry.PreviewTS,
	}); err != nil {
		t.Fatal(err)
	}

	if err := h.orch.HandleMessage(ctx, MessageEvent{
		TeamID: "T1", ChannelID: "C001", MessageTS: "1700000000.000300",
		UserID: "U456", Text: "make it snappier please",
	}); err != nil {
		t.Fatal(err)
	}
	post := h.messenger.lastPost(t)
	if !strings.Contains(post.Text, "didn't understand") {
		t.Fatalf("expected edit help:\n%s", post.Text)
	}

	// The session survives, so a corrected command still applies.
	if err := h.orch.HandleMessage(ctx, MessageEvent{
		TeamID: "T1", ChannelID: "C001", MessageTS: "1700000000.000400",
		UserID: "U456", Text: "change task 1 title to Finish the quarterly report",
	}); err != nil {
		t.Fatal(err)
	}
	got, err := h.store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tasks[0].Title != "Finish the quarterly report" {
		t.Fatalf("title edit not applied: %+v", got.Tasks)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestReactionOnUnknownMessageIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, jennyTasks(), nil)
	if err := h.orch.HandleReaction(context.Background(), ReactionEvent{
		ChannelID: "C001",
		UserID:    "U456",
		Reaction:  "white_check_mark",
		ItemTS:    "1699999999.000001",
	}); err != nil {
		t.Fatalf("unknown reaction target should be ignored: %v", err)
	}
	if len(h.messenger.posts) != 0 {
		t.Fatal("unexpected posts")
	}
}

func TestMemberJoinedGreetsOnlyForBot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, jennyTasks(), nil)
	ctx := context.Background()

	if err := h.orch.HandleMemberJoined(ctx, MemberJoinedEvent{ChannelID: "C001", UserID: "U999"}, "UBOT"); err != nil {
		t.Fatal(err)
	}
	if len(h.messenger.posts) != 0 {
		t.Fatal("greeting posted for a non-bot join")
	}

	if err := h.orch.HandleMemberJoined(ctx, MemberJoinedEvent{ChannelID: "C001", UserID: "UBOT"}, "UBOT"); err != nil {
		t.Fatal(err)
	}
	post := h.messenger.lastPost(t)
	if !strings.Contains(post.Text, "preview") {
		t.Fatalf("unexpected greeting:\n%s", post.Text)
	}
}
