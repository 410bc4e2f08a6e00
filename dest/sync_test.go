package dest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quailyquaily/taskporter/draft"
)

func newTestSyncer(t *testing.T, handler http.Handler) (*Syncer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.Client(), srv.URL, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	now := func() time.Time { return time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC) }
	s, err := NewSyncer(SyncerOptions{Client: client, Pace: PaceConfig{BatchSize: 10}, Now: now})
	if err != nil {
		t.Fatal(err)
	}
	return s, srv
}

func TestSyncerCreateOneMapsDraftFields(t *testing.T) {
	t.Parallel()

	var got TaskCreate
	s, _ := newTestSyncer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "task_1"})
	}))

	task := draft.TaskDraft{
		Title:    "Finish the report",
		Priority: draft.LevelHigh,
		DueDate:  "Friday",
		Context:  "quarterly numbers",
	}
	sug := Suggestion{GroupID: "g1", ProjectID: "p1"}

	id, err := s.CreateOne(context.Background(), task, sug, "U123")
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}
	if id != "task_1" {
		t.Fatalf("id = %q", id)
	}
	if got.Name != "Finish the report" || got.GroupID != "g1" || got.ProjectID != "p1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Priority != "HIGH" {
		t.Fatalf("priority = %q, want HIGH", got.Priority)
	}
	if got.Status != "TODO" {
		t.Fatalf("status = %q, want TODO", got.Status)
	}
	if got.Description != "quarterly numbers" {
		t.Fatalf("description = %q", got.Description)
	}
	// 2024-03-13 is a Wednesday, so Friday is the 15th.
	if got.DueDate != "2024-03-15T23:59:00Z" {
		t.Fatalf("due date = %q", got.DueDate)
	}
}

func TestSyncerCreateManyAggregates(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s, _ := newTestSyncer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"slow down"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("task_%d", n)})
	}))

	tasks := []draft.TaskDraft{
		{Title: "First task", Priority: draft.LevelMedium},
		{Title: "Second task", Priority: draft.LevelMedium},
		{Title: "Third task", Priority: draft.LevelMedium},
	}
	sugs := []Suggestion{
		{GroupID: "g1"}, {GroupID: "g1"}, {GroupID: "g1"},
	}

	res := s.CreateMany(context.Background(), tasks, sugs, "U123")
	if res.SuccessCount != 2 || res.FailCount != 1 {
		t.Fatalf("success = %d fail = %d, want 2/1", res.SuccessCount, res.FailCount)
	}
	if len(res.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(res.Results))
	}
	if res.Results[1].Err == nil {
		t.Fatal("second result should carry the rate limit error")
	}
	ids := res.ExternalIDs()
	if len(ids) != 2 || ids[0] != "task_1" || ids[1] != "task_3" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if res.FirstError() == nil {
		t.Fatal("FirstError should surface the failure")
	}
}

func TestSyncerCreateManyEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestSyncer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no requests expected")
	}))
	res := s.CreateMany(context.Background(), nil, nil, "U123")
	if res.SuccessCount != 0 || res.FailCount != 0 || len(res.Results) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSyncerResolverAssignsUser(t *testing.T) {
	t.Parallel()

	var got TaskCreate
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "task_1"})
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.Client(), srv.URL, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSyncer(SyncerOptions{
		Client: client,
		Resolver: func(ctx context.Context, assignee, sourceUserID string) string {
			if assignee == draft.AssigneeMessageAuthor && sourceUserID == "U123" {
				return "ext-9"
			}
			return ""
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	task := draft.TaskDraft{Title: "Finish the report", Assignee: draft.AssigneeMessageAuthor}
	if _, err := s.CreateOne(context.Background(), task, Suggestion{GroupID: "g1"}, "U123"); err != nil {
		t.Fatalf("CreateOne: %v", err)
	}
	if got.AssigneeID != "ext-9" {
		t.Fatalf("assignee = %q, want ext-9", got.AssigneeID)
	}
}

func TestSyncerCanceledContextStopsPacing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "task_1"})
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.Client(), srv.URL, "key-1")
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSyncer(SyncerOptions{
		Client: client,
		Pace:   PaceConfig{BatchSize: 10, TaskDelay: time.Hour},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tasks := []draft.TaskDraft{{Title: "First task"}, {Title: "Second task"}}
	sugs := []Suggestion{{GroupID: "g1"}, {GroupID: "g1"}}

	res := s.CreateMany(ctx, tasks, sugs, "U123")
	if res.FailCount == 0 {
		t.Fatal("canceled context should fail the paced task")
	}
}
