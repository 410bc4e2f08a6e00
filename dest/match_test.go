package dest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quailyquaily/taskporter/draft"
)

func TestKeywordScorerScoreGroup(t *testing.T) {
	t.Parallel()

	scorer := NewKeywordScorer(DefaultScoreRules())

	tests := []struct {
		name  string
		task  draft.TaskDraft
		group Group
		want  int
	}{
		{
			// release/engineering pair (+10) plus matching non-personal
			// classification (+3).
			name:  "domain pair",
			task:  draft.TaskDraft{Title: "Ship the release build"},
			group: Group{ID: "g1", Name: "Engineering"},
			want:  13,
		},
		{
			// "engineering" keyword overlap (+5) plus classification (+3).
			name:  "keyword overlap",
			task:  draft.TaskDraft{Title: "Update engineering roadmap"},
			group: Group{ID: "g1", Name: "Engineering"},
			want:  8,
		},
		{
			// invoice/finance pair (+8), "finance" overlap (+5),
			// classification (+3).
			name:  "pair and overlap stack",
			task:  draft.TaskDraft{Title: "Chase the overdue invoice", Context: "finance asked twice"},
			group: Group{ID: "g2", Name: "Finance"},
			want:  16,
		},
		{
			// Personal task against a personal group: classification only.
			name:  "personal classification",
			task:  draft.TaskDraft{Title: "Book a dentist appointment"},
			group: Group{ID: "g3", Name: "Personal"},
			want:  3,
		},
		{
			// Nothing matches but the group is Personal.
			name:  "personal fallback",
			task:  draft.TaskDraft{Title: "Draft the memo"},
			group: Group{ID: "g3", Name: "Personal"},
			want:  1,
		},
		{
			name:  "no signal",
			task:  draft.TaskDraft{Title: "Book a dentist appointment"},
			group: Group{ID: "g2", Name: "Finance"},
			want:  0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := scorer.ScoreGroup(tt.task, tt.group); got != tt.want {
				t.Fatalf("ScoreGroup = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMatcherSuggest(t *testing.T) {
	t.Parallel()

	groups := []Group{
		{ID: "g1", Name: "Engineering"},
		{ID: "g2", Name: "Finance"},
		{ID: "g3", Name: "Personal"},
	}
	projects := map[string][]Project{
		"g1": {
			{ID: "p1", Name: "Mobile App", GroupID: "g1"},
			{ID: "p2", Name: "Release Pipeline", GroupID: "g1"},
		},
	}

	m := NewMatcher(nil)
	sug, err := m.Suggest(draft.TaskDraft{Title: "Ship the release build"}, groups, projects)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if sug.GroupID != "g1" {
		t.Fatalf("group = %s, want g1", sug.GroupID)
	}
	if sug.ProjectID != "p2" {
		t.Fatalf("project = %s, want p2", sug.ProjectID)
	}
	if sug.Confidence != draft.LevelHigh {
		t.Fatalf("confidence = %s, want %s", sug.Confidence, draft.LevelHigh)
	}
}

func TestMatcherSuggestNoProjectWithoutOverlap(t *testing.T) {
	t.Parallel()

	groups := []Group{{ID: "g1", Name: "Engineering"}}
	projects := map[string][]Project{
		"g1": {{ID: "p1", Name: "Mobile App", GroupID: "g1"}},
	}

	m := NewMatcher(nil)
	sug, err := m.Suggest(draft.TaskDraft{Title: "Ship the release build"}, groups, projects)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if sug.ProjectID != "" {
		t.Fatalf("expected no project, got %s", sug.ProjectID)
	}
}

type flatScorer struct{ score int }

func (f flatScorer) ScoreGroup(draft.TaskDraft, Group) int     { return f.score }
func (f flatScorer) ScoreProject(draft.TaskDraft, Project) int { return 0 }

func TestMatcherSuggestTieKeepsFirstGroup(t *testing.T) {
	t.Parallel()

	groups := []Group{
		{ID: "g1", Name: "Alpha"},
		{ID: "g2", Name: "Beta"},
	}
	m := NewMatcher(flatScorer{score: 4})
	sug, err := m.Suggest(draft.TaskDraft{Title: "Anything"}, groups, nil)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if sug.GroupID != "g1" {
		t.Fatalf("tie should keep the first group, got %s", sug.GroupID)
	}
}

func TestMatcherSuggestNoGroups(t *testing.T) {
	t.Parallel()

	m := NewMatcher(nil)
	if _, err := m.Suggest(draft.TaskDraft{Title: "Anything"}, nil, nil); err == nil {
		t.Fatal("expected an error with no groups")
	}
}

func TestConfidenceForScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score int
		want  string
	}{
		{score: 13, want: draft.LevelHigh},
		{score: 4, want: draft.LevelHigh},
		{score: 3, want: draft.LevelMedium},
		{score: 2, want: draft.LevelMedium},
		{score: 1, want: draft.LevelLow},
		{score: 0, want: draft.LevelLow},
	}
	for _, tt := range tests {
		if got := confidenceForScore(tt.score); got != tt.want {
			t.Fatalf("confidenceForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestLoadScoreRules(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	raw := "keyword_bonus: 7\npairs:\n  - task_word: deploy\n    group_word: ops\n    bonus: 12\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadScoreRules(path)
	if err != nil {
		t.Fatalf("LoadScoreRules: %v", err)
	}
	if rules.KeywordBonus != 7 {
		t.Fatalf("keyword bonus = %d, want 7", rules.KeywordBonus)
	}
	if len(rules.Pairs) != 1 || rules.Pairs[0].TaskWord != "deploy" || rules.Pairs[0].Bonus != 12 {
		t.Fatalf("unexpected pairs: %+v", rules.Pairs)
	}
}

func TestLoadScoreRulesMissingFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	rules, err := LoadScoreRules(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if rules.KeywordBonus != DefaultScoreRules().KeywordBonus {
		t.Fatalf("missing file should keep defaults, got %+v", rules)
	}
}
