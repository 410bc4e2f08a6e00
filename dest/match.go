package dest

import (
	"fmt"
	"os"
	"strings"

	"github.com/quailyquaily/taskporter/draft"
	"gopkg.in/yaml.v3"
)

// Scorer ranks destination containers for a draft. The default is a fixed
// keyword heuristic; orchestration only depends on this interface.
type Scorer interface {
	ScoreGroup(task draft.TaskDraft, group Group) int
	ScoreProject(task draft.TaskDraft, project Project) int
}

// KeywordPair is a hardcoded domain rule: a task keyword pulling toward a
// group whose name contains the group keyword.
type KeywordPair struct {
	TaskWord  string `yaml:"task_word"`
	GroupWord string `yaml:"group_word"`
	Bonus     int    `yaml:"bonus"`
}

type ScoreRules struct {
	KeywordBonus int           `yaml:"keyword_bonus"`
	Pairs        []KeywordPair `yaml:"pairs"`
}

const (
	keywordBonus        = 5
	classificationBonus = 3
	personalFallback    = 1

	highThreshold   = 3
	mediumThreshold = 1
)

// DefaultScoreRules returns the built-in constants: +5 per keyword overlap,
// the two domain pairs at +10/+8.
func DefaultScoreRules() ScoreRules {
	return ScoreRules{
		KeywordBonus: keywordBonus,
		Pairs: []KeywordPair{
			{TaskWord: "release", GroupWord: "engineering", Bonus: 10},
			{TaskWord: "invoice", GroupWord: "finance", Bonus: 8},
		},
	}
}

// LoadScoreRules reads rule overrides from a YAML file. Missing fields keep
// their defaults.
func LoadScoreRules(path string) (ScoreRules, error) {
	rules := DefaultScoreRules()
	raw, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read score rules: %w", err)
	}
	var overrides ScoreRules
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return rules, fmt.Errorf("parse score rules: %w", err)
	}
	if overrides.KeywordBonus > 0 {
		rules.KeywordBonus = overrides.KeywordBonus
	}
	if len(overrides.Pairs) > 0 {
		rules.Pairs = overrides.Pairs
	}
	return rules, nil
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "up": true, "with": true, "will": true,
	"need": true, "needs": true, "should": true, "please": true,
}

var personalWords = []string{
	"grocery", "groceries", "doctor", "dentist", "birthday", "gift",
	"家", "laundry", "apartment", "vacation", "gym",
}

// KeywordScorer is the fixed scoring heuristic described in the matching
// rules. Magic constants live in ScoreRules so they stay overridable.
type KeywordScorer struct {
	Rules ScoreRules
}

func NewKeywordScorer(rules ScoreRules) *KeywordScorer {
	if rules.KeywordBonus <= 0 {
		rules = DefaultScoreRules()
	}
	return &KeywordScorer{Rules: rules}
}

func (s *KeywordScorer) ScoreGroup(task draft.TaskDraft, group Group) int {
	groupName := strings.ToLower(strings.TrimSpace(group.Name))
	if groupName == "" {
		return 0
	}
	text := taskText(task)
	score := 0
	for _, kw := range keywords(text) {
		if strings.Contains(groupName, kw) {
			score += s.Rules.KeywordBonus
		}
	}
	for _, pair := range s.Rules.Pairs {
		if strings.Contains(text, strings.ToLower(pair.TaskWord)) &&
			strings.Contains(groupName, strings.ToLower(pair.GroupWord)) {
			score += pair.Bonus
		}
	}
	if looksPersonal(text) == groupLooksPersonal(groupName) {
		score += classificationBonus
	}
	if score == 0 && groupName == "personal" {
		score = personalFallback
	}
	return score
}

func (s *KeywordScorer) ScoreProject(task draft.TaskDraft, project Project) int {
	projectName := strings.ToLower(strings.TrimSpace(project.Name))
	if projectName == "" {
		return 0
	}
	score := 0
	for _, kw := range keywords(taskText(task)) {
		if strings.Contains(projectName, kw) {
			score += s.Rules.KeywordBonus
		}
	}
	return score
}

func taskText(task draft.TaskDraft) string {
	return strings.ToLower(strings.TrimSpace(task.Title + " " + task.Context))
}

func keywords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func looksPersonal(text string) bool {
	for _, w := range personalWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func groupLooksPersonal(groupName string) bool {
	return strings.Contains(groupName, "personal") || strings.Contains(groupName, "home")
}

// Matcher picks the best group and project for each draft via the Scorer.
type Matcher struct {
	scorer Scorer
}

func NewMatcher(scorer Scorer) *Matcher {
	if scorer == nil {
		scorer = NewKeywordScorer(DefaultScoreRules())
	}
	return &Matcher{scorer: scorer}
}

// Suggest scores every group (ties resolved by encounter order) and repeats
// the overlap scoring for projects inside the winner.
func (m *Matcher) Suggest(task draft.TaskDraft, groups []Group, projectsByGroup map[string][]Project) (Suggestion, error) {
	if len(groups) == 0 {
		return Suggestion{}, fmt.Errorf("no destination groups available")
	}

	best := groups[0]
	bestScore := m.scorer.ScoreGroup(task, groups[0])
	for _, g := range groups[1:] {
		if score := m.scorer.ScoreGroup(task, g); score > bestScore {
			best = g
			bestScore = score
		}
	}

	sug := Suggestion{
		Task:       task,
		GroupID:    best.ID,
		GroupName:  best.Name,
		Confidence: confidenceForScore(bestScore),
		Reasoning:  fmt.Sprintf("keyword overlap score %d against %q", bestScore, best.Name),
	}

	var bestProject *Project
	bestProjectScore := 0
	for i, p := range projectsByGroup[best.ID] {
		if score := m.scorer.ScoreProject(task, p); score > bestProjectScore {
			bestProject = &projectsByGroup[best.ID][i]
			bestProjectScore = score
		}
	}
	if bestProject != nil {
		sug.ProjectID = bestProject.ID
		sug.ProjectName = bestProject.Name
	}
	return sug, nil
}

// SuggestBatch generates one suggestion per draft.
func (m *Matcher) SuggestBatch(tasks []draft.TaskDraft, groups []Group, projectsByGroup map[string][]Project) ([]Suggestion, error) {
	out := make([]Suggestion, 0, len(tasks))
	for _, task := range tasks {
		sug, err := m.Suggest(task, groups, projectsByGroup)
		if err != nil {
			return nil, err
		}
		out = append(out, sug)
	}
	return out, nil
}

func confidenceForScore(score int) string {
	switch {
	case score > highThreshold:
		return draft.LevelHigh
	case score > mediumThreshold:
		return draft.LevelMedium
	default:
		return draft.LevelLow
	}
}
