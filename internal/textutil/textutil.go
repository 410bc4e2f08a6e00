package textutil

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	mentionPattern    = regexp.MustCompile(`<@[A-Z0-9]+(?:\|[^>]+)?>`)
	channelRefPattern = regexp.MustCompile(`<#[A-Z0-9]+\|([^>]*)>`)
	linkPattern       = regexp.MustCompile(`<(https?://[^|>]+)\|([^>]+)>`)
	bareLinkPattern   = regexp.MustCompile(`<(https?://[^>]+)>`)
	emphasisPattern   = regexp.MustCompile(`[*_~]+`)
	spaceRunPattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// StripSlackMarkup normalizes Slack mrkdwn to plain text: user mentions are
// dropped, channel refs and links keep their labels, emphasis markers go away.
func StripSlackMarkup(s string) string {
	s = mentionPattern.ReplaceAllString(s, "")
	s = channelRefPattern.ReplaceAllString(s, "#$1")
	s = linkPattern.ReplaceAllString(s, "$2")
	s = bareLinkPattern.ReplaceAllString(s, "$1")
	s = emphasisPattern.ReplaceAllString(s, "")
	s = spaceRunPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ExtractQuotedText returns the content of all `>`-quoted lines joined by
// single spaces, or "" when the text has no quoted lines.
func ExtractQuotedText(s string) string {
	var quoted []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, ">") {
			continue
		}
		content := strings.TrimSpace(strings.TrimPrefix(line, ">"))
		if content != "" {
			quoted = append(quoted, content)
		}
	}
	return strings.Join(quoted, " ")
}

// EditCommand is a parsed imperative edit instruction for a task batch.
// TaskIndex is zero-based; user input is one-based.
type EditCommand struct {
	Action    string // remove|title|due|assign|done|cancel
	TaskIndex int
	Value     string
}

var (
	removeTaskPattern = regexp.MustCompile(`(?i)^remove task\s+(\d+)$`)
	editTitlePattern  = regexp.MustCompile(`(?i)^(?:edit|change|rename) task\s+(\d+)(?:\s+title)?\s+to\s+(.+)$`)
	setDuePattern     = regexp.MustCompile(`(?i)^set task\s+(\d+)\s+due(?:\s+date)?\s+to\s+(.+)$`)
	assignPattern     = regexp.MustCompile(`(?i)^assign task\s+(\d+)\s+to\s+(.+)$`)
)

// ParseTaskEditCommand recognizes the fixed repertoire of edit commands.
// Unknown input returns ok=false; the caller decides how to respond.
func ParseTaskEditCommand(s string) (EditCommand, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EditCommand{}, false
	}

	switch strings.ToLower(strings.TrimRight(s, ".!")) {
	case "done", "looks good", "lgtm":
		return EditCommand{Action: "done", TaskIndex: -1}, true
	case "cancel", "never mind", "nevermind":
		return EditCommand{Action: "cancel", TaskIndex: -1}, true
	}

	if m := removeTaskPattern.FindStringSubmatch(s); m != nil {
		if idx, ok := oneBasedIndex(m[1]); ok {
			return EditCommand{Action: "remove", TaskIndex: idx}, true
		}
	}
	if m := editTitlePattern.FindStringSubmatch(s); m != nil {
		if idx, ok := oneBasedIndex(m[1]); ok {
			return EditCommand{Action: "title", TaskIndex: idx, Value: strings.TrimSpace(m[2])}, true
		}
	}
	if m := setDuePattern.FindStringSubmatch(s); m != nil {
		if idx, ok := oneBasedIndex(m[1]); ok {
			return EditCommand{Action: "due", TaskIndex: idx, Value: strings.TrimSpace(m[2])}, true
		}
	}
	if m := assignPattern.FindStringSubmatch(s); m != nil {
		if idx, ok := oneBasedIndex(m[1]); ok {
			return EditCommand{Action: "assign", TaskIndex: idx, Value: strings.TrimSpace(m[2])}, true
		}
	}
	return EditCommand{}, false
}

func oneBasedIndex(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}
