package textutil

import "testing"

func TestStripSlackMarkup(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"mention dropped", "<@U012ABC> please finish the report", "please finish the report"},
		{"channel keeps label", "post it in <#C4567DEF|general>", "post it in #general"},
		{"link keeps label", "see <https://example.com/doc|the doc> for details", "see the doc for details"},
		{"bare link keeps url", "see <https://example.com/doc>", "see https://example.com/doc"},
		{"emphasis removed", "this is *really* _important_ ~maybe~", "this is really important maybe"},
		{"plain text untouched", "nothing fancy here", "nothing fancy here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripSlackMarkup(tc.in); got != tc.want {
				t.Fatalf("StripSlackMarkup(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractQuotedTextNoQuotes(t *testing.T) {
	t.Parallel()
	if got := ExtractQuotedText("plain line\nanother line"); got != "" {
		t.Fatalf("ExtractQuotedText() = %q, want empty", got)
	}
}

func TestExtractQuotedTextJoinsLines(t *testing.T) {
	t.Parallel()
	if got := ExtractQuotedText("> a\n> b"); got != "a b" {
		t.Fatalf("ExtractQuotedText() = %q, want %q", got, "a b")
	}
}

func TestExtractQuotedTextMixed(t *testing.T) {
	t.Parallel()
	in := "can you handle these?\n> finish the deck\nnot this line\n>send it to Amy"
	if got := ExtractQuotedText(in); got != "finish the deck send it to Amy" {
		t.Fatalf("ExtractQuotedText() = %q", got)
	}
}

func TestParseTaskEditCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        string
		want      EditCommand
		wantFound bool
	}{
		{"Remove task 2", EditCommand{Action: "remove", TaskIndex: 1}, true},
		{"remove task 1", EditCommand{Action: "remove", TaskIndex: 0}, true},
		{"Edit task 3 title to Ship the Q3 report", EditCommand{Action: "title", TaskIndex: 2, Value: "Ship the Q3 report"}, true},
		{"change task 1 to buy milk", EditCommand{Action: "title", TaskIndex: 0, Value: "buy milk"}, true},
		{"Set task 2 due to Friday", EditCommand{Action: "due", TaskIndex: 1, Value: "Friday"}, true},
		{"set task 1 due date to 2026-09-01", EditCommand{Action: "due", TaskIndex: 0, Value: "2026-09-01"}, true},
		{"Assign task 2 to Jenny", EditCommand{Action: "assign", TaskIndex: 1, Value: "Jenny"}, true},
		{"done", EditCommand{Action: "done", TaskIndex: -1}, true},
		{"Cancel", EditCommand{Action: "cancel", TaskIndex: -1}, true},
		{"remove task 0", EditCommand{}, false},
		{"remove task", EditCommand{}, false},
		{"what's for lunch", EditCommand{}, false},
		{"", EditCommand{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, found := ParseTaskEditCommand(tc.in)
			if found != tc.wantFound {
				t.Fatalf("ParseTaskEditCommand(%q) found = %v, want %v", tc.in, found, tc.wantFound)
			}
			if found && got != tc.want {
				t.Fatalf("ParseTaskEditCommand(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}
