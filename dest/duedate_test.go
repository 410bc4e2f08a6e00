package dest

import (
	"testing"
	"time"
)

func TestResolveDueDate(t *testing.T) {
	t.Parallel()

	// A Wednesday.
	now := time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
		ok   bool
	}{
		{name: "today", raw: "today", want: time.Date(2024, 3, 13, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "tomorrow", raw: "tomorrow", want: time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "weekday", raw: "Friday", want: time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "by prefix", raw: "by Friday", want: time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "next weekday", raw: "next Tuesday", want: time.Date(2024, 3, 19, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "next week", raw: "next week", want: time.Date(2024, 3, 18, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "end of week", raw: "end of week", want: time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "end of month", raw: "eom", want: time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "iso date", raw: "2024-04-01", want: time.Date(2024, 4, 1, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "us date", raw: "04/01/2024", want: time.Date(2024, 4, 1, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "month day rolls forward", raw: "Mar 1", want: time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "month day ahead keeps year", raw: "Dec 25", want: time.Date(2024, 12, 25, 23, 59, 0, 0, time.UTC), ok: true},
		{name: "unparsable", raw: "whenever you get a chance", ok: false},
		{name: "empty", raw: "", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ResolveDueDate(tt.raw, now)
			if ok != tt.ok {
				t.Fatalf("ResolveDueDate(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("ResolveDueDate(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestResolveDueDateSameWeekdayRollsAWeek(t *testing.T) {
	t.Parallel()

	// A Friday; "Friday" should mean the following one.
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	got, ok := ResolveDueDate("Friday", now)
	if !ok {
		t.Fatal("expected Friday to resolve")
	}
	want := time.Date(2024, 3, 22, 23, 59, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}
