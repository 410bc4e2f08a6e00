package dest

import (
	"strings"
	"time"
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var dueDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2",
	"January 2",
	time.RFC3339,
}

// ResolveDueDate turns a loose due phrase into a concrete end-of-day time.
// Relative keywords resolve against now; anything else goes through the
// layout list. Unparsable input reports ok=false and is silently skipped by
// callers.
func ResolveDueDate(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, prefix := range []string{"by ", "By ", "BY ", "on ", "On ", "ON "} {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	}
	if raw == "" {
		return time.Time{}, false
	}
	// Month names are case-sensitive in time.Parse, so keep the original
	// casing around for the layout pass.
	lower := strings.ToLower(raw)

	switch lower {
	case "today", "tonight", "eod", "end of day":
		return endOfDay(now), true
	case "tomorrow":
		return endOfDay(now.AddDate(0, 0, 1)), true
	case "next week":
		return endOfDay(nextWeekday(now, time.Monday)), true
	case "end of week", "eow":
		return endOfDay(nextWeekday(now, time.Friday)), true
	case "end of month", "eom":
		firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 1, 0)
		return endOfDay(firstOfNext.AddDate(0, 0, -1)), true
	}

	name := strings.TrimPrefix(lower, "next ")
	if wd, ok := weekdayNames[name]; ok {
		return endOfDay(nextWeekday(now, wd)), true
	}

	for _, layout := range dueDateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		// Layouts without a year parse into year 0.
		if t.Year() == 0 {
			t = t.AddDate(now.Year(), 0, 0)
			if t.Before(now) {
				t = t.AddDate(1, 0, 0)
			}
		}
		return endOfDay(t.In(now.Location())), true
	}
	return time.Time{}, false
}

// nextWeekday returns the next calendar date falling on wd, always in the
// future (a "Friday" said on Friday means the following week).
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return now.AddDate(0, 0, days)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 0, 0, t.Location())
}
