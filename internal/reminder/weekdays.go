package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Weekdays is a set of days; bit i is time.Weekday(i) (Sunday = 0).
type Weekdays uint8

const allWeekdays Weekdays = 1<<7 - 1

// AllWeekdays returns the set of every day.
func AllWeekdays() Weekdays { return allWeekdays }

func WeekdaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w = w.With(d)
	}
	return w
}

func (w Weekdays) Has(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday && w&(1<<uint(d)) != 0
}

func (w Weekdays) With(d time.Weekday) Weekdays {
	if d < time.Sunday || d > time.Saturday {
		return w
	}
	return w | 1<<uint(d)
}

func (w Weekdays) Toggle(d time.Weekday) Weekdays {
	if d < time.Sunday || d > time.Saturday {
		return w
	}
	return w ^ 1<<uint(d)
}

func (w Weekdays) IsEmpty() bool { return w&allWeekdays == 0 }

// Days lists the members Monday first.
func (w Weekdays) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for _, d := range MondayFirst {
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// MondayFirst is the display order of the week.
var MondayFirst = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

// CSV renders the persisted form, e.g. "1,3,5".
func (w Weekdays) CSV() string {
	parts := make([]string, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			parts = append(parts, strconv.Itoa(int(d)))
		}
	}
	return strings.Join(parts, ",")
}

// ParseWeekdaysCSV parses the persisted form. Empty input is an error.
func ParseWeekdaysCSV(s string) (Weekdays, error) {
	var w Weekdays
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			return 0, fmt.Errorf("invalid weekday %q", p)
		}
		w = w.With(time.Weekday(n))
	}
	if w.IsEmpty() {
		return 0, fmt.Errorf("empty weekday set %q", s)
	}
	return w, nil
}

// ShortDay is the three-letter English name.
func ShortDay(d time.Weekday) string { return d.String()[:3] }

// String renders the set for humans: "every day", "weekdays", "Mon, Wed".
func (w Weekdays) String() string {
	switch w & allWeekdays {
	case allWeekdays:
		return "every day"
	case 0:
		return "never"
	case WeekdaysOf(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday):
		return "weekdays"
	case WeekdaysOf(time.Saturday, time.Sunday):
		return "weekends"
	}
	days := w.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = ShortDay(d)
	}
	return strings.Join(names, ", ")
}
