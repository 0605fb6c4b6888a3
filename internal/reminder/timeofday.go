package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time in a chat's zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time %02d:%02d", hour, minute)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// ParseTimeOfDay accepts "H:MM" or "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 || len(h) == 0 || len(h) > 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q", s)
	}
	return NewTimeOfDay(hour, minute)
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Matches reports whether local falls within this minute.
func (t TimeOfDay) Matches(local time.Time) bool {
	return local.Hour() == t.Hour && local.Minute() == t.Minute
}

// On returns the instant at this time on local's calendar day, in local's zone.
func (t TimeOfDay) On(local time.Time) time.Time {
	y, mo, d := local.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, local.Location())
}

// DateLayout is the persisted form of a local calendar date.
const DateLayout = "2006-01-02"

// LocalDate formats t's calendar day in its own zone.
func LocalDate(t time.Time) string { return t.Format(DateLayout) }
