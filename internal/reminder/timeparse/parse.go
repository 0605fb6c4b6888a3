// Package timeparse turns free-text reminder requests into schedules.
//
// Rules are tried in a fixed order and the first rule whose shape matches
// decides the result:
//
//	daily HH:MM <text>
//	day after tomorrow|tomorrow|today HH:MM <text>
//	<day> <month> HH:MM <text>
//	<day> <month> HH <text>
//	HH:MM <text>
//	[<N>h][<N>m][<N>s] <text>
//
// Keywords and month names are case-insensitive; the reminder text is kept
// as typed.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
)

type Kind int

const (
	NoMatch Kind = iota
	// Duration is a relative delay from now.
	Duration
	// Absolute is a future wall-clock instant.
	Absolute
	// Past is an absolute instant that is not in the future.
	Past
	// Recurrence is a daily schedule.
	Recurrence
)

func (k Kind) String() string {
	switch k {
	case Duration:
		return "duration"
	case Absolute:
		return "absolute"
	case Past:
		return "past"
	case Recurrence:
		return "recurrence"
	}
	return "no_match"
}

// MaxDelay bounds relative delays.
const MaxDelay = 366 * 24 * time.Hour

// Result is the outcome of Parse. Only the fields of Kind are set.
type Result struct {
	Kind Kind
	Text string

	Delay time.Duration // Duration
	At    time.Time     // Absolute, Past (in the parse zone)

	Time     reminder.TimeOfDay // Recurrence
	Weekdays reminder.Weekdays  // Recurrence
}

// FireAt returns the instant the reminder is due, relative to now for Duration.
func (r Result) FireAt(now time.Time) time.Time {
	switch r.Kind {
	case Duration:
		return now.Add(r.Delay)
	case Absolute, Past:
		return r.At
	}
	return time.Time{}
}

var (
	reDaily    = regexp.MustCompile(`(?is)^daily\s+(\d{1,2}):(\d{2})\s+(.+)$`)
	reRelative = regexp.MustCompile(`(?is)^(day\s+after\s+tomorrow|tomorrow|today)\s+(\d{1,2}):(\d{2})\s+(.+)$`)
	reDateHM   = regexp.MustCompile(`(?is)^(\d{1,2})\s+([a-z]+)\s+(\d{1,2}):(\d{2})\s+(.+)$`)
	reDateH    = regexp.MustCompile(`(?is)^(\d{1,2})\s+([a-z]+)\s+(\d{1,2})\s+(.+)$`)
	reClock    = regexp.MustCompile(`(?s)^(\d{1,2}):(\d{2})\s+(.+)$`)
	reDelay    = regexp.MustCompile(`(?is)^(?:(\d{1,9})h)?(?:(\d{1,9})m)?(?:(\d{1,9})s)?\s+(.+)$`)
)

// Parse interprets text in loc at instant now. A nil loc means UTC.
func Parse(text string, loc *time.Location, now time.Time) Result {
	if loc == nil {
		loc = time.UTC
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}
	}
	local := now.In(loc)

	if m := reDaily.FindStringSubmatch(text); m != nil {
		tod, ok := timeOfDay(m[1], m[2])
		body := strings.TrimSpace(m[3])
		if !ok || body == "" {
			return Result{}
		}
		return Result{Kind: Recurrence, Text: body, Time: tod, Weekdays: reminder.AllWeekdays()}
	}

	if m := reRelative.FindStringSubmatch(text); m != nil {
		tod, ok := timeOfDay(m[2], m[3])
		if !ok {
			return Result{}
		}
		offset := 0
		switch kw := strings.ToLower(strings.Join(strings.Fields(m[1]), " ")); kw {
		case "tomorrow":
			offset = 1
		case "day after tomorrow":
			offset = 2
		}
		y, mo, d := local.Date()
		at := time.Date(y, mo, d+offset, tod.Hour, tod.Minute, 0, 0, loc)
		return absolute(at, m[4], local)
	}

	if m := reDateHM.FindStringSubmatch(text); m != nil {
		if r, ok := dated(m[1], m[2], m[3], m[4], m[5], local); ok {
			return r
		}
	}
	if m := reDateH.FindStringSubmatch(text); m != nil {
		if r, ok := dated(m[1], m[2], m[3], "00", m[4], local); ok {
			return r
		}
	}

	if m := reClock.FindStringSubmatch(text); m != nil {
		tod, ok := timeOfDay(m[1], m[2])
		if !ok {
			return Result{}
		}
		return absolute(tod.On(local), m[3], local)
	}

	if m := reDelay.FindStringSubmatch(text); m != nil {
		var total time.Duration
		for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
			n, err := atoi(m[i+1])
			// Checked before multiplying: nine-digit counts overflow Duration.
			if err != nil || n > int(MaxDelay/unit) {
				return Result{}
			}
			total += time.Duration(n) * unit
		}
		body := strings.TrimSpace(m[4])
		if total <= 0 || total > MaxDelay || body == "" {
			return Result{}
		}
		return Result{Kind: Duration, Text: body, Delay: total}
	}
	return Result{}
}

// dated handles "<day> <month> HH[:MM]". ok is false when the month word is
// not a month so later rules may still match.
func dated(day, month, hour, minute, body string, local time.Time) (Result, bool) {
	mo, ok := parseMonth(month)
	if !ok {
		return Result{}, false
	}
	tod, ok := timeOfDay(hour, minute)
	if !ok {
		return Result{}, true
	}
	d, _ := atoi(day)
	at := time.Date(local.Year(), mo, d, tod.Hour, tod.Minute, 0, 0, local.Location())
	// time.Date normalizes 31 Apr into May; reject instead.
	if d < 1 || at.Month() != mo || at.Day() != d {
		return Result{}, true
	}
	return absolute(at, body, local), true
}

func absolute(at time.Time, body string, local time.Time) Result {
	body = strings.TrimSpace(body)
	if body == "" {
		return Result{}
	}
	if !at.After(local) {
		return Result{Kind: Past, Text: body, At: at}
	}
	return Result{Kind: Absolute, Text: body, At: at}
}

func timeOfDay(h, m string) (reminder.TimeOfDay, bool) {
	hour, err := atoi(h)
	if err != nil {
		return reminder.TimeOfDay{}, false
	}
	minute, err := atoi(m)
	if err != nil {
		return reminder.TimeOfDay{}, false
	}
	tod, err := reminder.NewTimeOfDay(hour, minute)
	return tod, err == nil
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// parseMonth accepts full English month names and their three-letter forms.
func parseMonth(s string) (time.Month, bool) {
	s = strings.ToLower(s)
	for m := time.January; m <= time.December; m++ {
		full := strings.ToLower(m.String())
		if s == full || s == full[:3] {
			return m, true
		}
	}
	return 0, false
}
