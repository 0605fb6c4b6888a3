package reminder

import "time"

// Key identifies a one-shot reminder. Text is unique per chat.
type Key struct {
	ChatID int64
	Text   string
}

// OneShotView is a read-only snapshot of a live one-shot reminder.
type OneShotView struct {
	Key
	FireAt    time.Time
	Delivered bool
}

// DailyView is a read-only snapshot of a daily reminder for one local day.
type DailyView struct {
	ID        string
	ChatID    int64
	Time      TimeOfDay
	Text      string
	Weekdays  Weekdays
	DoneToday bool
	Delivered bool
}
