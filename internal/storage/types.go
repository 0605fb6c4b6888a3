package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed        = errors.New("storage closed")
	ErrInvalidRecord = errors.New("invalid record")
)

// DefaultPath is used when the storage section is omitted.
const DefaultPath = "./data/remindbot.db"

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": dependency-free snapshot + journal backend
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OneShotRow is a pending one-shot reminder. Unique on (ChatID, Text).
type OneShotRow struct {
	ChatID int64     `json:"chat_id"`
	Text   string    `json:"text"`
	FireAt time.Time `json:"fire_at"`
}

func (r OneShotRow) validate() error {
	if r.ChatID == 0 || r.Text == "" || r.FireAt.IsZero() {
		return ErrInvalidRecord
	}
	return nil
}

// DailyRow is a recurring reminder definition. Times and dates are chat-local.
type DailyRow struct {
	ID        string `json:"id"`
	ChatID    int64  `json:"chat_id"`
	TimeOfDay string `json:"time_of_day"` // "HH:MM"
	Text      string `json:"text"`
	Weekdays  string `json:"weekdays"` // CSV of time.Weekday numbers
	// LastCompleted is "YYYY-MM-DD" or empty.
	LastCompleted string `json:"last_completed,omitempty"`
	// DeliveredMessageID is 0 when no delivered message is live.
	DeliveredMessageID int    `json:"delivered_message_id,omitempty"`
	DeliveredOn        string `json:"delivered_on,omitempty"`
}

func (r DailyRow) validate() error {
	if r.ID == "" || r.ChatID == 0 || r.Text == "" || r.TimeOfDay == "" {
		return ErrInvalidRecord
	}
	return nil
}
