package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Reminders RemindersConfig `json:"reminders"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/remindbot.db", "busy_timeout": "2s" }
//
// If the section is omitted the sqlite driver is used with DefaultStoragePath.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AllowedUserIDs restricts who may talk to the bot. Empty means everyone.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
	GroupLog       string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// Workers is the number of chat-affine dispatch workers.
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RemindersConfig tunes reminder behaviour. All durations are Go duration strings.
//
// Defaults (when fields are omitted/zero):
//   - default_timezone: "Europe/Kyiv"
//   - transient_ttl: "5s"
//   - delete_inbound: true
//   - snooze_options: ["5m", "15m", "1h"]
//   - on_duplicate: "replace"
//   - send_timeout: "10s"
type RemindersConfig struct {
	DefaultTimezone string `json:"default_timezone,omitempty"`
	TransientTTL    string `json:"transient_ttl,omitempty"`
	// DeleteInbound is a pointer so an omitted key keeps the default (true).
	DeleteInbound *bool    `json:"delete_inbound,omitempty"`
	SnoozeOptions []string `json:"snooze_options,omitempty"`
	OnDuplicate   string   `json:"on_duplicate,omitempty"`
	SendTimeout   string   `json:"send_timeout,omitempty"`
}
