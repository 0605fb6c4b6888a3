package storage

import (
	"context"
	"errors"
	"strings"

	logx "remindbot/pkg/logx"
)

// Store is the persistence API behind the reminder services.
// Implementations serialize writes internally.
type Store interface {
	PutOneShot(ctx context.Context, r OneShotRow) error
	DeleteOneShot(ctx context.Context, chatID int64, text string) error
	// ListOneShots skips unreadable rows with a warning.
	ListOneShots(ctx context.Context) ([]OneShotRow, error)

	PutDaily(ctx context.Context, r DailyRow) error
	GetDaily(ctx context.Context, id string) (DailyRow, bool, error)
	DeleteDaily(ctx context.Context, id string) error
	// ListDaily returns every definition when chatID is 0, else the chat's.
	// Unreadable rows are skipped with a warning.
	ListDaily(ctx context.Context, chatID int64) ([]DailyRow, error)

	GetChatZone(ctx context.Context, chatID int64) (string, bool, error)
	PutChatZone(ctx context.Context, chatID int64, zone string) error

	GetListMessage(ctx context.Context, chatID int64) (int, bool, error)
	PutListMessage(ctx context.Context, chatID int64, messageID int) error
	DeleteListMessage(ctx context.Context, chatID int64) error

	Close() error
}

// Open initializes the configured store. An empty driver selects sqlite.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
