package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes all writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutOneShot(ctx context.Context, r OneShotRow) error {
	if err := r.validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oneshot_reminders(chat_id, text, fire_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id, text) DO UPDATE SET fire_at=excluded.fire_at`,
		r.ChatID, r.Text, r.FireAt.Unix(),
	)
	return err
}

func (s *sqliteStore) DeleteOneShot(ctx context.Context, chatID int64, text string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oneshot_reminders WHERE chat_id = ? AND text = ?`, chatID, text)
	return err
}

func (s *sqliteStore) ListOneShots(ctx context.Context) ([]OneShotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, text, fire_at FROM oneshot_reminders ORDER BY fire_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OneShotRow
	for rows.Next() {
		var (
			r      OneShotRow
			fireAt int64
		)
		if err := rows.Scan(&r.ChatID, &r.Text, &fireAt); err != nil {
			s.log.Warn("skipping unreadable one-shot row", logx.Err(err))
			continue
		}
		r.FireAt = time.Unix(fireAt, 0).UTC()
		if err := r.validate(); err != nil {
			s.log.Warn("skipping invalid one-shot row", logx.Int64("chat_id", r.ChatID), logx.String("text", r.Text))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDaily(ctx context.Context, r DailyRow) error {
	if err := r.validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_reminders(id, chat_id, time_of_day, text, weekdays, last_completed, delivered_message_id, delivered_on)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   chat_id=excluded.chat_id,
		   time_of_day=excluded.time_of_day,
		   text=excluded.text,
		   weekdays=excluded.weekdays,
		   last_completed=excluded.last_completed,
		   delivered_message_id=excluded.delivered_message_id,
		   delivered_on=excluded.delivered_on`,
		r.ID, r.ChatID, r.TimeOfDay, r.Text, r.Weekdays,
		nullStr(r.LastCompleted), nullInt(r.DeliveredMessageID), nullStr(r.DeliveredOn),
	)
	return err
}

const dailyColumns = `id, chat_id, time_of_day, text, weekdays, last_completed, delivered_message_id, delivered_on`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDaily(sc rowScanner) (DailyRow, error) {
	var (
		r         DailyRow
		last, on  sql.NullString
		delivered sql.NullInt64
	)
	if err := sc.Scan(&r.ID, &r.ChatID, &r.TimeOfDay, &r.Text, &r.Weekdays, &last, &delivered, &on); err != nil {
		return DailyRow{}, err
	}
	r.LastCompleted = last.String
	r.DeliveredMessageID = int(delivered.Int64)
	r.DeliveredOn = on.String
	return r, nil
}

func (s *sqliteStore) GetDaily(ctx context.Context, id string) (DailyRow, bool, error) {
	r, err := scanDaily(s.db.QueryRowContext(ctx, `SELECT `+dailyColumns+` FROM daily_reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return DailyRow{}, false, nil
	}
	if err != nil {
		return DailyRow{}, false, err
	}
	return r, true, nil
}

func (s *sqliteStore) DeleteDaily(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM daily_reminders WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListDaily(ctx context.Context, chatID int64) ([]DailyRow, error) {
	q := `SELECT ` + dailyColumns + ` FROM daily_reminders`
	var args []any
	if chatID != 0 {
		q += ` WHERE chat_id = ?`
		args = append(args, chatID)
	}
	q += ` ORDER BY chat_id, time_of_day, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyRow
	for rows.Next() {
		r, err := scanDaily(rows)
		if err != nil {
			s.log.Warn("skipping unreadable daily row", logx.Err(err))
			continue
		}
		if err := r.validate(); err != nil {
			s.log.Warn("skipping invalid daily row", logx.String("daily_id", r.ID), logx.Int64("chat_id", r.ChatID))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetChatZone(ctx context.Context, chatID int64) (string, bool, error) {
	var zone string
	err := s.db.QueryRowContext(ctx, `SELECT zone FROM chat_zones WHERE chat_id = ?`, chatID).Scan(&zone)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return zone, true, nil
}

func (s *sqliteStore) PutChatZone(ctx context.Context, chatID int64, zone string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_zones(chat_id, zone) VALUES(?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET zone=excluded.zone`,
		chatID, zone,
	)
	return err
}

func (s *sqliteStore) GetListMessage(ctx context.Context, chatID int64) (int, bool, error) {
	var id int
	err := s.db.QueryRowContext(ctx, `SELECT message_id FROM list_messages WHERE chat_id = ?`, chatID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *sqliteStore) PutListMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO list_messages(chat_id, message_id) VALUES(?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET message_id=excluded.message_id`,
		chatID, messageID,
	)
	return err
}

func (s *sqliteStore) DeleteListMessage(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM list_messages WHERE chat_id = ?`, chatID)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
