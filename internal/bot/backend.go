package bot

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/reminder/daily"
	"remindbot/internal/reminder/oneshot"
	"remindbot/internal/reminder/session"
)

// SessionBackend exposes one-shot and daily reminders as session targets.
// Removing a reminder that is already gone succeeds.
type SessionBackend struct {
	OneShots *oneshot.Scheduler
	Daily    *daily.Engine
	Zones    reminder.ZoneResolver
	Clock    reminder.Clock
}

var _ session.Backend = SessionBackend{}

func (sb SessionBackend) Targets(ctx context.Context, chatID int64) ([]session.Target, error) {
	loc := time.UTC
	if sb.Zones != nil {
		loc = sb.Zones.Location(ctx, chatID)
	}
	now := time.Now()
	if sb.Clock != nil {
		now = sb.Clock.Now()
	}
	var out []session.Target
	for _, v := range sb.OneShots.List(chatID) {
		out = append(out, session.Target{
			Kind:   session.OneShot,
			ChatID: chatID,
			Text:   v.Text,
			Detail: formatWhen(v.FireAt.In(loc), now.In(loc)),
		})
	}
	dailies, err := sb.Daily.List(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, v := range dailies {
		out = append(out, session.Target{
			Kind:    session.Daily,
			ChatID:  chatID,
			Text:    v.Text,
			DailyID: v.ID,
			Detail:  v.Time.String() + ", " + v.Weekdays.String(),
		})
	}
	return out, nil
}

func (sb SessionBackend) Remove(ctx context.Context, t session.Target) error {
	var err error
	if t.Kind == session.Daily {
		err = sb.Daily.Delete(ctx, t.DailyID)
	} else {
		err = sb.OneShots.Cancel(ctx, reminder.Key{ChatID: t.ChatID, Text: t.Text})
	}
	if errors.Is(err, daily.ErrNotFound) || errors.Is(err, oneshot.ErrNotFound) {
		return nil
	}
	return err
}

func (sb SessionBackend) Rename(ctx context.Context, t session.Target, text string) error {
	if t.Kind == session.Daily {
		return sb.Daily.SetText(ctx, t.DailyID, text)
	}
	return sb.OneShots.Edit(ctx, reminder.Key{ChatID: t.ChatID, Text: t.Text}, text)
}

func (sb SessionBackend) Weekdays(ctx context.Context, t session.Target) (reminder.Weekdays, error) {
	v, err := sb.Daily.Get(ctx, t.DailyID)
	if err != nil {
		return 0, err
	}
	return v.Weekdays, nil
}

func (sb SessionBackend) SetWeekdays(ctx context.Context, t session.Target, days reminder.Weekdays) error {
	return sb.Daily.SetWeekdays(ctx, t.DailyID, days)
}
