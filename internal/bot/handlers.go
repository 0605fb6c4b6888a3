package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/reminder"
	"remindbot/internal/reminder/daily"
	"remindbot/internal/reminder/oneshot"
	"remindbot/internal/reminder/session"
	"remindbot/internal/reminder/timeparse"
	"remindbot/internal/reminder/zones"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

const (
	msgPast         = "⏰ This time has already passed."
	msgUnrecognized = "I didn't understand that. Try /help"
	msgAllDeleted   = "🗑️ All reminders deleted."
	msgNothingToDel = "There are no reminders."
)

// Registry returns the bot's routes.
func (b *Bot) Registry() router.Registry {
	return router.Registry{
		Commands: []router.Command{
			{Name: "help", Aliases: []string{"start"}, Description: "How to set reminders", Handle: b.inbound(b.handleHelp)},
			{Name: "list", Description: "Show the reminder list", Handle: b.inbound(b.handleList)},
			{Name: "remove", Description: "Remove a reminder", Handle: b.inbound(b.beginSession(session.Remove))},
			{Name: "edit", Description: "Edit a reminder", Handle: b.inbound(b.beginSession(session.Edit))},
			{Name: "time", Description: "Show the current time", Handle: b.inbound(b.handleTime)},
			{Name: "timezone", Description: "Show or set the chat timezone", Handle: b.inbound(b.handleTimezone)},
		},
		Callbacks: []router.CallbackRoute{
			{Scope: scopeReminder, Handle: b.handleReminderCallback},
			{Scope: scopeDaily, Handle: b.handleDailyCallback},
			{Scope: scopeHelp, Handle: b.handleHelpCallback},
			{Scope: scopeSession, Handle: b.handleSessionCallback},
		},
		Text:    b.inbound(b.HandleText),
		Unknown: b.inbound(b.handleUnknown),
	}
}

// inbound deletes the user's message after the transient TTL when configured.
func (b *Bot) inbound(h router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		err := h(ctx, req)
		if b.settings().deleteInbound && req.MessageID != 0 {
			b.deleteLater(kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID})
		}
		return err
	}
}

// HandleText handles a plain text message: a pending edit, a text command or
// a new reminder.
func (b *Bot) HandleText(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil
	}

	if _, editing := b.sessions.Current(chatID).(session.EditText); editing {
		return b.submitEdit(ctx, req, text)
	}

	lower := strings.ToLower(text)
	switch {
	case lower == "delete all" || lower == "del all":
		return b.deleteAll(ctx, req)
	case strings.HasPrefix(lower, "delete "):
		return b.deleteOne(ctx, req, strings.TrimSpace(text[len("delete "):]))
	case strings.HasPrefix(lower, "del "):
		return b.deleteOne(ctx, req, strings.TrimSpace(text[len("del "):]))
	case lower == "time":
		return b.handleTime(ctx, req)
	}

	loc := b.zones.Location(ctx, chatID)
	now := b.clock.Now()
	res := timeparse.Parse(text, loc, now)
	switch res.Kind {
	case timeparse.Recurrence:
		v, err := b.daily.Define(ctx, chatID, res.Time, res.Text, res.Weekdays)
		if err != nil {
			b.transient(ctx, req.Chat, "⚠️ Could not save the daily reminder.")
			return err
		}
		b.transient(ctx, req.Chat, fmt.Sprintf("🔁 Daily reminder set for %s (%s).", v.Time, v.Weekdays))
		return nil
	case timeparse.Duration, timeparse.Absolute:
		return b.create(ctx, req, res, now, loc)
	case timeparse.Past:
		b.transient(ctx, req.Chat, msgPast)
		return nil
	}
	b.transient(ctx, req.Chat, msgUnrecognized)
	return nil
}

func (b *Bot) create(ctx context.Context, req *router.Request, res timeparse.Result, now time.Time, loc *time.Location) error {
	fireAt := res.FireAt(now)
	key := reminder.Key{ChatID: req.Chat.ChatID, Text: res.Text}
	replaced, err := b.oneshots.Create(ctx, key, fireAt)
	switch {
	case errors.Is(err, oneshot.ErrDuplicate):
		b.transient(ctx, req.Chat, fmt.Sprintf("⚠️ A reminder %q already exists.", res.Text))
		return nil
	case err != nil:
		b.transient(ctx, req.Chat, "⚠️ Could not save the reminder.")
		return err
	}
	prefix := "⏳ Reminder set"
	if replaced {
		prefix = "♻️ Reminder replaced"
	}
	b.transient(ctx, req.Chat, fmt.Sprintf("%s for %s (%s).", prefix, formatWhen(fireAt.In(loc), now.In(loc)), humanize.RelTime(fireAt, now, "ago", "from now")))
	return nil
}

func (b *Bot) submitEdit(ctx context.Context, req *router.Request, text string) error {
	err := b.sessions.SubmitText(ctx, req.Chat.ChatID, text)
	switch {
	case err == nil:
		b.transient(ctx, req.Chat, "✏️ Reminder updated.")
		return nil
	case errors.Is(err, oneshot.ErrDuplicate):
		b.transient(ctx, req.Chat, fmt.Sprintf("⚠️ A reminder %q already exists.", text))
		return nil
	case errors.Is(err, session.ErrInvalidTransition):
		return nil
	}
	b.transient(ctx, req.Chat, "⚠️ Could not update the reminder.")
	return err
}

func (b *Bot) deleteAll(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	n := b.oneshots.DeleteAll(ctx, chatID)
	m, err := b.daily.DeleteAll(ctx, chatID)
	if err != nil {
		b.transient(ctx, req.Chat, "⚠️ Could not delete every reminder.")
		return err
	}
	b.sessions.Cancel(chatID)
	if n+m == 0 {
		b.transient(ctx, req.Chat, msgNothingToDel)
		return nil
	}
	b.transient(ctx, req.Chat, msgAllDeleted)
	return nil
}

func (b *Bot) deleteOne(ctx context.Context, req *router.Request, text string) error {
	chatID := req.Chat.ChatID
	if key, ok := b.findOneShot(chatID, text); ok {
		err := b.oneshots.Cancel(ctx, key)
		if err == nil {
			b.transient(ctx, req.Chat, fmt.Sprintf("✅ Reminder %q deleted.", key.Text))
			return nil
		}
		if !errors.Is(err, oneshot.ErrNotFound) {
			return err
		}
	}
	v, ok, err := b.daily.FindByText(ctx, chatID, text)
	if err != nil {
		return err
	}
	if ok {
		if err := b.daily.Delete(ctx, v.ID); err != nil && !errors.Is(err, daily.ErrNotFound) {
			return err
		}
		b.transient(ctx, req.Chat, fmt.Sprintf("✅ Daily reminder %q deleted.", v.Text))
		return nil
	}
	b.transient(ctx, req.Chat, fmt.Sprintf("⚠️ No reminder found with message: %q", text))
	return nil
}

// findOneShot matches text case-insensitively, preferring an exact match.
func (b *Bot) findOneShot(chatID int64, text string) (reminder.Key, bool) {
	var folded reminder.Key
	found := false
	for _, v := range b.oneshots.List(chatID) {
		if v.Text == text {
			return v.Key, true
		}
		if !found && strings.EqualFold(v.Text, text) {
			folded, found = v.Key, true
		}
	}
	return folded, found
}

func (b *Bot) handleTime(ctx context.Context, req *router.Request) error {
	loc := b.zones.Location(ctx, req.Chat.ChatID)
	now := b.clock.Now().In(loc)
	b.transient(ctx, req.Chat, fmt.Sprintf("🕒 Current time: %s (%s)", now.Format("15:04:05"), loc))
	return nil
}

func (b *Bot) handleTimezone(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	if len(req.Args) == 0 {
		name, explicit := b.zones.Zone(ctx, chatID)
		suffix := " (default)"
		if explicit {
			suffix = "\nBot default: " + b.zones.Default().String()
		}
		_, err := b.adapter.SendText(ctx, req.Chat, fmt.Sprintf("🌍 Timezone: %s%s\nChange it with /timezone Area/City", name, suffix), nil)
		return err
	}
	loc, err := b.zones.Set(ctx, chatID, req.Args[0])
	if errors.Is(err, zones.ErrInvalidZone) {
		b.transient(ctx, req.Chat, fmt.Sprintf("⚠️ Unknown timezone %q. Use an IANA name such as Europe/Berlin.", req.Args[0]))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = b.adapter.SendText(ctx, req.Chat, fmt.Sprintf("🌍 Timezone set to %s.", loc), nil)
	b.requestRefresh(chatID)
	return err
}

func (b *Bot) handleList(ctx context.Context, req *router.Request) error {
	return b.RepostList(ctx, req.Chat.ChatID)
}

func (b *Bot) beginSession(p session.Purpose) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		_, err := b.sessions.Begin(ctx, req.Chat.ChatID, p)
		if errors.Is(err, session.ErrNothingToSelect) {
			b.transient(ctx, req.Chat, msgNothingToDel)
			return nil
		}
		if err != nil {
			return err
		}
		return b.RepostList(ctx, req.Chat.ChatID)
	}
}

func (b *Bot) handleUnknown(ctx context.Context, req *router.Request) error {
	b.transient(ctx, req.Chat, msgUnrecognized)
	return nil
}

// requestRefresh asks for a list refresh without blocking the caller.
func (b *Bot) requestRefresh(chatID int64) {
	if b.bus != nil {
		reminder.BusRefresher{Bus: b.bus}.RequestRefresh(chatID)
		return
	}
	if err := b.Refresh(context.Background(), chatID); err != nil {
		b.log.Warn("list refresh failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// formatWhen prints t relative to the calendar day of now.
func formatWhen(t, now time.Time) string {
	y, m, d := t.Date()
	ny, nm, nd := now.Date()
	switch {
	case y == ny && m == nm && d == nd:
		return t.Format("15:04")
	case y == ny:
		return t.Format("Mon 2 Jan 15:04")
	}
	return t.Format("Mon 2 Jan 2006 15:04")
}
