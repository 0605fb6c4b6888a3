package bot

import (
	"context"
	"errors"
	"strconv"
	"time"

	"remindbot/internal/reminder/daily"
	"remindbot/internal/reminder/oneshot"
	"remindbot/internal/reminder/session"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
)

func (b *Bot) handleReminderCallback(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	switch req.Callback.Action {
	case actDone:
		_, err := b.oneshots.CompleteByMessage(ctx, chatID, req.MessageID)
		if errors.Is(err, oneshot.ErrNotFound) {
			req.Toast = "Already gone"
			return b.msgr.Delete(ctx, b.ref(req))
		}
		if err != nil {
			return err
		}
		req.Toast = "✅ Completed"
		return nil
	case actSnooze:
		secs, err := strconv.Atoi(req.Callback.Arg(0))
		if err != nil || secs <= 0 {
			req.Toast = "Invalid snooze"
			return nil
		}
		d := time.Duration(secs) * time.Second
		_, at, err := b.oneshots.SnoozeByMessage(ctx, chatID, req.MessageID, d)
		if errors.Is(err, oneshot.ErrNotFound) {
			req.Toast = "Already gone"
			return b.msgr.Delete(ctx, b.ref(req))
		}
		if err != nil {
			return err
		}
		loc := b.zones.Location(ctx, chatID)
		req.Toast = "💤 Snoozed until " + at.In(loc).Format("15:04")
		return nil
	}
	return nil
}

func (b *Bot) handleDailyCallback(ctx context.Context, req *router.Request) error {
	if req.Callback.Action != actDone {
		return nil
	}
	_, err := b.daily.DoneByMessage(ctx, req.Chat.ChatID, req.MessageID)
	if errors.Is(err, daily.ErrNotFound) {
		req.Toast = "Already gone"
		return b.msgr.Delete(ctx, b.ref(req))
	}
	if err != nil {
		return err
	}
	req.Toast = "✅ Done for today"
	return nil
}

func (b *Bot) handleHelpCallback(ctx context.Context, req *router.Request) error {
	ref := b.ref(req)
	var err error
	switch req.Callback.Action {
	case helpCollapse:
		err = helpMessage(false).Edit(ctx, b.adapter, ref)
	case helpExpand:
		err = helpMessage(true).Edit(ctx, b.adapter, ref)
	case helpDelete:
		err = b.msgr.Delete(ctx, ref)
	}
	if errors.Is(err, kit.ErrNotModified) || errors.Is(err, kit.ErrMessageNotFound) {
		return nil
	}
	return err
}

// Session actions.
const (
	sesBegin   = "begin"
	sesPick    = "pick"
	sesText    = "text"
	sesDays    = "days"
	sesToggle  = "toggle"
	sesSave    = "save"
	sesConfirm = "confirm"
	sesBack    = "back"
	sesCancel  = "cancel"
)

func (b *Bot) handleSessionCallback(ctx context.Context, req *router.Request) error {
	chatID := req.Chat.ChatID
	var err error
	switch req.Callback.Action {
	case sesBegin:
		p := session.Remove
		if req.Callback.Arg(0) == session.Edit.String() {
			p = session.Edit
		}
		_, err = b.sessions.Begin(ctx, chatID, p)
	case sesPick:
		var i int
		if i, err = strconv.Atoi(req.Callback.Arg(0)); err == nil {
			_, err = b.sessions.Pick(ctx, chatID, i)
		} else {
			err = session.ErrInvalidTransition
		}
	case sesText:
		_, err = b.sessions.ChooseText(chatID)
	case sesDays:
		_, err = b.sessions.ChooseDays(ctx, chatID)
	case sesToggle:
		var d int
		if d, err = strconv.Atoi(req.Callback.Arg(0)); err == nil {
			_, err = b.sessions.ToggleDay(chatID, time.Weekday(d))
		} else {
			err = session.ErrInvalidTransition
		}
	case sesSave:
		if err = b.sessions.SaveDays(ctx, chatID); err == nil {
			req.Toast = "💾 Saved"
		}
	case sesConfirm:
		var t session.Target
		if t, err = b.sessions.Confirm(ctx, chatID); err == nil {
			req.Toast = "🗑️ Deleted " + t.Text
		}
	case sesBack:
		_, err = b.sessions.Back(ctx, chatID)
	case sesCancel:
		b.sessions.Cancel(chatID)
	default:
		err = session.ErrInvalidTransition
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNothingToSelect):
		req.Toast = msgNothingToDel
		return nil
	case errors.Is(err, session.ErrEmptyWeekdays):
		req.Toast = "Select at least one day"
		return nil
	case errors.Is(err, session.ErrInvalidTransition):
		req.Toast = "This menu is out of date"
		b.requestRefresh(chatID)
		return nil
	}
	req.Toast = "⚠️ Something went wrong"
	return err
}

func (b *Bot) ref(req *router.Request) kit.MessageRef {
	return kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
}
