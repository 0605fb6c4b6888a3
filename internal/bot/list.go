package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/reminder/session"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Refresh re-renders the chat's list message. Concurrent calls for one chat
// are coalesced; a call that arrives during a render triggers one more.
func (b *Bot) Refresh(ctx context.Context, chatID int64) error {
	b.markDirty(chatID, false)
	return b.flush(ctx, chatID)
}

// RepostList deletes the list message and posts a fresh one at the bottom of
// the chat.
func (b *Bot) RepostList(ctx context.Context, chatID int64) error {
	b.markDirty(chatID, true)
	return b.flush(ctx, chatID)
}

func (b *Bot) markDirty(chatID int64, repost bool) {
	b.dirtyMu.Lock()
	b.dirty[chatID] = true
	if repost {
		b.repost[chatID] = true
	}
	b.dirtyMu.Unlock()
}

func (b *Bot) takeDirty(chatID int64) (dirty, repost bool) {
	b.dirtyMu.Lock()
	defer b.dirtyMu.Unlock()
	dirty, repost = b.dirty[chatID], b.repost[chatID]
	delete(b.dirty, chatID)
	delete(b.repost, chatID)
	return dirty, repost
}

func (b *Bot) flush(ctx context.Context, chatID int64) error {
	_, err, _ := b.sf.Do(strconv.FormatInt(chatID, 10), func() (any, error) {
		var last error
		for {
			dirty, repost := b.takeDirty(chatID)
			if !dirty {
				return nil, last
			}
			last = b.render(ctx, chatID, repost)
		}
	})
	return err
}

func (b *Bot) render(ctx context.Context, chatID int64, repost bool) error {
	st, err := b.sessions.Sync(ctx, chatID)
	if err != nil {
		b.log.Warn("session sync failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	dailies, err := b.daily.List(ctx, chatID)
	if err != nil {
		return err
	}
	loc := b.zones.Location(ctx, chatID)
	msg := renderList(listData{
		OneShots: b.oneshots.List(chatID),
		Dailies:  dailies,
		State:    st,
		Loc:      loc,
		Now:      b.clock.Now(),
	})

	id, ok, err := b.store.GetListMessage(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load list message: %w", err)
	}
	ref := kit.MessageRef{ChatID: chatID, MessageID: id}
	if ok && repost {
		if err := b.msgr.Delete(ctx, ref); err != nil {
			b.log.Debug("delete old list message failed", logx.Int64("chat_id", chatID), logx.Err(err))
		}
		ok = false
	}
	if ok {
		err := msg.Edit(ctx, b.adapter, ref)
		switch {
		case err == nil, errors.Is(err, kit.ErrNotModified):
			return nil
		case !errors.Is(err, kit.ErrMessageNotFound):
			return fmt.Errorf("edit list message: %w", err)
		}
	}

	newRef, err := msg.Send(ctx, b.adapter, kit.ChatTarget{ChatID: chatID})
	if err != nil {
		return fmt.Errorf("send list message: %w", err)
	}
	if err := b.store.PutListMessage(ctx, chatID, newRef.MessageID); err != nil {
		return fmt.Errorf("persist list message: %w", err)
	}
	return nil
}

type listData struct {
	OneShots []reminder.OneShotView
	Dailies  []reminder.DailyView
	State    session.State
	Loc      *time.Location
	Now      time.Time
}

const maxButtonLabel = 40

func renderList(d listData) tgui.Message {
	if d.Loc == nil {
		d.Loc = time.UTC
	}
	now := d.Now.In(d.Loc)
	b := tgui.New().Title("📋", "Reminders")

	if len(d.OneShots) == 0 && len(d.Dailies) == 0 {
		b.Blank().HTML(tgui.I("No reminders.") + " Send " + tgui.Code("10m tea") + " or /help.")
	}
	if len(d.OneShots) > 0 {
		b.Blank()
		for _, v := range d.OneShots {
			line := "• " + tgui.B(v.Text) + " at " + tgui.I(formatWhen(v.FireAt.In(d.Loc), now))
			if v.Delivered {
				line += " 🔔"
			}
			b.HTML(line)
		}
	}
	if len(d.Dailies) > 0 {
		b.Blank().HTML(tgui.B("🔁 Daily"))
		for _, v := range d.Dailies {
			line := "• " + tgui.B(v.Text) + " at " + tgui.I(v.Time.String()) + ", " + tgui.Esc(v.Weekdays.String())
			if v.DoneToday {
				line += " ✅"
			}
			b.HTML(line)
		}
	}

	kb := tgui.NewInline()
	switch s := d.State.(type) {
	case session.Selecting:
		verb, icon := "delete", "🗑️"
		if s.Purpose == session.Edit {
			verb, icon = "edit", "✏️"
		}
		b.Blank().Line(icon + " Select a reminder to " + verb + ":")
		btns := make([]tgui.Button, 0, len(s.Targets))
		for i, t := range s.Targets {
			btns = append(btns, tgui.Btn(icon+" "+tgui.TruncRunes(t.Label(), maxButtonLabel), tgui.Data(scopeSession, sesPick, strconv.Itoa(i))))
		}
		kb.Grid(1, btns...).Row(cancelBtn())
	case session.ConfirmDelete:
		b.Blank().HTML("Delete " + tgui.B(s.Target.Label()) + "?")
		kb = tgui.ConfirmInline(
			tgui.Btn("✅ Yes", tgui.Data(scopeSession, sesConfirm)),
			tgui.Btn("⬅️ No", tgui.Data(scopeSession, sesBack)),
		)
	case session.ChooseEditField:
		b.Blank().HTML("Edit " + tgui.B(s.Target.Label()) + ":")
		kb.Row(
			tgui.Btn("✏️ Text", tgui.Data(scopeSession, sesText)),
			tgui.Btn("📅 Days", tgui.Data(scopeSession, sesDays)),
		).Row(backBtn(), cancelBtn())
	case session.EditText:
		b.Blank().HTML("✏️ Send the new text for " + tgui.B(s.Target.Text) + ".")
		kb.Row(backBtn(), cancelBtn())
	case session.EditDays:
		b.Blank().HTML("📅 Days for " + tgui.B(s.Target.Text) + ": " + tgui.Esc(s.Working.String()))
		days := make([]tgui.Button, 0, 7)
		for _, wd := range reminder.MondayFirst {
			mark := "▫️ "
			if s.Working.Has(wd) {
				mark = "✅ "
			}
			days = append(days, tgui.Btn(mark+reminder.ShortDay(wd), tgui.Data(scopeSession, sesToggle, strconv.Itoa(int(wd)))))
		}
		kb.Grid(4, days...).
			Row(tgui.Btn("💾 Save", tgui.Data(scopeSession, sesSave)), backBtn(), cancelBtn())
	default:
		if len(d.OneShots)+len(d.Dailies) > 0 {
			kb.Row(
				tgui.Btn("🗑️ Remove", tgui.Data(scopeSession, sesBegin, session.Remove.String())),
				tgui.Btn("✏️ Edit", tgui.Data(scopeSession, sesBegin, session.Edit.String())),
			)
		}
	}
	return b.Inline(kb).Build()
}

func backBtn() tgui.Button   { return tgui.Btn("⬅️ Back", tgui.Data(scopeSession, sesBack)) }
func cancelBtn() tgui.Button { return tgui.Btn("✖️ Cancel", tgui.Data(scopeSession, sesCancel)) }
