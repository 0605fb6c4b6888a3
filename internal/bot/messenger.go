package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	"remindbot/pkg/tgui"
)

// Callback scopes and actions.
const (
	scopeReminder = "rem"
	scopeDaily    = "daily"
	scopeHelp     = "help"
	scopeSession  = "ses"

	actDone   = "done"
	actSnooze = "snooze"
)

// Messenger renders reminder messages and their buttons. It implements
// reminder.Messenger.
type Messenger struct {
	adapter kit.Adapter
	snooze  atomic.Pointer[[]time.Duration]
}

var _ reminder.Messenger = (*Messenger)(nil)

func NewMessenger(adapter kit.Adapter, snooze []time.Duration) *Messenger {
	m := &Messenger{adapter: adapter}
	m.SetSnoozeOptions(snooze)
	return m
}

// SetSnoozeOptions changes the snooze buttons of future messages.
func (m *Messenger) SetSnoozeOptions(opts []time.Duration) {
	cp := make([]time.Duration, 0, len(opts))
	for _, d := range opts {
		if d >= time.Second {
			cp = append(cp, d)
		}
	}
	m.snooze.Store(&cp)
}

func (m *Messenger) snoozeOptions() []time.Duration {
	if p := m.snooze.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Messenger) SendOneShot(ctx context.Context, chatID int64, text string) (kit.MessageRef, error) {
	return m.oneShotMessage(text).Send(ctx, m.adapter, kit.ChatTarget{ChatID: chatID})
}

func (m *Messenger) EditOneShot(ctx context.Context, ref kit.MessageRef, text string) (kit.MessageRef, error) {
	err := m.oneShotMessage(text).Edit(ctx, m.adapter, ref)
	switch {
	case err == nil, errors.Is(err, kit.ErrNotModified):
		return ref, nil
	case errors.Is(err, kit.ErrMessageNotFound):
		return m.SendOneShot(ctx, ref.ChatID, text)
	}
	return kit.MessageRef{}, err
}

func (m *Messenger) SendDaily(ctx context.Context, chatID int64, text string) (kit.MessageRef, error) {
	msg := tgui.New().
		HTML(tgui.JoinH(" ", "🔁", tgui.B(text))).
		Inline(tgui.NewInline().Row(tgui.Btn("✅ Done", tgui.Data(scopeDaily, actDone)))).
		Build()
	return msg.Send(ctx, m.adapter, kit.ChatTarget{ChatID: chatID})
}

func (m *Messenger) Delete(ctx context.Context, ref kit.MessageRef) error {
	if ref.IsZero() {
		return nil
	}
	err := m.adapter.DeleteMessage(ctx, ref)
	if errors.Is(err, kit.ErrMessageNotFound) {
		return nil
	}
	return err
}

func (m *Messenger) oneShotMessage(text string) tgui.Message {
	kb := tgui.NewInline().Row(tgui.Btn("✅ Complete", tgui.Data(scopeReminder, actDone)))
	var snooze []tgui.Button
	for _, d := range m.snoozeOptions() {
		snooze = append(snooze, tgui.Btn("💤 "+shortDuration(d), tgui.Data(scopeReminder, actSnooze, strconv.FormatInt(int64(d/time.Second), 10))))
	}
	kb.Grid(4, snooze...)
	return tgui.New().
		HTML(tgui.JoinH(" ", "⏰", tgui.B(text))).
		Inline(kb).
		Build()
}

// shortDuration formats d in its largest whole unit: 90m, 1h, 45s.
func shortDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return fmt.Sprintf("%ds", d/time.Second)
}
