package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/config"
	"remindbot/internal/reminder"
	"remindbot/internal/reminder/daily"
	"remindbot/internal/reminder/oneshot"
	"remindbot/internal/reminder/remindertest"
	"remindbot/internal/reminder/session"
	"remindbot/internal/reminder/zones"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	"remindbot/internal/transport/transporttest"
	logx "remindbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const chat = int64(42)

// monday 09:00 UTC
var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t        *testing.T
	ctx      context.Context
	bot      *Bot
	router   *router.Router
	ad       *transporttest.Adapter
	clock    *remindertest.Clock
	store    *remindertest.Store
	oneshots *oneshot.Scheduler
	daily    *daily.Engine
	sessions *session.Machine
	nextMsg  int
}

func newHarness(t *testing.T, mutate ...func(*config.RemindersConfig)) *harness {
	t.Helper()
	ctx := context.Background()
	clock := remindertest.NewClock(t0)
	store := remindertest.NewStore()
	ad := transporttest.New()

	rc := config.RemindersConfig{DefaultTimezone: "UTC"}
	for _, fn := range mutate {
		fn(&rc)
	}
	cfg, err := config.ResolveReminders(rc)
	require.NoError(t, err)

	var b *Bot
	refresh := reminder.RefreshFunc(func(chatID int64) {
		_ = b.Refresh(context.Background(), chatID)
	})

	msgr := NewMessenger(ad, cfg.SnoozeOptions)
	zs := zones.New(store, cfg.Location, logx.Nop())
	sched := oneshot.New(oneshot.Options{Store: store, Messenger: msgr, Refresher: refresh, Clock: clock})
	de := daily.New(daily.Options{Store: store, Messenger: msgr, Refresher: refresh, Zones: zs, Clock: clock})
	sessions := session.NewMachine(SessionBackend{OneShots: sched, Daily: de, Zones: zs, Clock: clock}, refresh,
		session.WithNow(clock.Now))

	b = New(Options{
		Adapter:   ad,
		Store:     store,
		OneShots:  sched,
		Daily:     de,
		Sessions:  sessions,
		Zones:     zs,
		Messenger: msgr,
		Clock:     clock,
		Config:    cfg,
	})
	require.NoError(t, sched.Start(ctx))
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, b.Stop(context.Background()))
		require.NoError(t, sched.Stop(context.Background()))
	})

	r := router.New(logx.Nop(), ad)
	r.SetRegistry(ctx, b.Registry())

	return &harness{
		t: t, ctx: ctx, bot: b, router: r, ad: ad, clock: clock, store: store,
		oneshots: sched, daily: de, sessions: sessions, nextMsg: 1,
	}
}

func (h *harness) say(text string) {
	h.nextMsg++
	h.router.Handle(h.ctx, kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ID: h.nextMsg, ChatID: chat, FromID: 5, Text: text},
	})
}

func (h *harness) press(messageID int, data string) {
	h.router.Handle(h.ctx, kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb", FromID: 5, ChatID: chat, MessageID: messageID, Data: data},
	})
}

// list returns the chat's current list message.
func (h *harness) list() transporttest.Msg {
	h.t.Helper()
	id, ok, err := h.store.GetListMessage(h.ctx, chat)
	require.NoError(h.t, err)
	require.True(h.t, ok, "no list message")
	m, ok := h.ad.Get(kit.MessageRef{ChatID: chat, MessageID: id})
	require.True(h.t, ok)
	return m
}

// lastWith returns the most recent message whose text contains sub.
func (h *harness) lastWith(sub string) (transporttest.Msg, bool) {
	sent := h.ad.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if strings.Contains(sent[i].Text, sub) {
			return sent[i], true
		}
	}
	return transporttest.Msg{}, false
}

func (h *harness) lastAnswer() string {
	a := h.ad.Answers()
	require.NotEmpty(h.t, a)
	return a[len(a)-1].Text
}

func buttons(m transporttest.Msg) []string {
	if m.Opt == nil {
		return nil
	}
	rm, ok := m.Opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok {
		return nil
	}
	var out []string
	for _, row := range rm.InlineKeyboard {
		for _, b := range row {
			out = append(out, b.Data)
		}
	}
	return out
}

func TestCreateAcknowledgesAndLists(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say("10m tea")

	v, ok := h.oneshots.Get(reminder.Key{ChatID: chat, Text: "tea"})
	require.True(t, ok)
	require.Equal(t, t0.Add(10*time.Minute), v.FireAt)

	ack, ok := h.lastWith("Reminder set for 09:10")
	require.True(t, ok)
	assert.Contains(t, ack.Text, "from now")

	l := h.list()
	assert.Contains(t, l.Text, "tea")
	assert.Contains(t, buttons(l), "ses:begin:remove")

	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		m, _ := h.ad.Get(ack.Ref)
		return !m.Alive
	}, time.Second, 5*time.Millisecond)
	m, _ := h.ad.Get(l.Ref)
	assert.True(t, m.Alive, "list message is not transient")
}

func TestReplaceAndReject(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.say("10m tea")
	h.say("20m tea")
	_, ok := h.lastWith("Reminder replaced for 09:20")
	require.True(t, ok)
	require.Len(t, h.oneshots.List(chat), 1)

	r := newHarness(t, func(rc *config.RemindersConfig) { rc.OnDuplicate = "reject" })
	r.say("10m tea")
	r.say("20m tea")
	_, ok = r.lastWith("already exists")
	require.True(t, ok)
	v, _ := r.oneshots.Get(reminder.Key{ChatID: chat, Text: "tea"})
	require.Equal(t, t0.Add(10*time.Minute), v.FireAt)
}

func TestPastAndUnrecognized(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say("today 08:00 too late")
	last, _ := h.ad.Last()
	assert.Equal(t, msgPast, last.Text)

	h.say("buy milk")
	last, _ = h.ad.Last()
	assert.Equal(t, msgUnrecognized, last.Text)

	h.say("/nope")
	last, _ = h.ad.Last()
	assert.Equal(t, msgUnrecognized, last.Text)

	assert.Empty(t, h.oneshots.List(chat))
}

func TestDeliverThenComplete(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say("10m tea")

	h.clock.Advance(10 * time.Minute)
	var delivered transporttest.Msg
	require.Eventually(t, func() bool {
		m, ok := h.lastWith("⏰")
		delivered = m
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, delivered.Text, "tea")
	assert.Equal(t, []string{"rem:done", "rem:snooze:300", "rem:snooze:900", "rem:snooze:3600"}, buttons(delivered))
	require.Eventually(t, func() bool {
		return strings.Contains(h.list().Text, "🔔")
	}, time.Second, 5*time.Millisecond)

	h.press(delivered.Ref.MessageID, "rem:done")
	assert.Equal(t, "✅ Completed", h.lastAnswer())
	assert.Empty(t, h.oneshots.List(chat))
	m, _ := h.ad.Get(delivered.Ref)
	assert.False(t, m.Alive)
	assert.NotContains(t, h.list().Text, "<b>tea</b>")

	h.press(delivered.Ref.MessageID, "rem:done")
	assert.Equal(t, "Already gone", h.lastAnswer())
}

func TestSnoozeButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say("10m tea")
	h.clock.Advance(10 * time.Minute)

	var delivered transporttest.Msg
	require.Eventually(t, func() bool {
		m, ok := h.lastWith("⏰")
		delivered = m
		return ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(h.list().Text, "🔔")
	}, time.Second, 5*time.Millisecond)

	h.press(delivered.Ref.MessageID, "rem:snooze:300")
	assert.Equal(t, "💤 Snoozed until 09:15", h.lastAnswer())
	v, ok := h.oneshots.Get(reminder.Key{ChatID: chat, Text: "tea"})
	require.True(t, ok)
	assert.Equal(t, t0.Add(15*time.Minute), v.FireAt)
	assert.False(t, v.Delivered)

	h.press(delivered.Ref.MessageID, "rem:snooze:abc")
	assert.Equal(t, "Invalid snooze", h.lastAnswer())
}

func TestDailyDefineDeliverDone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say("daily 09:30 stretch")
	_, ok := h.lastWith("Daily reminder set for 09:30")
	require.True(t, ok)
	assert.Contains(t, h.list().Text, "stretch")

	h.clock.Set(t0.Add(30 * time.Minute))
	h.daily.Tick(h.ctx)
	delivered, ok := h.lastWith("🔁 <b>stretch</b>")
	require.True(t, ok)
	assert.Equal(t, []string{"daily:done"}, buttons(delivered))

	h.press(delivered.Ref.MessageID, "daily:done")
	assert.Equal(t, "✅ Done for today", h.lastAnswer())
	assert.Contains(t, h.list().Text, "✅")
}

func TestDeleteTextCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say("10m tea")
	h.say("daily 07:00 stretch")

	h.say("del Stretch")
	_, ok := h.lastWith(`Daily reminder "stretch" deleted`)
	require.True(t, ok)

	h.say("delete nothing")
	_, ok = h.lastWith(`No reminder found with message: "nothing"`)
	require.True(t, ok)

	h.say("10m Buy milk")
	h.say("del buy milk")
	_, ok = h.lastWith(`Reminder "Buy milk" deleted`)
	require.True(t, ok)
	for _, v := range h.oneshots.List(chat) {
		assert.NotEqual(t, "Buy milk", v.Text)
	}

	h.say("20m cake")
	h.say("delete all")
	last, _ := h.ad.Last()
	assert.Equal(t, msgAllDeleted, last.Text)
	assert.Empty(t, h.oneshots.List(chat))

	h.say("del all")
	last, _ = h.ad.Last()
	assert.Equal(t, msgNothingToDel, last.Text)
}

func TestListIsEditedInPlaceAndRecreated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say("10m a")
	first := h.list()
	h.say("20m b")
	second := h.list()
	require.Equal(t, first.Ref, second.Ref)
	assert.Equal(t, 1, second.Edits)
	assert.Contains(t, second.Text, "b")

	// nothing changed, so nothing is edited
	require.NoError(t, h.bot.Refresh(h.ctx, chat))
	assert.Equal(t, 1, h.list().Edits)

	h.ad.Vanish(first.Ref)
	h.say("30m c")
	third := h.list()
	assert.NotEqual(t, first.Ref, third.Ref)
	assert.True(t, third.Alive)

	h.say("/list")
	fourth := h.list()
	assert.NotEqual(t, third.Ref, fourth.Ref)
	old, _ := h.ad.Get(third.Ref)
	assert.False(t, old.Alive)
}

func TestRemoveThroughSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say("10m tea")
	h.say("daily 07:00 stretch")

	l := h.list()
	h.press(l.Ref.MessageID, "ses:begin:remove")
	l = h.list()
	assert.Contains(t, l.Text, "Select a reminder to delete")
	assert.Contains(t, buttons(l), "ses:pick:1")

	h.press(l.Ref.MessageID, "ses:pick:1")
	l = h.list()
	assert.Contains(t, l.Text, "Delete <b>stretch")
	assert.Equal(t, []string{"ses:confirm", "ses:back"}, buttons(l))

	h.press(l.Ref.MessageID, "ses:confirm")
	assert.Equal(t, "🗑️ Deleted stretch", h.lastAnswer())
	assert.Equal(t, session.Idle{}, h.sessions.Current(chat))
	views, err := h.daily.List(h.ctx, chat)
	require.NoError(t, err)
	assert.Empty(t, views)
	assert.Len(t, h.oneshots.List(chat), 1)

	h.press(l.Ref.MessageID, "ses:confirm")
	assert.Equal(t, "This menu is out of date", h.lastAnswer())
}

func TestEditThroughSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.say("10m tea")
	h.say("daily 07:00 stretch")

	h.say("/edit")
	l := h.list()
	h.press(l.Ref.MessageID, "ses:pick:0")
	assert.Contains(t, h.list().Text, "Send the new text for <b>tea")

	h.say("green tea")
	_, ok := h.oneshots.Get(reminder.Key{ChatID: chat, Text: "green tea"})
	assert.True(t, ok)
	assert.Equal(t, session.Idle{}, h.sessions.Current(chat))

	h.say("/edit")
	l = h.list()
	h.press(l.Ref.MessageID, "ses:pick:1")
	h.press(l.Ref.MessageID, "ses:days")
	h.press(l.Ref.MessageID, "ses:toggle:0")
	h.press(l.Ref.MessageID, "ses:save")
	assert.Equal(t, "💾 Saved", h.lastAnswer())

	views, err := h.daily.List(h.ctx, chat)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.False(t, views[0].Weekdays.Has(time.Sunday))
	assert.True(t, views[0].Weekdays.Has(time.Monday))
}

func TestSessionCommandsWithNothingToPick(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say("/remove")
	last, _ := h.ad.Last()
	assert.Equal(t, msgNothingToDel, last.Text)
	assert.Equal(t, session.Idle{}, h.sessions.Current(chat))
}

func TestTimezoneCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say("/timezone")
	_, ok := h.lastWith("Timezone: UTC (default)")
	require.True(t, ok)

	h.say("/timezone Mars/Olympus")
	_, ok = h.lastWith("Unknown timezone")
	require.True(t, ok)

	h.say("/timezone Asia/Tokyo")
	_, ok = h.lastWith("Timezone set to Asia/Tokyo")
	require.True(t, ok)

	h.say("/timezone")
	_, ok = h.lastWith("Timezone: Asia/Tokyo\nBot default: UTC")
	require.True(t, ok)

	h.say("time")
	_, ok = h.lastWith("Current time: 18:00:00 (Asia/Tokyo)")
	require.True(t, ok)
}

func TestHelpCollapseExpandDelete(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say("/help")
	help, ok := h.lastWith("Reminder Bot")
	require.True(t, ok)

	h.press(help.Ref.MessageID, "help:collapse")
	m, _ := h.ad.Get(help.Ref)
	assert.NotContains(t, m.Text, "10m feed the cat")
	assert.Contains(t, buttons(m), "help:expand")

	h.press(help.Ref.MessageID, "help:expand")
	m, _ = h.ad.Get(help.Ref)
	assert.Contains(t, m.Text, "10m feed the cat")

	h.press(help.Ref.MessageID, "help:delete")
	m, _ = h.ad.Get(help.Ref)
	assert.False(t, m.Alive)
}

func TestRenderListStates(t *testing.T) {
	t.Parallel()
	target := session.Target{Kind: session.Daily, ChatID: chat, Text: "stretch", DailyID: "d1", Detail: "07:00, every day"}
	data := listData{
		Dailies: []reminder.DailyView{{ID: "d1", ChatID: chat, Text: "stretch", Weekdays: reminder.AllWeekdays()}},
		Loc:     time.UTC,
		Now:     t0,
	}

	empty := renderList(listData{Now: t0})
	assert.Contains(t, empty.Text, "No reminders.")
	assert.Empty(t, buttons(transporttest.Msg{Opt: empty.Opt}))

	tests := []struct {
		name  string
		state session.State
		want  []string
	}{
		{name: "idle", state: session.Idle{}, want: []string{"ses:begin:remove", "ses:begin:edit"}},
		{name: "selecting", state: session.Selecting{Purpose: session.Edit, Targets: []session.Target{target}}, want: []string{"ses:pick:0", "ses:cancel"}},
		{name: "choose field", state: session.ChooseEditField{Target: target}, want: []string{"ses:text", "ses:days", "ses:back", "ses:cancel"}},
		{name: "edit text", state: session.EditText{Target: target}, want: []string{"ses:back", "ses:cancel"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := data
			d.State = tt.state
			m := renderList(d)
			assert.Equal(t, tt.want, buttons(transporttest.Msg{Opt: m.Opt}))
		})
	}

	d := data
	d.State = session.EditDays{Target: target, Working: reminder.AllWeekdays()}
	got := buttons(transporttest.Msg{Opt: renderList(d).Opt})
	require.Len(t, got, 10)
	assert.Equal(t, "ses:toggle:1", got[0])
	assert.Equal(t, "ses:toggle:0", got[6])
	assert.Equal(t, "ses:save", got[7])
}

func TestShortDuration(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "5m", shortDuration(5*time.Minute))
	assert.Equal(t, "1h", shortDuration(time.Hour))
	assert.Equal(t, "90m", shortDuration(90*time.Minute))
	assert.Equal(t, "45s", shortDuration(45*time.Second))
}

func TestEditOneShotResendsVanishedMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := transporttest.New()
	m := NewMessenger(ad, []time.Duration{time.Minute})

	ref, err := m.SendOneShot(ctx, chat, "tea")
	require.NoError(t, err)

	same, err := m.EditOneShot(ctx, ref, "tea")
	require.NoError(t, err)
	assert.Equal(t, ref, same)

	ad.Vanish(ref)
	fresh, err := m.EditOneShot(ctx, ref, "green tea")
	require.NoError(t, err)
	assert.NotEqual(t, ref.MessageID, fresh.MessageID)
	got, _ := ad.Get(fresh)
	assert.Contains(t, got.Text, "green tea")

	require.NoError(t, m.Delete(ctx, ref))
}
