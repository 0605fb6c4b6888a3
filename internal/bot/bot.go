// Package bot connects the reminder services to the chat: it parses inbound
// text, answers button presses and keeps one list message per chat in sync
// with the reminders.
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/reminder/daily"
	"remindbot/internal/reminder/oneshot"
	"remindbot/internal/reminder/session"
	"remindbot/internal/reminder/zones"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Options struct {
	Adapter   kit.Adapter
	Store     storage.Store
	OneShots  *oneshot.Scheduler
	Daily     *daily.Engine
	Sessions  *session.Machine
	Zones     *zones.Service
	Messenger *Messenger
	// Bus carries reminder.EventRemindersChanged; nil disables background refresh.
	Bus    eventbus.Bus
	Clock  reminder.Clock
	Log    logx.Logger
	Config config.Reminders
}

// settings is the hot-reloadable part of the configuration.
type settings struct {
	transientTTL  time.Duration
	deleteInbound bool
	snooze        []time.Duration
	sendTimeout   time.Duration
}

type Bot struct {
	adapter  kit.Adapter
	store    storage.Store
	oneshots *oneshot.Scheduler
	daily    *daily.Engine
	sessions *session.Machine
	zones    *zones.Service
	msgr     *Messenger
	bus      eventbus.Bus
	clock    reminder.Clock
	log      logx.Logger

	cfg atomic.Pointer[settings]

	sf      singleflight.Group
	dirtyMu sync.Mutex
	dirty   map[int64]bool
	repost  map[int64]bool

	runMu sync.Mutex
	sup   *rtsup.Supervisor
	unsub func()
}

func New(o Options) *Bot {
	b := &Bot{
		adapter:  o.Adapter,
		store:    o.Store,
		oneshots: o.OneShots,
		daily:    o.Daily,
		sessions: o.Sessions,
		zones:    o.Zones,
		msgr:     o.Messenger,
		bus:      o.Bus,
		clock:    o.Clock,
		log:      o.Log,
		dirty:    map[int64]bool{},
		repost:   map[int64]bool{},
	}
	if b.clock == nil {
		b.clock = reminder.SystemClock{}
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	if b.msgr == nil {
		b.msgr = NewMessenger(b.adapter, o.Config.SnoozeOptions)
	}
	b.Apply(o.Config)
	return b
}

// Apply installs a new reminders configuration.
func (b *Bot) Apply(rc config.Reminders) {
	s := &settings{
		transientTTL:  rc.TransientTTL,
		deleteInbound: rc.DeleteInbound,
		snooze:        append([]time.Duration(nil), rc.SnoozeOptions...),
		sendTimeout:   rc.SendTimeout,
	}
	if s.sendTimeout <= 0 {
		s.sendTimeout = config.DefaultSendTimeout
	}
	b.cfg.Store(s)
	b.msgr.SetSnoozeOptions(s.snooze)
	if b.oneshots != nil && rc.OnDuplicate != "" {
		b.oneshots.SetPolicy(oneshot.Policy(rc.OnDuplicate))
	}
	if b.zones != nil && rc.Location != nil {
		b.zones.SetDefault(rc.Location)
	}
}

func (b *Bot) settings() *settings { return b.cfg.Load() }

// Start runs the list projector and the transient-message janitor.
func (b *Bot) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.sup != nil {
		return nil
	}
	b.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(b.log),
		rtsup.WithCancelOnError(false),
	)
	if b.bus != nil {
		events, unsub := b.bus.Subscribe(256, reminder.EventRemindersChanged)
		b.unsub = unsub
		b.sup.GoRestart("list.projector", func(ctx context.Context) error {
			return b.project(ctx, events)
		}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}
	return nil
}

func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	sup, unsub := b.sup, b.unsub
	b.sup, b.unsub = nil, nil
	b.runMu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if unsub != nil {
		unsub()
	}
	return err
}

func (b *Bot) supervisor() *rtsup.Supervisor {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.sup
}

func (b *Bot) project(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			chatID, ok := ev.Data.(int64)
			if !ok || chatID == 0 {
				continue
			}
			if err := b.Refresh(ctx, chatID); err != nil {
				b.log.Warn("list refresh failed", logx.Int64("chat_id", chatID), logx.Err(err))
			}
		}
	}
}

// transient sends text and deletes it after the configured TTL.
func (b *Bot) transient(ctx context.Context, to kit.ChatTarget, text string) {
	ref, err := b.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true})
	if err != nil {
		b.log.Warn("send acknowledgement failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return
	}
	b.deleteLater(ref)
}

// deleteLater deletes ref after the transient TTL. Pending deletions are
// abandoned on shutdown.
func (b *Bot) deleteLater(ref kit.MessageRef) {
	sup := b.supervisor()
	if sup == nil || ref.IsZero() {
		return
	}
	at := b.clock.Now().Add(b.settings().transientTTL)
	_, err := sup.Spawn("transient.delete", func(ctx context.Context) error {
		t := b.clock.TimerAt(at)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C():
		}
		dctx, cancel := context.WithTimeout(ctx, b.settings().sendTimeout)
		defer cancel()
		if err := b.msgr.Delete(dctx, ref); err != nil {
			b.log.Debug("delete transient message failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
		}
		return nil
	})
	if err != nil {
		b.log.Debug("schedule transient delete failed", logx.Err(err))
	}
}
