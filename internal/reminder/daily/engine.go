// Package daily delivers recurring reminders once per active local day.
//
// The store is the record of truth: every tick reads the definitions, runs
// day-rollover housekeeping for chats whose local date changed, then sends
// the reminders due this minute. A reminder is sent only when its weekday is
// active, it was not completed today and no delivered message is live.
package daily

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrNotFound    = errors.New("daily reminder not found")
	ErrEmptyText   = errors.New("daily reminder text is empty")
	ErrNoWeekdays  = errors.New("daily reminder needs at least one weekday")
	errInvalidSpec = errors.New("invalid daily definition")
)

// everyMinute yields minute boundaries.
var everyMinute = mustSchedule("* * * * *")

func mustSchedule(spec string) cron.Schedule {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		panic(err)
	}
	return s
}

type Options struct {
	Store     storage.Store
	Messenger reminder.Messenger
	Refresher reminder.Refresher
	Zones     reminder.ZoneResolver
	Clock     reminder.Clock
	Log       logx.Logger
	// SendTimeout bounds each send (0 = 10s).
	SendTimeout time.Duration
}

type dedupKey struct {
	chatID int64
	id     string
}

type Engine struct {
	store   storage.Store
	msgr    reminder.Messenger
	refresh reminder.Refresher
	zones   reminder.ZoneResolver
	clock   reminder.Clock
	log     logx.Logger
	sendTO  time.Duration

	// mu serializes ticks and mutations.
	mu       sync.Mutex
	lastSeen map[int64]string
	sent     map[dedupKey]time.Time

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func New(o Options) *Engine {
	e := &Engine{
		store:    o.Store,
		msgr:     o.Messenger,
		refresh:  o.Refresher,
		zones:    o.Zones,
		clock:    o.Clock,
		log:      o.Log,
		sendTO:   o.SendTimeout,
		lastSeen: map[int64]string{},
		sent:     map[dedupKey]time.Time{},
	}
	if e.clock == nil {
		e.clock = reminder.SystemClock{}
	}
	if e.refresh == nil {
		e.refresh = reminder.RefreshFunc(func(int64) {})
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.sendTO <= 0 {
		e.sendTO = 10 * time.Second
	}
	return e
}

// Start runs the tick loop until Stop or ctx cancellation.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.sup != nil {
		return nil
	}
	e.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(e.log))
	e.sup.GoRestart("daily.tick", e.loop, rtsup.WithRestartBackoff(time.Second, time.Minute))
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	sup := e.sup
	e.sup = nil
	e.runMu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// loop sleeps until each minute boundary and ticks. Missed minutes are not
// caught up.
func (e *Engine) loop(ctx context.Context) error {
	for {
		next := everyMinute.Next(e.clock.Now())
		t := e.clock.TimerAt(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C():
		}
		e.Tick(ctx)
	}
}

// Tick runs one delivery cycle at the clock's current time.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	rows, err := e.store.ListDaily(ctx, 0)
	if err != nil {
		e.mu.Unlock()
		e.log.Warn("list daily reminders failed", logx.Err(err))
		return
	}
	byChat := map[int64][]storage.DailyRow{}
	var order []int64
	for _, r := range rows {
		if _, ok := byChat[r.ChatID]; !ok {
			order = append(order, r.ChatID)
		}
		byChat[r.ChatID] = append(byChat[r.ChatID], r)
	}

	now := e.clock.Now()
	minute := now.Truncate(time.Minute)
	changed := map[int64]bool{}
	for k, at := range e.sent {
		if at.Before(minute) {
			delete(e.sent, k)
		}
	}
	for _, chatID := range order {
		if ctx.Err() != nil {
			break
		}
		local := now.In(e.location(ctx, chatID))
		today := reminder.LocalDate(local)
		chatRows := byChat[chatID]
		if e.lastSeen[chatID] != today {
			if e.rollover(ctx, chatRows, today) {
				changed[chatID] = true
			}
			e.lastSeen[chatID] = today
		}
		for i := range chatRows {
			if e.deliverIfDue(ctx, &chatRows[i], local, today, minute) {
				changed[chatID] = true
			}
		}
	}
	e.mu.Unlock()

	for _, chatID := range order {
		if changed[chatID] {
			e.refresh.RequestRefresh(chatID)
		}
	}
}

// rollover clears stale delivered messages and completions from earlier days.
func (e *Engine) rollover(ctx context.Context, rows []storage.DailyRow, today string) bool {
	persisted := false
	for i := range rows {
		r := &rows[i]
		dirty := false
		if r.DeliveredMessageID != 0 && r.DeliveredOn != today {
			e.deleteMessage(ctx, kit.MessageRef{ChatID: r.ChatID, MessageID: r.DeliveredMessageID})
			r.DeliveredMessageID = 0
			r.DeliveredOn = ""
			dirty = true
		}
		if r.LastCompleted != "" && r.LastCompleted != today {
			r.LastCompleted = ""
			dirty = true
		}
		if !dirty {
			continue
		}
		if err := e.store.PutDaily(ctx, *r); err != nil {
			e.log.Warn("daily rollover persist failed", logx.Int64("chat_id", r.ChatID), logx.String("daily_id", r.ID), logx.Err(err))
			continue
		}
		persisted = true
	}
	return persisted
}

func (e *Engine) deliverIfDue(ctx context.Context, r *storage.DailyRow, local time.Time, today string, minute time.Time) bool {
	tod, days, err := decode(*r)
	if err != nil {
		e.log.Warn("skipping invalid daily reminder", logx.Int64("chat_id", r.ChatID), logx.String("daily_id", r.ID), logx.Err(err))
		return false
	}
	if !days.Has(local.Weekday()) || !tod.Matches(local) || r.LastCompleted == today || r.DeliveredMessageID != 0 {
		return false
	}
	k := dedupKey{chatID: r.ChatID, id: r.ID}
	if at, ok := e.sent[k]; ok && at.Equal(minute) {
		return false
	}
	e.sent[k] = minute

	sctx, cancel := context.WithTimeout(ctx, e.sendTO)
	ref, err := e.msgr.SendDaily(sctx, r.ChatID, r.Text)
	cancel()
	if err != nil {
		e.log.Error("daily delivery failed", logx.Int64("chat_id", r.ChatID), logx.String("daily_id", r.ID), logx.String("text", r.Text), logx.Err(err))
		return false
	}
	r.DeliveredMessageID = ref.MessageID
	r.DeliveredOn = today
	if err := e.store.PutDaily(ctx, *r); err != nil {
		e.log.Warn("daily delivery persist failed", logx.Int64("chat_id", r.ChatID), logx.String("daily_id", r.ID), logx.Err(err))
	}
	return true
}

// Define adds a daily reminder. A zero weekday set means every day.
func (e *Engine) Define(ctx context.Context, chatID int64, tod reminder.TimeOfDay, text string, days reminder.Weekdays) (reminder.DailyView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return reminder.DailyView{}, ErrEmptyText
	}
	if _, err := reminder.NewTimeOfDay(tod.Hour, tod.Minute); err != nil {
		return reminder.DailyView{}, err
	}
	if days.IsEmpty() {
		days = reminder.AllWeekdays()
	}
	r := storage.DailyRow{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		TimeOfDay: tod.String(),
		Text:      text,
		Weekdays:  days.CSV(),
	}
	e.mu.Lock()
	err := e.store.PutDaily(ctx, r)
	e.mu.Unlock()
	if err != nil {
		return reminder.DailyView{}, fmt.Errorf("persist daily reminder: %w", err)
	}
	e.refresh.RequestRefresh(chatID)
	return reminder.DailyView{ID: r.ID, ChatID: chatID, Time: tod, Text: text, Weekdays: days}, nil
}

// Done marks id completed for the chat's current local day and deletes its
// delivered message.
func (e *Engine) Done(ctx context.Context, id string) (reminder.DailyView, error) {
	e.mu.Lock()
	r, ok, err := e.store.GetDaily(ctx, id)
	if err != nil || !ok {
		e.mu.Unlock()
		return reminder.DailyView{}, notFound(err)
	}
	v, err := e.doneLocked(ctx, r)
	e.mu.Unlock()
	if err != nil {
		return reminder.DailyView{}, err
	}
	e.refresh.RequestRefresh(r.ChatID)
	return v, nil
}

// DoneByMessage completes the daily reminder delivered as messageID.
func (e *Engine) DoneByMessage(ctx context.Context, chatID int64, messageID int) (reminder.DailyView, error) {
	e.mu.Lock()
	rows, err := e.store.ListDaily(ctx, chatID)
	if err != nil {
		e.mu.Unlock()
		return reminder.DailyView{}, err
	}
	var (
		v     reminder.DailyView
		found bool
	)
	for _, r := range rows {
		if r.DeliveredMessageID == messageID {
			v, err = e.doneLocked(ctx, r)
			found = true
			break
		}
	}
	e.mu.Unlock()
	if !found {
		return reminder.DailyView{}, ErrNotFound
	}
	if err != nil {
		return reminder.DailyView{}, err
	}
	e.refresh.RequestRefresh(chatID)
	return v, nil
}

func (e *Engine) doneLocked(ctx context.Context, r storage.DailyRow) (reminder.DailyView, error) {
	local := e.clock.Now().In(e.location(ctx, r.ChatID))
	today := reminder.LocalDate(local)
	stale := kit.MessageRef{ChatID: r.ChatID, MessageID: r.DeliveredMessageID}
	r.LastCompleted = today
	r.DeliveredMessageID = 0
	r.DeliveredOn = ""
	if err := e.store.PutDaily(ctx, r); err != nil {
		return reminder.DailyView{}, fmt.Errorf("persist daily reminder: %w", err)
	}
	e.deleteMessage(ctx, stale)
	return view(r, today)
}

// Delete removes a daily reminder and its delivered message.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	r, ok, err := e.store.GetDaily(ctx, id)
	if err != nil || !ok {
		e.mu.Unlock()
		return notFound(err)
	}
	err = e.deleteLocked(ctx, r)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh(r.ChatID)
	return nil
}

func (e *Engine) deleteLocked(ctx context.Context, r storage.DailyRow) error {
	if err := e.store.DeleteDaily(ctx, r.ID); err != nil {
		return fmt.Errorf("delete daily reminder: %w", err)
	}
	delete(e.sent, dedupKey{chatID: r.ChatID, id: r.ID})
	e.deleteMessage(ctx, kit.MessageRef{ChatID: r.ChatID, MessageID: r.DeliveredMessageID})
	return nil
}

// DeleteAll removes every daily reminder of chatID and returns how many.
func (e *Engine) DeleteAll(ctx context.Context, chatID int64) (int, error) {
	e.mu.Lock()
	rows, err := e.store.ListDaily(ctx, chatID)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	n := 0
	for _, r := range rows {
		if err := e.deleteLocked(ctx, r); err != nil {
			e.mu.Unlock()
			return n, err
		}
		n++
	}
	e.mu.Unlock()
	if n > 0 {
		e.refresh.RequestRefresh(chatID)
	}
	return n, nil
}

// SetText renames a daily reminder.
func (e *Engine) SetText(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	return e.update(ctx, id, func(r *storage.DailyRow) { r.Text = text })
}

// SetWeekdays replaces the active weekdays of a daily reminder.
func (e *Engine) SetWeekdays(ctx context.Context, id string, days reminder.Weekdays) error {
	if days.IsEmpty() {
		return ErrNoWeekdays
	}
	return e.update(ctx, id, func(r *storage.DailyRow) { r.Weekdays = days.CSV() })
}

func (e *Engine) update(ctx context.Context, id string, fn func(r *storage.DailyRow)) error {
	e.mu.Lock()
	r, ok, err := e.store.GetDaily(ctx, id)
	if err != nil || !ok {
		e.mu.Unlock()
		return notFound(err)
	}
	fn(&r)
	err = e.store.PutDaily(ctx, r)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist daily reminder: %w", err)
	}
	e.refresh.RequestRefresh(r.ChatID)
	return nil
}

// List returns the chat's daily reminders ordered by time of day.
func (e *Engine) List(ctx context.Context, chatID int64) ([]reminder.DailyView, error) {
	rows, err := e.store.ListDaily(ctx, chatID)
	if err != nil {
		return nil, err
	}
	today := reminder.LocalDate(e.clock.Now().In(e.location(ctx, chatID)))
	out := make([]reminder.DailyView, 0, len(rows))
	for _, r := range rows {
		v, err := view(r, today)
		if err != nil {
			e.log.Warn("skipping invalid daily reminder", logx.Int64("chat_id", r.ChatID), logx.String("daily_id", r.ID), logx.Err(err))
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Get returns one daily reminder.
func (e *Engine) Get(ctx context.Context, id string) (reminder.DailyView, error) {
	r, ok, err := e.store.GetDaily(ctx, id)
	if err != nil || !ok {
		return reminder.DailyView{}, notFound(err)
	}
	today := reminder.LocalDate(e.clock.Now().In(e.location(ctx, r.ChatID)))
	return view(r, today)
}

// FindByText returns the chat's first daily reminder whose text equals text,
// ignoring case.
func (e *Engine) FindByText(ctx context.Context, chatID int64, text string) (reminder.DailyView, bool, error) {
	list, err := e.List(ctx, chatID)
	if err != nil {
		return reminder.DailyView{}, false, err
	}
	text = strings.TrimSpace(text)
	for _, v := range list {
		if strings.EqualFold(v.Text, text) {
			return v, true, nil
		}
	}
	return reminder.DailyView{}, false, nil
}

func (e *Engine) location(ctx context.Context, chatID int64) *time.Location {
	if e.zones == nil {
		return time.UTC
	}
	if loc := e.zones.Location(ctx, chatID); loc != nil {
		return loc
	}
	return time.UTC
}

func (e *Engine) deleteMessage(ctx context.Context, ref kit.MessageRef) {
	if ref.IsZero() {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.sendTO)
	defer cancel()
	if err := e.msgr.Delete(dctx, ref); err != nil {
		e.log.Warn("delete daily message failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

func decode(r storage.DailyRow) (reminder.TimeOfDay, reminder.Weekdays, error) {
	tod, err := reminder.ParseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return reminder.TimeOfDay{}, 0, fmt.Errorf("%w: %v", errInvalidSpec, err)
	}
	days, err := reminder.ParseWeekdaysCSV(r.Weekdays)
	if err != nil {
		return reminder.TimeOfDay{}, 0, fmt.Errorf("%w: %v", errInvalidSpec, err)
	}
	return tod, days, nil
}

func view(r storage.DailyRow, today string) (reminder.DailyView, error) {
	tod, days, err := decode(r)
	if err != nil {
		return reminder.DailyView{}, err
	}
	return reminder.DailyView{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Time:      tod,
		Text:      r.Text,
		Weekdays:  days,
		DoneToday: r.LastCompleted == today,
		Delivered: r.DeliveredMessageID != 0,
	}, nil
}

func notFound(err error) error {
	if err != nil {
		return err
	}
	return ErrNotFound
}
