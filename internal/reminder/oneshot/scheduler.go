// Package oneshot schedules reminders that fire once.
//
// Every live reminder holds exactly one delivery handle: a Pending task
// waiting for the fire time, or a Delivered message carrying Complete and
// Snooze controls. Persisted rows mirror Pending reminders only; a row is
// removed just before its message is sent, so a crash mid-delivery loses
// that reminder rather than sending it twice.
package oneshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrNotFound   = errors.New("reminder not found")
	ErrDuplicate  = errors.New("reminder already exists")
	ErrEmptyText  = errors.New("reminder text is empty")
	ErrNotStarted = errors.New("scheduler not started")
)

// Policy decides what Create does when the key is already live.
type Policy string

const (
	Replace Policy = "replace"
	Reject  Policy = "reject"
)

// Handle is Pending or Delivered.
type Handle interface{ isHandle() }

// Pending is a delivery task waiting for the fire time.
type Pending struct{ Task *rtsup.Task }

// Delivered is the message the reminder was delivered as.
type Delivered struct{ Ref kit.MessageRef }

func (Pending) isHandle()   {}
func (Delivered) isHandle() {}

type entry struct {
	key    reminder.Key
	fireAt time.Time
	handle Handle
	// gen changes whenever the entry is rescheduled; a delivery task only
	// acts if its gen is still current.
	gen uint64
}

type Options struct {
	Store     storage.Store
	Messenger reminder.Messenger
	Refresher reminder.Refresher
	Clock     reminder.Clock
	Log       logx.Logger
	Policy    Policy
	// SendTimeout bounds each delivery send (0 = 10s).
	SendTimeout time.Duration
}

type Scheduler struct {
	store   storage.Store
	msgr    reminder.Messenger
	refresh reminder.Refresher
	clock   reminder.Clock
	log     logx.Logger
	sendTO  time.Duration

	mu      sync.Mutex
	policy  Policy
	sup     *rtsup.Supervisor
	entries map[reminder.Key]*entry
	gen     uint64
}

func New(o Options) *Scheduler {
	s := &Scheduler{
		store:   o.Store,
		msgr:    o.Messenger,
		refresh: o.Refresher,
		clock:   o.Clock,
		log:     o.Log,
		sendTO:  o.SendTimeout,
		policy:  o.Policy,
		entries: map[reminder.Key]*entry{},
	}
	if s.clock == nil {
		s.clock = reminder.SystemClock{}
	}
	if s.refresh == nil {
		s.refresh = reminder.RefreshFunc(func(int64) {})
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.sendTO <= 0 {
		s.sendTO = 10 * time.Second
	}
	if s.policy == "" {
		s.policy = Replace
	}
	return s
}

// Start prepares the scheduler to run delivery tasks under ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	return nil
}

// Stop cancels every pending delivery task and waits for them to exit.
// Persisted rows are kept so Restore picks them up on the next start;
// delivered entries stay live so their buttons keep working.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	for key, e := range s.entries {
		if _, ok := e.handle.(Pending); ok {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (s *Scheduler) SetPolicy(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == Replace || p == Reject {
		s.policy = p
	}
}

func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Restore reschedules persisted reminders. Rows whose fire time has passed
// are dropped from the store; rows for keys that are already live are skipped.
func (s *Scheduler) Restore(ctx context.Context) (restored, dropped int, err error) {
	rows, err := s.store.ListOneShots(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list one-shot reminders: %w", err)
	}
	now := s.clock.Now()
	chats := map[int64]bool{}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return 0, 0, ErrNotStarted
	}
	for _, r := range rows {
		key := reminder.Key{ChatID: r.ChatID, Text: r.Text}
		if !r.FireAt.After(now) {
			dropped++
			if err := s.store.DeleteOneShot(ctx, r.ChatID, r.Text); err != nil {
				s.log.Warn("drop stale reminder failed", logx.Int64("chat_id", r.ChatID), logx.String("text", r.Text), logx.Err(err))
			}
			continue
		}
		if _, ok := s.entries[key]; ok {
			continue
		}
		e := &entry{key: key, fireAt: r.FireAt}
		if err := s.spawnLocked(e); err != nil {
			s.mu.Unlock()
			return restored, dropped, err
		}
		s.entries[key] = e
		chats[r.ChatID] = true
		restored++
	}
	s.mu.Unlock()

	for chatID := range chats {
		s.refresh.RequestRefresh(chatID)
	}
	s.log.Info("one-shot reminders restored", logx.Int("restored", restored), logx.Int("dropped", dropped))
	return restored, dropped, nil
}

// Create schedules key to fire at fireAt. With the Replace policy an existing
// reminder with the same key is superseded and replaced is true; with Reject
// ErrDuplicate is returned.
func (s *Scheduler) Create(ctx context.Context, key reminder.Key, fireAt time.Time) (replaced bool, err error) {
	key.Text = strings.TrimSpace(key.Text)
	if key.Text == "" {
		return false, ErrEmptyText
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return false, ErrNotStarted
	}
	old, exists := s.entries[key]
	if exists && s.policy == Reject {
		s.mu.Unlock()
		return false, ErrDuplicate
	}
	if err := s.store.PutOneShot(ctx, storage.OneShotRow{ChatID: key.ChatID, Text: key.Text, FireAt: fireAt.UTC()}); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("persist reminder: %w", err)
	}
	var stale kit.MessageRef
	if exists {
		stale = release(old)
	}
	e := &entry{key: key, fireAt: fireAt}
	err = s.spawnLocked(e)
	if err == nil {
		s.entries[key] = e
	} else {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	s.deleteMessage(ctx, stale)
	s.refresh.RequestRefresh(key.ChatID)
	return exists, err
}

// Complete removes key: a pending task is cancelled, a delivered message deleted.
func (s *Scheduler) Complete(ctx context.Context, key reminder.Key) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	stale := s.removeLocked(ctx, e)
	s.mu.Unlock()

	s.deleteMessage(ctx, stale)
	s.refresh.RequestRefresh(key.ChatID)
	return nil
}

// Cancel removes key before or after delivery; it is Complete under the name
// used by deletion commands.
func (s *Scheduler) Cancel(ctx context.Context, key reminder.Key) error {
	return s.Complete(ctx, key)
}

// CompleteByMessage completes the reminder delivered as messageID.
func (s *Scheduler) CompleteByMessage(ctx context.Context, chatID int64, messageID int) (reminder.Key, error) {
	s.mu.Lock()
	e := s.byMessageLocked(chatID, messageID)
	if e == nil {
		s.mu.Unlock()
		return reminder.Key{}, ErrNotFound
	}
	stale := s.removeLocked(ctx, e)
	s.mu.Unlock()

	s.deleteMessage(ctx, stale)
	s.refresh.RequestRefresh(chatID)
	return e.key, nil
}

// Snooze reschedules key to fire d from now. A delivered message is deleted.
func (s *Scheduler) Snooze(ctx context.Context, key reminder.Key, d time.Duration) (time.Time, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return time.Time{}, ErrNotFound
	}
	at, stale, err := s.snoozeLocked(ctx, e, d)
	s.mu.Unlock()
	if err != nil {
		return time.Time{}, err
	}

	s.deleteMessage(ctx, stale)
	s.refresh.RequestRefresh(key.ChatID)
	return at, nil
}

// SnoozeByMessage snoozes the reminder delivered as messageID.
func (s *Scheduler) SnoozeByMessage(ctx context.Context, chatID int64, messageID int, d time.Duration) (reminder.Key, time.Time, error) {
	s.mu.Lock()
	e := s.byMessageLocked(chatID, messageID)
	if e == nil {
		s.mu.Unlock()
		return reminder.Key{}, time.Time{}, ErrNotFound
	}
	at, stale, err := s.snoozeLocked(ctx, e, d)
	s.mu.Unlock()
	if err != nil {
		return reminder.Key{}, time.Time{}, err
	}

	s.deleteMessage(ctx, stale)
	s.refresh.RequestRefresh(chatID)
	return e.key, at, nil
}

func (s *Scheduler) snoozeLocked(ctx context.Context, e *entry, d time.Duration) (time.Time, kit.MessageRef, error) {
	if s.sup == nil {
		return time.Time{}, kit.MessageRef{}, ErrNotStarted
	}
	if d <= 0 {
		return time.Time{}, kit.MessageRef{}, fmt.Errorf("snooze duration must be positive, got %s", d)
	}
	at := s.clock.Now().Add(d)
	if err := s.store.PutOneShot(ctx, storage.OneShotRow{ChatID: e.key.ChatID, Text: e.key.Text, FireAt: at.UTC()}); err != nil {
		return time.Time{}, kit.MessageRef{}, fmt.Errorf("persist reminder: %w", err)
	}
	stale := release(e)
	e.fireAt = at
	if err := s.spawnLocked(e); err != nil {
		delete(s.entries, e.key)
		return time.Time{}, stale, err
	}
	return at, stale, nil
}

// Edit renames key to newText, keeping its fire time. A delivered message is
// edited in place, or re-sent when it vanished.
func (s *Scheduler) Edit(ctx context.Context, key reminder.Key, newText string) error {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return ErrEmptyText
	}
	newKey := reminder.Key{ChatID: key.ChatID, Text: newText}
	if newKey == key {
		return nil
	}

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if s.sup == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	other, clash := s.entries[newKey]
	if clash && s.policy == Reject {
		s.mu.Unlock()
		return ErrDuplicate
	}

	var stale kit.MessageRef
	if clash {
		stale = s.removeLocked(ctx, other)
	}

	delivered, isDelivered := e.handle.(Delivered)
	if !isDelivered {
		if err := s.store.PutOneShot(ctx, storage.OneShotRow{ChatID: newKey.ChatID, Text: newKey.Text, FireAt: e.fireAt.UTC()}); err != nil {
			s.mu.Unlock()
			s.deleteMessage(ctx, stale)
			return fmt.Errorf("persist reminder: %w", err)
		}
		if err := s.store.DeleteOneShot(ctx, key.ChatID, key.Text); err != nil {
			s.log.Warn("delete renamed reminder row failed", logx.Int64("chat_id", key.ChatID), logx.String("text", key.Text), logx.Err(err))
		}
		release(e)
	}
	delete(s.entries, key)
	e.key = newKey
	s.entries[newKey] = e

	if !isDelivered {
		err := s.spawnLocked(e)
		if err != nil {
			delete(s.entries, newKey)
		}
		s.mu.Unlock()
		s.deleteMessage(ctx, stale)
		s.refresh.RequestRefresh(key.ChatID)
		return err
	}
	s.gen++
	e.gen = s.gen
	gen := e.gen
	s.mu.Unlock()

	s.deleteMessage(ctx, stale)
	sctx, cancel := context.WithTimeout(ctx, s.sendTO)
	ref, err := s.msgr.EditOneShot(sctx, delivered.Ref, newText)
	cancel()
	if err != nil {
		s.log.Warn("edit delivered reminder failed", logx.Int64("chat_id", key.ChatID), logx.String("text", newText), logx.Err(err))
	} else if ref != delivered.Ref {
		s.mu.Lock()
		if cur, ok := s.entries[newKey]; ok && cur.gen == gen {
			cur.handle = Delivered{Ref: ref}
		}
		s.mu.Unlock()
	}
	s.refresh.RequestRefresh(key.ChatID)
	return nil
}

// DeleteAll removes every reminder of chatID and returns how many were live.
func (s *Scheduler) DeleteAll(ctx context.Context, chatID int64) int {
	s.mu.Lock()
	var stale []kit.MessageRef
	n := 0
	for key, e := range s.entries {
		if key.ChatID != chatID {
			continue
		}
		if ref := s.removeLocked(ctx, e); !ref.IsZero() {
			stale = append(stale, ref)
		}
		n++
	}
	s.mu.Unlock()

	for _, ref := range stale {
		s.deleteMessage(ctx, ref)
	}
	if n > 0 {
		s.refresh.RequestRefresh(chatID)
	}
	return n
}

// List returns the chat's live reminders ordered by fire time.
func (s *Scheduler) List(chatID int64) []reminder.OneShotView {
	s.mu.Lock()
	out := make([]reminder.OneShotView, 0)
	for key, e := range s.entries {
		if key.ChatID != chatID {
			continue
		}
		_, delivered := e.handle.(Delivered)
		out = append(out, reminder.OneShotView{Key: key, FireAt: e.fireAt, Delivered: delivered})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// Get returns the live reminder for key.
func (s *Scheduler) Get(key reminder.Key) (reminder.OneShotView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return reminder.OneShotView{}, false
	}
	_, delivered := e.handle.(Delivered)
	return reminder.OneShotView{Key: key, FireAt: e.fireAt, Delivered: delivered}, true
}

// spawnLocked starts a delivery task for e and makes it the entry's handle.
func (s *Scheduler) spawnLocked(e *entry) error {
	if s.sup == nil {
		return ErrNotStarted
	}
	s.gen++
	e.gen = s.gen
	key, gen, at := e.key, e.gen, e.fireAt
	task, err := s.sup.Spawn(fmt.Sprintf("reminder:%d:%s", key.ChatID, key.Text), func(ctx context.Context) error {
		s.deliver(ctx, key, gen, at)
		return nil
	})
	if err != nil {
		return err
	}
	e.handle = Pending{Task: task}
	return nil
}

// removeLocked drops e and its row and returns a delivered message to delete.
func (s *Scheduler) removeLocked(ctx context.Context, e *entry) kit.MessageRef {
	delete(s.entries, e.key)
	stale := release(e)
	if err := s.store.DeleteOneShot(ctx, e.key.ChatID, e.key.Text); err != nil {
		s.log.Warn("delete reminder row failed", logx.Int64("chat_id", e.key.ChatID), logx.String("text", e.key.Text), logx.Err(err))
	}
	return stale
}

func (s *Scheduler) byMessageLocked(chatID int64, messageID int) *entry {
	for _, e := range s.entries {
		if d, ok := e.handle.(Delivered); ok && d.Ref.ChatID == chatID && d.Ref.MessageID == messageID {
			return e
		}
	}
	return nil
}

// release cancels a pending task or hands back the delivered message.
func release(e *entry) kit.MessageRef {
	switch h := e.handle.(type) {
	case Pending:
		h.Task.Cancel()
	case Delivered:
		e.handle = nil
		return h.Ref
	}
	e.handle = nil
	return kit.MessageRef{}
}

func (s *Scheduler) deliver(ctx context.Context, key reminder.Key, gen uint64, fireAt time.Time) {
	t := s.clock.TimerAt(fireAt)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C():
	}

	s.mu.Lock()
	if e, ok := s.entries[key]; !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	if err := s.store.DeleteOneShot(ctx, key.ChatID, key.Text); err != nil {
		s.log.Warn("delete delivered reminder row failed", logx.Int64("chat_id", key.ChatID), logx.String("text", key.Text), logx.Err(err))
	}
	s.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.sendTO)
	ref, err := s.msgr.SendOneShot(sctx, key.ChatID, key.Text)
	cancel()

	s.mu.Lock()
	e, ok := s.entries[key]
	current := ok && e.gen == gen
	if err != nil {
		if current {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		s.log.Error("reminder delivery failed", logx.Int64("chat_id", key.ChatID), logx.String("text", key.Text), logx.Err(err))
		if current {
			s.refresh.RequestRefresh(key.ChatID)
		}
		return
	}
	if !current {
		s.mu.Unlock()
		// Superseded while sending.
		s.deleteMessage(context.WithoutCancel(ctx), ref)
		return
	}
	e.handle = Delivered{Ref: ref}
	s.mu.Unlock()

	s.log.Debug("reminder delivered", logx.Int64("chat_id", key.ChatID), logx.String("text", key.Text), logx.Int("message_id", ref.MessageID))
	s.refresh.RequestRefresh(key.ChatID)
}

func (s *Scheduler) deleteMessage(ctx context.Context, ref kit.MessageRef) {
	if ref.IsZero() {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTO)
	defer cancel()
	if err := s.msgr.Delete(dctx, ref); err != nil {
		s.log.Warn("delete reminder message failed", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}
