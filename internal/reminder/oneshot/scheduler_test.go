package oneshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"remindbot/internal/reminder"
	"remindbot/internal/reminder/remindertest"
	"remindbot/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	s     *Scheduler
	clock *remindertest.Clock
	msgr  *remindertest.Messenger
	store *remindertest.Store
	ref   *remindertest.Refreshes
}

func newHarness(t *testing.T, store *remindertest.Store) *harness {
	t.Helper()
	if store == nil {
		store = remindertest.NewStore()
	}
	h := &harness{
		clock: remindertest.NewClock(t0),
		msgr:  remindertest.NewMessenger(),
		store: store,
		ref:   &remindertest.Refreshes{},
	}
	h.s = New(Options{Store: h.store, Messenger: h.msgr, Refresher: h.ref, Clock: h.clock})
	require.NoError(t, h.s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, h.s.Stop(ctx))
	})
	return h
}

func (h *harness) waitSent(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.msgr.Count() >= n }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) waitDelivered(t *testing.T, key reminder.Key) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := h.s.Get(key)
		return ok && v.Delivered
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDeliveryAfterFireTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 1, Text: "tea"}

	replaced, err := h.s.Create(ctx, key, t0.Add(10*time.Second))
	require.NoError(t, err)
	require.False(t, replaced)
	require.Equal(t, 1, h.store.OneShotCount())

	h.clock.Advance(9 * time.Second)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.msgr.Count())

	h.clock.Advance(time.Second)
	h.waitDelivered(t, key)
	sent := h.msgr.All()
	require.Len(t, sent, 1)
	require.Equal(t, "tea", sent[0].Text)
	require.Equal(t, "oneshot", sent[0].Kind)
	require.Zero(t, h.store.OneShotCount(), "delivered reminders are not persisted")
}

func TestCompleteBeforeFireNeverSends(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 1, Text: "call"}

	_, err := h.s.Create(ctx, key, t0.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, h.s.Complete(ctx, key))
	require.ErrorIs(t, h.s.Complete(ctx, key), ErrNotFound)

	h.clock.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.msgr.Count())
	require.Empty(t, h.s.List(1))
	require.Zero(t, h.store.OneShotCount())
}

func TestSnoozeDeliveredSupersedesMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 7, Text: "X"}

	_, err := h.s.Create(ctx, key, t0)
	require.NoError(t, err)
	h.waitDelivered(t, key)
	first := h.msgr.All()[0]

	gotKey, at, err := h.s.SnoozeByMessage(ctx, 7, first.Ref.MessageID, 300*time.Second)
	require.NoError(t, err)
	require.Equal(t, key, gotKey)
	require.Equal(t, t0.Add(300*time.Second), at)

	list := h.s.List(7)
	require.Len(t, list, 1)
	require.Equal(t, t0.Add(300*time.Second), list[0].FireAt)
	require.False(t, list[0].Delivered)
	require.Empty(t, h.msgr.Alive(), "old message must be gone")
	require.Equal(t, 1, h.store.OneShotCount())

	h.clock.Advance(300 * time.Second)
	h.waitSent(t, 2)
	h.waitDelivered(t, key)
	require.Len(t, h.msgr.Alive(), 1)
}

func TestSnoozePending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 1, Text: "walk"}

	_, err := h.s.Create(ctx, key, t0.Add(time.Minute))
	require.NoError(t, err)
	at, err := h.s.Snooze(ctx, key, time.Hour)
	require.NoError(t, err)
	require.Equal(t, t0.Add(time.Hour), at)

	h.clock.Advance(2 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.msgr.Count())

	_, err = h.s.Snooze(ctx, reminder.Key{ChatID: 1, Text: "nope"}, time.Hour)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = h.s.Snooze(ctx, key, 0)
	require.Error(t, err)
}

func TestCompleteByMessageDeletesMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 3, Text: "pay"}

	_, err := h.s.Create(ctx, key, t0)
	require.NoError(t, err)
	h.waitDelivered(t, key)
	msg := h.msgr.All()[0]

	_, err = h.s.CompleteByMessage(ctx, 3, msg.Ref.MessageID+1)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := h.s.CompleteByMessage(ctx, 3, msg.Ref.MessageID)
	require.NoError(t, err)
	require.Equal(t, key, got)
	require.Empty(t, h.msgr.Alive())
	require.Empty(t, h.s.List(3))
}

func TestDuplicatePolicy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 1, Text: "dup"}

	_, err := h.s.Create(ctx, key, t0.Add(time.Hour))
	require.NoError(t, err)

	h.s.SetPolicy(Reject)
	_, err = h.s.Create(ctx, key, t0.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrDuplicate)
	v, _ := h.s.Get(key)
	require.Equal(t, t0.Add(time.Hour), v.FireAt)

	h.s.SetPolicy(Replace)
	replaced, err := h.s.Create(ctx, key, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, replaced)
	v, _ = h.s.Get(key)
	require.Equal(t, t0.Add(2*time.Hour), v.FireAt)

	// The superseded task must not fire.
	h.clock.Advance(90 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.msgr.Count())
	h.clock.Advance(time.Hour)
	h.waitSent(t, 1)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, h.msgr.Count())
}

func TestEditPendingRenamesRow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 1, Text: "old"}

	_, err := h.s.Create(ctx, key, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, h.s.Edit(ctx, key, "  new  "))

	_, ok := h.s.Get(key)
	require.False(t, ok)
	v, ok := h.s.Get(reminder.Key{ChatID: 1, Text: "new"})
	require.True(t, ok)
	require.Equal(t, t0.Add(time.Hour), v.FireAt)

	rows, err := h.store.ListOneShots(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "new", rows[0].Text)

	require.ErrorIs(t, h.s.Edit(ctx, key, "x"), ErrNotFound)
	require.ErrorIs(t, h.s.Edit(ctx, v.Key, " "), ErrEmptyText)

	h.clock.Advance(time.Hour)
	h.waitSent(t, 1)
	require.Equal(t, "new", h.msgr.All()[0].Text)
}

func TestEditDeliveredInPlaceAndRecreate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 1, Text: "a"}

	_, err := h.s.Create(ctx, key, t0)
	require.NoError(t, err)
	h.waitDelivered(t, key)

	require.NoError(t, h.s.Edit(ctx, key, "b"))
	require.Equal(t, 1, h.msgr.Edits())
	require.Equal(t, "b", h.msgr.Alive()[0].Text)

	h.msgr.SetVanish(true)
	require.NoError(t, h.s.Edit(ctx, reminder.Key{ChatID: 1, Text: "b"}, "c"))
	require.Equal(t, 2, h.msgr.Count())
	latest := h.msgr.All()[1]
	require.Equal(t, "c", latest.Text)

	// The recreated message is now the one its buttons act on.
	got, err := h.s.CompleteByMessage(ctx, 1, latest.Ref.MessageID)
	require.NoError(t, err)
	require.Equal(t, "c", got.Text)
}

func TestSendFailureDropsReminder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	key := reminder.Key{ChatID: 1, Text: "fail"}
	h.msgr.SetSendErr(errors.New("blocked"))

	_, err := h.s.Create(ctx, key, t0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := h.s.Get(key)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, h.store.OneShotCount())
}

func TestRestoreReschedulesFutureRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remindertest.NewStore()
	rows := []storage.OneShotRow{
		{ChatID: 1, Text: "past", FireAt: t0.Add(-time.Minute)},
		{ChatID: 1, Text: "soon", FireAt: t0.Add(time.Minute)},
		{ChatID: 2, Text: "later", FireAt: t0.Add(time.Hour)},
	}
	for _, r := range rows {
		require.NoError(t, store.PutOneShot(ctx, r))
	}

	h := newHarness(t, store)
	restored, dropped, err := h.s.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, restored)
	require.Equal(t, 1, dropped)
	require.Equal(t, 2, store.OneShotCount())
	require.Equal(t, 1, h.ref.Count(1))
	require.Equal(t, 1, h.ref.Count(2))

	soon, ok := h.s.Get(reminder.Key{ChatID: 1, Text: "soon"})
	require.True(t, ok)
	require.Equal(t, time.Minute, soon.FireAt.Sub(h.clock.Now()))

	h.clock.Advance(time.Minute)
	h.waitSent(t, 1)
	require.Equal(t, "soon", h.msgr.All()[0].Text)
}

func TestDeleteAllAndList(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	for i, text := range []string{"c", "a", "b"} {
		_, err := h.s.Create(ctx, reminder.Key{ChatID: 1, Text: text}, t0.Add(time.Duration(3-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := h.s.Create(ctx, reminder.Key{ChatID: 2, Text: "other"}, t0.Add(time.Hour))
	require.NoError(t, err)

	list := h.s.List(1)
	require.Len(t, list, 3)
	require.Equal(t, "b", list[0].Text)
	require.Equal(t, "c", list[2].Text)

	require.Equal(t, 3, h.s.DeleteAll(ctx, 1))
	require.Empty(t, h.s.List(1))
	require.Len(t, h.s.List(2), 1)
	require.Equal(t, 1, h.store.OneShotCount())
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(Options{Store: remindertest.NewStore(), Messenger: remindertest.NewMessenger()})
	_, err := s.Create(ctx, reminder.Key{ChatID: 1, Text: "x"}, t0)
	require.ErrorIs(t, err, ErrNotStarted)
	_, err = s.Create(ctx, reminder.Key{ChatID: 1, Text: "   "}, t0)
	require.ErrorIs(t, err, ErrEmptyText)

	h := newHarness(t, nil)
	h.store.SetWriteErr(errors.New("disk full"))
	_, err = h.s.Create(ctx, reminder.Key{ChatID: 1, Text: "x"}, t0.Add(time.Hour))
	require.Error(t, err)
	require.Empty(t, h.s.List(1))
}

// holdFirstSend parks the first send until release is closed.
func (h *harness) holdFirstSend() (entered, release chan struct{}) {
	entered, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	h.msgr.SetSendHook(func(int64, string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	return entered, release
}

func TestMutationWhileSendInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key := reminder.Key{ChatID: 3, Text: "pills"}

	tests := []struct {
		name   string
		mutate func(t *testing.T, s *Scheduler)
		live   bool
	}{
		{"complete", func(t *testing.T, s *Scheduler) {
			require.NoError(t, s.Complete(ctx, key))
		}, false},
		{"replace", func(t *testing.T, s *Scheduler) {
			replaced, err := s.Create(ctx, key, t0.Add(time.Hour))
			require.NoError(t, err)
			require.True(t, replaced)
		}, true},
		{"snooze", func(t *testing.T, s *Scheduler) {
			at, err := s.Snooze(ctx, key, time.Hour)
			require.NoError(t, err)
			require.Equal(t, t0.Add(time.Hour), at)
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, nil)
			entered, release := h.holdFirstSend()

			_, err := h.s.Create(ctx, key, t0)
			require.NoError(t, err)
			select {
			case <-entered:
			case <-time.After(2 * time.Second):
				t.Fatal("delivery never reached the messenger")
			}
			require.Zero(t, h.store.OneShotCount(), "row is dropped before sending")

			tc.mutate(t, h.s)
			close(release)

			require.Eventually(t, func() bool {
				return h.msgr.Count() == 1 && len(h.msgr.Alive()) == 0
			}, 2*time.Second, 5*time.Millisecond, "superseded message is deleted")

			v, ok := h.s.Get(key)
			require.Equal(t, tc.live, ok)
			if !tc.live {
				require.Empty(t, h.s.List(key.ChatID))
				require.Zero(t, h.store.OneShotCount())
				return
			}
			require.False(t, v.Delivered)
			require.Equal(t, t0.Add(time.Hour), v.FireAt)
			require.Equal(t, 1, h.store.OneShotCount())
		})
	}
}

func TestRestartReschedulesPendingRows(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	pending := reminder.Key{ChatID: 5, Text: "stretch"}
	delivered := reminder.Key{ChatID: 5, Text: "water"}

	_, err := h.s.Create(ctx, delivered, t0)
	require.NoError(t, err)
	h.waitDelivered(t, delivered)
	_, err = h.s.Create(ctx, pending, t0.Add(time.Minute))
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.s.Stop(stopCtx))
	_, ok := h.s.Get(pending)
	require.False(t, ok, "pending entries die with their tasks")
	v, ok := h.s.Get(delivered)
	require.True(t, ok)
	require.True(t, v.Delivered)

	require.NoError(t, h.s.Start(ctx))
	restored, dropped, err := h.s.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, restored)
	require.Zero(t, dropped)

	h.clock.Advance(time.Minute)
	h.waitSent(t, 2)
	require.Equal(t, "stretch", h.msgr.All()[1].Text)
	h.waitDelivered(t, pending)
}
