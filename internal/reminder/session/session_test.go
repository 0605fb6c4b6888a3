package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	"remindbot/internal/reminder/remindertest"
)

type fakeBackend struct {
	mu      sync.Mutex
	targets []Target
	days    map[string]reminder.Weekdays
	renamed map[string]string
	removed []Target
	failErr error
}

func newBackend(targets ...Target) *fakeBackend {
	return &fakeBackend{targets: targets, days: map[string]reminder.Weekdays{}, renamed: map[string]string{}}
}

func (b *fakeBackend) Targets(_ context.Context, chatID int64) ([]Target, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Target
	for _, t := range b.targets {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (b *fakeBackend) Remove(_ context.Context, t Target) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		return b.failErr
	}
	b.removed = append(b.removed, t)
	kept := b.targets[:0]
	for _, o := range b.targets {
		if !o.same(t) {
			kept = append(kept, o)
		}
	}
	b.targets = kept
	return nil
}

func (b *fakeBackend) Rename(_ context.Context, t Target, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renamed[t.Text] = text
	return nil
}

func (b *fakeBackend) Weekdays(_ context.Context, t Target) (reminder.Weekdays, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.days[t.DailyID], nil
}

func (b *fakeBackend) SetWeekdays(_ context.Context, t Target, days reminder.Weekdays) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.days[t.DailyID] = days
	return nil
}

func (b *fakeBackend) drop(t Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.targets[:0]
	for _, o := range b.targets {
		if !o.same(t) {
			kept = append(kept, o)
		}
	}
	b.targets = kept
}

var (
	milk  = Target{Kind: OneShot, ChatID: 1, Text: "buy milk"}
	gym   = Target{Kind: Daily, ChatID: 1, Text: "gym", DailyID: "d1", Detail: "07:00"}
	other = Target{Kind: OneShot, ChatID: 2, Text: "other"}
)

func TestBeginWithNothingStaysIdle(t *testing.T) {
	t.Parallel()
	m := NewMachine(newBackend(other), nil)

	st, err := m.Begin(context.Background(), 1, Remove)
	require.ErrorIs(t, err, ErrNothingToSelect)
	require.IsType(t, Idle{}, st)
	require.IsType(t, Idle{}, m.Current(1))
}

func TestRemovalFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBackend(milk, gym)
	refs := &remindertest.Refreshes{}
	m := NewMachine(b, refs)

	_, err := m.Confirm(ctx, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	st, err := m.Begin(ctx, 1, Remove)
	require.NoError(t, err)
	sel := st.(Selecting)
	require.Len(t, sel.Targets, 2)

	_, err = m.Pick(ctx, 1, 5)
	require.ErrorIs(t, err, ErrInvalidTransition)

	st, err = m.Pick(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, ConfirmDelete{Target: gym}, st)

	st, err = m.Back(ctx, 1)
	require.NoError(t, err)
	require.IsType(t, Selecting{}, st)

	_, err = m.Pick(ctx, 1, 0)
	require.NoError(t, err)
	removed, err := m.Confirm(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, milk, removed)
	require.IsType(t, Idle{}, m.Current(1))
	require.Equal(t, []Target{milk}, b.removed)
	require.Positive(t, refs.Count(1))
	require.Zero(t, refs.Count(2))
}

func TestRemoveFailureKeepsConfirmation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBackend(milk)
	b.failErr = errors.New("disk full")
	m := NewMachine(b, nil)

	_, err := m.Begin(ctx, 1, Remove)
	require.NoError(t, err)
	_, err = m.Pick(ctx, 1, 0)
	require.NoError(t, err)
	_, err = m.Confirm(ctx, 1)
	require.Error(t, err)
	require.Equal(t, ConfirmDelete{Target: milk}, m.Current(1))
}

func TestEditOneShotGoesStraightToText(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBackend(milk, gym)
	m := NewMachine(b, nil)

	_, err := m.Begin(ctx, 1, Edit)
	require.NoError(t, err)
	st, err := m.Pick(ctx, 1, 0)
	require.NoError(t, err)
	require.Equal(t, EditText{Target: milk}, st)

	require.ErrorIs(t, m.SubmitText(ctx, 1, "  "), ErrEmptyText)
	require.NoError(t, m.SubmitText(ctx, 1, "buy oat milk"))
	require.Equal(t, "buy oat milk", b.renamed["buy milk"])
	require.IsType(t, Idle{}, m.Current(1))
}

func TestEditDaysWorkingCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBackend(milk, gym)
	b.days["d1"] = reminder.WeekdaysOf(time.Monday)
	m := NewMachine(b, nil)

	_, err := m.Begin(ctx, 1, Edit)
	require.NoError(t, err)
	st, err := m.Pick(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, ChooseEditField{Target: gym}, st)

	st, err = m.ChooseDays(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, reminder.WeekdaysOf(time.Monday), st.(EditDays).Working)

	_, err = m.ToggleDay(1, time.Monday)
	require.NoError(t, err)
	require.ErrorIs(t, m.SaveDays(ctx, 1), ErrEmptyWeekdays)

	_, err = m.ToggleDay(1, time.Friday)
	require.NoError(t, err)
	// Nothing is committed before Save.
	assert.Equal(t, reminder.WeekdaysOf(time.Monday), b.days["d1"])

	// Cancel discards the working copy.
	m.Cancel(1)
	assert.Equal(t, reminder.WeekdaysOf(time.Monday), b.days["d1"])

	_, err = m.Begin(ctx, 1, Edit)
	require.NoError(t, err)
	_, err = m.Pick(ctx, 1, 1)
	require.NoError(t, err)
	_, err = m.ChooseDays(ctx, 1)
	require.NoError(t, err)
	_, err = m.ToggleDay(1, time.Friday)
	require.NoError(t, err)
	require.NoError(t, m.SaveDays(ctx, 1))
	require.Equal(t, reminder.WeekdaysOf(time.Monday, time.Friday), b.days["d1"])
	require.IsType(t, Idle{}, m.Current(1))
}

func TestBackNavigation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMachine(newBackend(milk, gym), nil)

	_, err := m.Back(ctx, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Begin(ctx, 1, Edit)
	require.NoError(t, err)
	_, err = m.Pick(ctx, 1, 1)
	require.NoError(t, err)
	_, err = m.ChooseText(1)
	require.NoError(t, err)

	st, err := m.Back(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, ChooseEditField{Target: gym}, st)

	st, err = m.Back(ctx, 1)
	require.NoError(t, err)
	require.IsType(t, Selecting{}, st)

	st, err = m.Back(ctx, 1)
	require.NoError(t, err)
	require.IsType(t, Idle{}, st)
	require.IsType(t, Idle{}, m.Current(1))
}

func TestSyncReturnsToIdleWhenTargetsVanish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newBackend(milk, gym)
	m := NewMachine(b, nil)

	_, err := m.Begin(ctx, 1, Remove)
	require.NoError(t, err)

	b.drop(milk)
	st, err := m.Sync(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, Selecting{Purpose: Remove, Targets: []Target{gym}}, st)

	_, err = m.Pick(ctx, 1, 0)
	require.NoError(t, err)
	b.drop(gym)
	st, err = m.Sync(ctx, 1)
	require.NoError(t, err)
	require.IsType(t, Idle{}, st)
	require.IsType(t, Idle{}, m.Current(1))
}

func TestIdleTimeout(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := NewMachine(newBackend(milk), nil, WithIdleTimeout(time.Minute), WithNow(clock))

	_, err := m.Begin(context.Background(), 1, Remove)
	require.NoError(t, err)
	require.IsType(t, Selecting{}, m.Current(1))

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	require.IsType(t, Idle{}, m.Current(1))
}

func TestInvalidInputs(t *testing.T) {
	t.Parallel()
	m := NewMachine(newBackend(milk), nil)
	ctx := context.Background()

	_, err := m.Begin(ctx, 1, Purpose(9))
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.ToggleDay(1, time.Monday)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.ChooseText(1)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, m.SaveDays(ctx, 1), ErrInvalidTransition)
	require.ErrorIs(t, m.SubmitText(ctx, 1, "x"), ErrInvalidTransition)

	_, err = m.Begin(ctx, 1, Edit)
	require.NoError(t, err)
	_, err = m.Pick(ctx, 1, 0)
	require.NoError(t, err)
	_, err = m.ChooseDays(ctx, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
