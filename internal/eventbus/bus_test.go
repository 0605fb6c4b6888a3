package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	refresh, unsubRefresh := b.Subscribe(4, "reminders.changed")
	defer unsubRefresh()

	b.Publish(Event{Type: "config.reloaded"})
	b.Publish(Event{Type: "reminders.changed", Data: int64(7)})

	require.Len(t, all, 2)
	require.Len(t, refresh, 1)
	e := <-refresh
	require.Equal(t, int64(7), e.Data)
	require.False(t, e.Time.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: "x"})
	}
	require.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}
