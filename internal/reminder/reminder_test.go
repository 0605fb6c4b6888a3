package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
)

func TestWeekdaysCSV(t *testing.T) {
	t.Parallel()
	w := WeekdaysOf(time.Monday, time.Wednesday, time.Sunday)
	require.Equal(t, "0,1,3", w.CSV())

	back, err := ParseWeekdaysCSV("3, 1,0")
	require.NoError(t, err)
	require.Equal(t, w, back)

	for _, bad := range []string{"", "7", "x", " , "} {
		_, err := ParseWeekdaysCSV(bad)
		require.Error(t, err, bad)
	}
}

func TestWeekdaysSetOps(t *testing.T) {
	t.Parallel()
	w := AllWeekdays()
	require.True(t, w.Has(time.Saturday))
	w = w.Toggle(time.Saturday)
	require.False(t, w.Has(time.Saturday))
	require.Len(t, w.Days(), 6)
	require.Equal(t, time.Monday, w.Days()[0])
	require.True(t, Weekdays(0).IsEmpty())
	require.False(t, w.Has(time.Weekday(9)))
}

func TestWeekdaysString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		w    Weekdays
		want string
	}{
		{AllWeekdays(), "every day"},
		{WeekdaysOf(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday), "weekdays"},
		{WeekdaysOf(time.Sunday, time.Saturday), "weekends"},
		{WeekdaysOf(time.Sunday, time.Monday), "Mon, Sun"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.w.String())
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tod, err := ParseTimeOfDay("7:05")
	require.NoError(t, err)
	require.Equal(t, "07:05", tod.String())

	for _, bad := range []string{"24:00", "12:60", "1205", "12:5", "aa:bb", ""} {
		_, err := ParseTimeOfDay(bad)
		require.Error(t, err, bad)
	}

	loc := time.FixedZone("X", 3*3600)
	at := tod.On(time.Date(2026, 5, 4, 23, 59, 0, 0, loc))
	require.Equal(t, time.Date(2026, 5, 4, 7, 5, 0, 0, loc), at)
	require.True(t, tod.Matches(at.Add(59*time.Second)))
	require.False(t, tod.Matches(at.Add(time.Minute)))
}

func TestBusRefresherPublishesChatID(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(2, EventRemindersChanged)
	defer unsub()

	BusRefresher{Bus: bus}.RequestRefresh(42)
	e := <-ch
	require.Equal(t, int64(42), e.Data)
}
