package reminder

import (
	"context"
	"time"

	"remindbot/internal/eventbus"
	kit "remindbot/internal/transport"
)

// Messenger delivers reminder messages. The implementation owns the
// keyboards; callbacks identify reminders by the message they arrive on.
type Messenger interface {
	// SendOneShot posts a delivered one-shot with Complete and Snooze controls.
	SendOneShot(ctx context.Context, chatID int64, text string) (kit.MessageRef, error)
	// EditOneShot rewrites a delivered one-shot. When the message vanished it
	// posts a new one and returns its ref.
	EditOneShot(ctx context.Context, ref kit.MessageRef, text string) (kit.MessageRef, error)
	// SendDaily posts a daily reminder with a Done control.
	SendDaily(ctx context.Context, chatID int64, text string) (kit.MessageRef, error)
	// Delete removes a message. A vanished message is not an error.
	Delete(ctx context.Context, ref kit.MessageRef) error
}

// Refresher is told when a chat's reminders changed.
type Refresher interface {
	RequestRefresh(chatID int64)
}

// ZoneResolver maps a chat to its timezone.
type ZoneResolver interface {
	Location(ctx context.Context, chatID int64) *time.Location
}

// EventRemindersChanged is published on the bus with the chat id as Data.
const EventRemindersChanged = "reminders.changed"

// BusRefresher publishes refresh requests on an event bus.
type BusRefresher struct {
	Bus eventbus.Bus
}

func (r BusRefresher) RequestRefresh(chatID int64) {
	if r.Bus == nil {
		return
	}
	r.Bus.Publish(eventbus.Event{Type: EventRemindersChanged, Data: chatID})
}

// RefreshFunc adapts a function to Refresher.
type RefreshFunc func(chatID int64)

func (f RefreshFunc) RequestRefresh(chatID int64) { f(chatID) }
