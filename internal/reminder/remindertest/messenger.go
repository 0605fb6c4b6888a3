package remindertest

import (
	"context"
	"sync"

	kit "remindbot/internal/transport"
)

// Sent is one message posted through the Messenger.
type Sent struct {
	Ref   kit.MessageRef
	Kind  string // "oneshot" or "daily"
	Text  string
	Alive bool
}

// Messenger is a recording reminder.Messenger with failure injection.
type Messenger struct {
	mu     sync.Mutex
	nextID int
	sent   []*Sent
	edits  int

	sendErr error
	vanish  bool
	onSend  func(chatID int64, text string)
}

func NewMessenger() *Messenger { return &Messenger{nextID: 100} }

func (m *Messenger) post(chatID int64, kind, text string) (kit.MessageRef, error) {
	m.mu.Lock()
	hook := m.onSend
	m.mu.Unlock()
	if hook != nil {
		hook(chatID, text)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return kit.MessageRef{}, m.sendErr
	}
	m.nextID++
	ref := kit.MessageRef{ChatID: chatID, MessageID: m.nextID}
	m.sent = append(m.sent, &Sent{Ref: ref, Kind: kind, Text: text, Alive: true})
	return ref, nil
}

func (m *Messenger) SendOneShot(_ context.Context, chatID int64, text string) (kit.MessageRef, error) {
	return m.post(chatID, "oneshot", text)
}

func (m *Messenger) SendDaily(_ context.Context, chatID int64, text string) (kit.MessageRef, error) {
	return m.post(chatID, "daily", text)
}

func (m *Messenger) EditOneShot(ctx context.Context, ref kit.MessageRef, text string) (kit.MessageRef, error) {
	m.mu.Lock()
	s := m.find(ref)
	if s != nil && s.Alive && !m.vanish {
		s.Text = text
		m.edits++
		m.mu.Unlock()
		return ref, nil
	}
	m.mu.Unlock()
	return m.SendOneShot(ctx, ref.ChatID, text)
}

func (m *Messenger) Delete(_ context.Context, ref kit.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.find(ref); s != nil {
		s.Alive = false
	}
	return nil
}

func (m *Messenger) find(ref kit.MessageRef) *Sent {
	for _, s := range m.sent {
		if s.Ref == ref {
			return s
		}
	}
	return nil
}

// All returns copies of every posted message in order.
func (m *Messenger) All() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	for i, s := range m.sent {
		out[i] = *s
	}
	return out
}

// Alive returns the posted messages that were not deleted.
func (m *Messenger) Alive() []Sent {
	var out []Sent
	for _, s := range m.All() {
		if s.Alive {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of posted messages.
func (m *Messenger) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Edits returns the number of in-place edits.
func (m *Messenger) Edits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edits
}

// SetSendErr makes every send fail with err until reset with nil.
func (m *Messenger) SetSendErr(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// SetSendHook installs fn to run before every send, outside the lock.
// A hook that blocks holds the send in flight; the context is ignored.
func (m *Messenger) SetSendHook(fn func(chatID int64, text string)) {
	m.mu.Lock()
	m.onSend = fn
	m.mu.Unlock()
}

// SetVanish makes EditOneShot behave as if the message was deleted.
func (m *Messenger) SetVanish(v bool) {
	m.mu.Lock()
	m.vanish = v
	m.mu.Unlock()
}

// Refreshes counts refresh requests per chat.
type Refreshes struct {
	mu sync.Mutex
	n  map[int64]int
}

func (r *Refreshes) RequestRefresh(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == nil {
		r.n = map[int64]int{}
	}
	r.n[chatID]++
}

func (r *Refreshes) Count(chatID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n[chatID]
}
