// Package transporttest provides a recording transport.Adapter.
package transporttest

import (
	"context"
	"reflect"
	"sync"

	kit "remindbot/internal/transport"
)

// Msg is one message held by the fake chat.
type Msg struct {
	Ref   kit.MessageRef
	Text  string
	Opt   *kit.SendOptions
	Alive bool
	Edits int
}

type Answer struct {
	ID   string
	Text string
}

// Adapter keeps messages in memory and records every call.
type Adapter struct {
	mu      sync.Mutex
	nextID  int
	msgs    []*Msg
	answers []Answer
	menu    []kit.BotCommand

	sendErr error
}

var _ kit.Adapter = (*Adapter)(nil)

func New() *Adapter { return &Adapter{nextID: 1000} }

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return kit.MessageRef{}, a.sendErr
	}
	a.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}
	a.msgs = append(a.msgs, &Msg{Ref: ref, Text: text, Opt: opt, Alive: true})
	return ref, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.findLocked(ref)
	if m == nil || !m.Alive {
		return kit.ErrMessageNotFound
	}
	if m.Text == text && sameMarkup(m.Opt, opt) {
		return kit.ErrNotModified
	}
	m.Text = text
	m.Opt = opt
	m.Edits++
	return nil
}

func (a *Adapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.findLocked(ref)
	if m == nil || !m.Alive {
		return kit.ErrMessageNotFound
	}
	m.Alive = false
	return nil
}

func (a *Adapter) AnswerCallback(_ context.Context, id string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, Answer{ID: id, Text: text})
	return nil
}

func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	return nil
}

func (a *Adapter) findLocked(ref kit.MessageRef) *Msg {
	for _, m := range a.msgs {
		if m.Ref.ChatID == ref.ChatID && m.Ref.MessageID == ref.MessageID {
			return m
		}
	}
	return nil
}

func sameMarkup(a, b *kit.SendOptions) bool {
	var am, bm any
	if a != nil {
		am = a.ReplyMarkupAdapter
	}
	if b != nil {
		bm = b.ReplyMarkupAdapter
	}
	return reflect.DeepEqual(am, bm)
}

// SetSendErr makes SendText fail with err until reset with nil.
func (a *Adapter) SetSendErr(err error) {
	a.mu.Lock()
	a.sendErr = err
	a.mu.Unlock()
}

// Vanish deletes a message behind the bot's back.
func (a *Adapter) Vanish(ref kit.MessageRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m := a.findLocked(ref); m != nil {
		m.Alive = false
	}
}

// Get returns a copy of the message with ref.
func (a *Adapter) Get(ref kit.MessageRef) (Msg, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m := a.findLocked(ref); m != nil {
		return *m, true
	}
	return Msg{}, false
}

// Sent returns copies of every message ever sent.
func (a *Adapter) Sent() []Msg {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Msg, len(a.msgs))
	for i, m := range a.msgs {
		out[i] = *m
	}
	return out
}

// Alive returns the messages of chatID that were not deleted.
func (a *Adapter) Alive(chatID int64) []Msg {
	var out []Msg
	for _, m := range a.Sent() {
		if m.Alive && m.Ref.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recently sent message.
func (a *Adapter) Last() (Msg, bool) {
	s := a.Sent()
	if len(s) == 0 {
		return Msg{}, false
	}
	return s[len(s)-1], true
}

func (a *Adapter) Answers() []Answer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Answer(nil), a.answers...)
}

func (a *Adapter) Menu() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}
