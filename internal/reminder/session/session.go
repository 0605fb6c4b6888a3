// Package session implements the per-chat removal and edit flow.
//
// Each chat is in exactly one State. States that act on a reminder carry
// their Target, so confirming or editing without a target cannot be
// expressed. Whenever the chat has nothing left to select the session falls
// back to Idle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrNothingToSelect   = errors.New("no reminders to select")
	ErrEmptyWeekdays     = errors.New("select at least one weekday")
	ErrEmptyText         = errors.New("reminder text is empty")
)

type Purpose uint8

const (
	Remove Purpose = iota + 1
	Edit
)

func (p Purpose) String() string {
	switch p {
	case Remove:
		return "remove"
	case Edit:
		return "edit"
	default:
		return "unknown"
	}
}

type TargetKind uint8

const (
	OneShot TargetKind = iota + 1
	Daily
)

// Target names one reminder. One-shots are keyed by text, dailies by ID.
type Target struct {
	Kind    TargetKind
	ChatID  int64
	Text    string
	DailyID string
	// Detail is a short display suffix such as "07:00, weekdays".
	Detail string
}

func (t Target) Label() string {
	if t.Detail == "" {
		return t.Text
	}
	return t.Text + " (" + t.Detail + ")"
}

func (t Target) same(o Target) bool {
	if t.Kind != o.Kind || t.ChatID != o.ChatID {
		return false
	}
	if t.Kind == Daily {
		return t.DailyID == o.DailyID
	}
	return t.Text == o.Text
}

// State is one of Idle, Selecting, ConfirmDelete, ChooseEditField,
// EditText or EditDays.
type State interface{ state() }

type Idle struct{}

type Selecting struct {
	Purpose Purpose
	Targets []Target
}

type ConfirmDelete struct{ Target Target }

// ChooseEditField asks whether to edit the text or the weekdays of a daily.
type ChooseEditField struct{ Target Target }

// EditText waits for the next text message of the chat.
type EditText struct{ Target Target }

// EditDays holds a working copy of the weekdays. It is committed only by
// SaveDays.
type EditDays struct {
	Target  Target
	Working reminder.Weekdays
}

func (Idle) state()            {}
func (Selecting) state()       {}
func (ConfirmDelete) state()   {}
func (ChooseEditField) state() {}
func (EditText) state()        {}
func (EditDays) state()        {}

// Backend is what the session reads and mutates.
type Backend interface {
	Targets(ctx context.Context, chatID int64) ([]Target, error)
	Remove(ctx context.Context, t Target) error
	Rename(ctx context.Context, t Target, text string) error
	Weekdays(ctx context.Context, t Target) (reminder.Weekdays, error)
	SetWeekdays(ctx context.Context, t Target, days reminder.Weekdays) error
}

type entry struct {
	state State
	at    time.Time
}

// Machine tracks sessions for all chats.
type Machine struct {
	backend Backend
	refresh reminder.Refresher
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[int64]entry
}

type Option func(*Machine)

// WithIdleTimeout drops sessions untouched for d. Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option { return func(m *Machine) { m.idleTTL = d } }

// WithNow overrides the time source used for expiry.
func WithNow(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func NewMachine(backend Backend, refresh reminder.Refresher, opts ...Option) *Machine {
	m := &Machine{
		backend:  backend,
		refresh:  refresh,
		now:      time.Now,
		sessions: map[int64]entry{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.refresh == nil {
		m.refresh = reminder.RefreshFunc(func(int64) {})
	}
	return m
}

// Current returns the chat's state. Expired sessions read as Idle.
func (m *Machine) Current(chatID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(chatID)
}

func (m *Machine) getLocked(chatID int64) State {
	e, ok := m.sessions[chatID]
	if !ok {
		return Idle{}
	}
	if m.idleTTL > 0 && m.now().Sub(e.at) > m.idleTTL {
		delete(m.sessions, chatID)
		return Idle{}
	}
	return e.state
}

func (m *Machine) setLocked(chatID int64, s State) {
	if _, idle := s.(Idle); idle {
		delete(m.sessions, chatID)
		return
	}
	m.sessions[chatID] = entry{state: s, at: m.now()}
}

// Begin enters selection for purpose. With nothing to select the chat stays
// Idle and ErrNothingToSelect is returned.
func (m *Machine) Begin(ctx context.Context, chatID int64, purpose Purpose) (State, error) {
	if purpose != Remove && purpose != Edit {
		return nil, fmt.Errorf("%w: purpose %d", ErrInvalidTransition, purpose)
	}
	targets, err := m.backend.Targets(ctx, chatID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	var next State = Idle{}
	if len(targets) > 0 {
		next = Selecting{Purpose: purpose, Targets: targets}
	}
	m.setLocked(chatID, next)
	m.mu.Unlock()
	m.refresh.RequestRefresh(chatID)
	if len(targets) == 0 {
		return next, ErrNothingToSelect
	}
	return next, nil
}

// Pick selects targets[index] of the current selection.
func (m *Machine) Pick(ctx context.Context, chatID int64, index int) (State, error) {
	m.mu.Lock()
	sel, ok := m.getLocked(chatID).(Selecting)
	if !ok || index < 0 || index >= len(sel.Targets) {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	t := sel.Targets[index]
	var next State
	switch {
	case sel.Purpose == Remove:
		next = ConfirmDelete{Target: t}
	case t.Kind == Daily:
		next = ChooseEditField{Target: t}
	default:
		next = EditText{Target: t}
	}
	m.setLocked(chatID, next)
	m.mu.Unlock()
	m.refresh.RequestRefresh(chatID)
	return next, nil
}

func (m *Machine) ChooseText(chatID int64) (State, error) {
	m.mu.Lock()
	cur, ok := m.getLocked(chatID).(ChooseEditField)
	if !ok {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	next := EditText{Target: cur.Target}
	m.setLocked(chatID, next)
	m.mu.Unlock()
	m.refresh.RequestRefresh(chatID)
	return next, nil
}

// ChooseDays starts weekday editing from the daily's current weekdays.
func (m *Machine) ChooseDays(ctx context.Context, chatID int64) (State, error) {
	m.mu.Lock()
	cur, ok := m.getLocked(chatID).(ChooseEditField)
	m.mu.Unlock()
	if !ok || cur.Target.Kind != Daily {
		return nil, ErrInvalidTransition
	}
	days, err := m.backend.Weekdays(ctx, cur.Target)
	if err != nil {
		return nil, err
	}
	next := EditDays{Target: cur.Target, Working: days}
	if err := m.transition(chatID, cur, next); err != nil {
		return nil, err
	}
	return next, nil
}

// ToggleDay flips day in the working copy.
func (m *Machine) ToggleDay(chatID int64, day time.Weekday) (State, error) {
	if day < time.Sunday || day > time.Saturday {
		return nil, ErrInvalidTransition
	}
	m.mu.Lock()
	cur, ok := m.getLocked(chatID).(EditDays)
	if !ok {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	cur.Working = cur.Working.Toggle(day)
	m.setLocked(chatID, cur)
	m.mu.Unlock()
	m.refresh.RequestRefresh(chatID)
	return cur, nil
}

// SaveDays commits the working weekdays and returns to Idle.
func (m *Machine) SaveDays(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	cur, ok := m.getLocked(chatID).(EditDays)
	m.mu.Unlock()
	if !ok {
		return ErrInvalidTransition
	}
	if cur.Working.IsEmpty() {
		return ErrEmptyWeekdays
	}
	if err := m.backend.SetWeekdays(ctx, cur.Target, cur.Working); err != nil {
		return err
	}
	return m.transition(chatID, nil, Idle{})
}

// SubmitText renames the target and returns to Idle.
func (m *Machine) SubmitText(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	m.mu.Lock()
	cur, ok := m.getLocked(chatID).(EditText)
	m.mu.Unlock()
	if !ok {
		return ErrInvalidTransition
	}
	if text == "" {
		return ErrEmptyText
	}
	if err := m.backend.Rename(ctx, cur.Target, text); err != nil {
		return err
	}
	return m.transition(chatID, nil, Idle{})
}

// Confirm removes the target and returns to Idle.
func (m *Machine) Confirm(ctx context.Context, chatID int64) (Target, error) {
	m.mu.Lock()
	cur, ok := m.getLocked(chatID).(ConfirmDelete)
	m.mu.Unlock()
	if !ok {
		return Target{}, ErrInvalidTransition
	}
	if err := m.backend.Remove(ctx, cur.Target); err != nil {
		return Target{}, err
	}
	return cur.Target, m.transition(chatID, nil, Idle{})
}

// Back moves one step toward the selection. From Selecting it ends the
// session.
func (m *Machine) Back(ctx context.Context, chatID int64) (State, error) {
	m.mu.Lock()
	cur := m.getLocked(chatID)
	m.mu.Unlock()

	switch s := cur.(type) {
	case Idle:
		return nil, ErrInvalidTransition
	case Selecting:
		m.Cancel(chatID)
		return Idle{}, nil
	case ConfirmDelete:
		return m.reselect(ctx, chatID, Remove)
	case ChooseEditField:
		return m.reselect(ctx, chatID, Edit)
	case EditText:
		if s.Target.Kind == Daily {
			next := ChooseEditField{Target: s.Target}
			return next, m.transition(chatID, cur, next)
		}
		return m.reselect(ctx, chatID, Edit)
	case EditDays:
		next := ChooseEditField{Target: s.Target}
		return next, m.transition(chatID, cur, next)
	}
	return nil, ErrInvalidTransition
}

func (m *Machine) reselect(ctx context.Context, chatID int64, p Purpose) (State, error) {
	st, err := m.Begin(ctx, chatID, p)
	if errors.Is(err, ErrNothingToSelect) {
		return Idle{}, nil
	}
	return st, err
}

// Cancel discards the chat's session.
func (m *Machine) Cancel(chatID int64) {
	m.mu.Lock()
	_, had := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()
	if had {
		m.refresh.RequestRefresh(chatID)
	}
}

// Sync reconciles the session with the backend after reminders changed.
// Selections pick up the current targets. A session whose target is gone,
// or a chat with nothing left to select, returns to Idle. Sync does not
// request a refresh.
func (m *Machine) Sync(ctx context.Context, chatID int64) (State, error) {
	m.mu.Lock()
	cur := m.getLocked(chatID)
	m.mu.Unlock()
	if _, idle := cur.(Idle); idle {
		return cur, nil
	}
	targets, err := m.backend.Targets(ctx, chatID)
	if err != nil {
		return cur, err
	}

	var next State
	switch s := cur.(type) {
	case Selecting:
		if len(targets) == 0 {
			next = Idle{}
		} else {
			next = Selecting{Purpose: s.Purpose, Targets: targets}
		}
	default:
		t, _ := targetOf(cur)
		next = Idle{}
		for _, o := range targets {
			if o.same(t) {
				next = withTarget(cur, o)
				break
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if now := m.getLocked(chatID); !sameState(now, cur) {
		return now, nil
	}
	m.setLocked(chatID, next)
	return next, nil
}

// transition installs next if the state is still from (nil matches any).
func (m *Machine) transition(chatID int64, from, next State) error {
	m.mu.Lock()
	if from != nil && !sameState(m.getLocked(chatID), from) {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.setLocked(chatID, next)
	m.mu.Unlock()
	m.refresh.RequestRefresh(chatID)
	return nil
}

func targetOf(s State) (Target, bool) {
	switch s := s.(type) {
	case ConfirmDelete:
		return s.Target, true
	case ChooseEditField:
		return s.Target, true
	case EditText:
		return s.Target, true
	case EditDays:
		return s.Target, true
	}
	return Target{}, false
}

func withTarget(s State, t Target) State {
	switch s := s.(type) {
	case ConfirmDelete:
		return ConfirmDelete{Target: t}
	case ChooseEditField:
		return ChooseEditField{Target: t}
	case EditText:
		return EditText{Target: t}
	case EditDays:
		return EditDays{Target: t, Working: s.Working}
	}
	return s
}

func sameState(a, b State) bool {
	switch a := a.(type) {
	case Idle:
		_, ok := b.(Idle)
		return ok
	case Selecting:
		bs, ok := b.(Selecting)
		if !ok || a.Purpose != bs.Purpose || len(a.Targets) != len(bs.Targets) {
			return false
		}
		for i := range a.Targets {
			if a.Targets[i] != bs.Targets[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
