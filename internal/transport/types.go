// Package transport is the chat messaging port the bot is written against.
// The Telegram implementation lives in transport/telegram/adapter and an
// in-memory one in transporttest.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrMessageNotFound: the message was deleted or is too old to touch.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotModified: an edit left the message unchanged.
	ErrNotModified = errors.New("message not modified")
)

// Adapter sends and receives chat messages. EditText and DeleteMessage
// fail with ErrMessageNotFound for vanished messages; EditText fails with
// ErrNotModified for a no-op edit.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// CommandMenuUpdater is implemented by adapters that can publish the
// command list to the client menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

type BotCommand struct {
	Command     string
	Description string
}

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event; exactly one of Message and Callback is set.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// ChatID is the chat the update came from, or 0.
func (u Update) ChatID() int64 {
	if u.Message != nil {
		return u.Message.ChatID
	}
	if u.Callback != nil {
		return u.Callback.ChatID
	}
	return 0
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
}

// Callback is an inline button press on message MessageID.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// ChatTarget addresses a chat and, in forums, a topic thread.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) IsZero() bool { return r.MessageID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkupAdapter carries adapter-specific markup
	// (*telebot.ReplyMarkup for Telegram).
	ReplyMarkupAdapter any
}
