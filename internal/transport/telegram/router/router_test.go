package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	kit "remindbot/internal/transport"
	"remindbot/internal/transport/transporttest"
	logx "remindbot/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func msg(chatID, from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 7, ChatID: chatID, FromID: from, Text: text}}
}

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) handler(tag string) HandlerFunc {
	return func(_ context.Context, req *Request) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, tag+"|"+req.Command+"|"+req.Text)
		return nil
	}
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestRouting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := transporttest.New()
	rec := &recorder{}
	r := New(logx.Nop(), ad)
	r.SetRegistry(ctx, Registry{
		Commands: []Command{
			{Name: "help", Aliases: []string{"start"}, Description: "show help", Handle: rec.handler("help")},
			{Name: "list", Description: "show reminders", Handle: rec.handler("list")},
		},
		Text: rec.handler("text"),
	})

	r.Handle(ctx, msg(1, 5, "/help"))
	r.Handle(ctx, msg(1, 5, "/start@remind_bot"))
	r.Handle(ctx, msg(1, 5, "/LIST now"))
	r.Handle(ctx, msg(1, 5, "  10m tea  "))
	r.Handle(ctx, msg(1, 5, "   "))

	require.Equal(t, []string{
		"help|help|/help",
		"help|start|/start@remind_bot",
		"list|list|/LIST now",
		"text||10m tea",
	}, rec.all())

	r.Handle(ctx, msg(1, 5, "/nope"))
	last, ok := ad.Last()
	require.True(t, ok)
	require.Contains(t, last.Text, "Unknown command")

	menu := ad.Menu()
	require.Len(t, menu, 2)
	require.Equal(t, "help", menu[0].Command)
	require.Equal(t, "list", menu[1].Command)
}

func TestAllowedList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := transporttest.New()
	rec := &recorder{}
	r := New(logx.Nop(), ad)
	r.SetRegistry(ctx, Registry{
		Text:      rec.handler("text"),
		Callbacks: []CallbackRoute{{Scope: "rem", Handle: rec.handler("cb")}},
	})
	r.SetAllowed([]int64{42})

	r.Handle(ctx, msg(1, 5, "hello"))
	r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 5, ChatID: 1, Data: "rem:done"}})
	require.Empty(t, rec.all())
	require.Equal(t, []transporttest.Answer{{ID: "c1", Text: "forbidden"}}, ad.Answers())

	r.Handle(ctx, msg(1, 42, "hello"))
	require.Len(t, rec.all(), 1)

	r.SetAllowed(nil)
	r.Handle(ctx, msg(1, 5, "hello"))
	require.Len(t, rec.all(), 2)
}

func TestCallbackToastAndParsing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ad := transporttest.New()
	r := New(logx.Nop(), ad)

	var got *Request
	r.SetRegistry(ctx, Registry{Callbacks: []CallbackRoute{{
		Scope: "rem",
		Handle: func(_ context.Context, req *Request) error {
			got = req
			req.Toast = "done"
			return errors.New("handler error is logged only")
		},
	}}})

	r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", FromID: 5, ChatID: 1, MessageID: 77, Data: "rem:snooze:300"}})
	r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c2", FromID: 5, ChatID: 1, Data: "other:x"}})
	r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c3", FromID: 5, ChatID: 1, Data: "garbage"}})

	require.NotNil(t, got)
	require.Equal(t, 77, got.MessageID)
	require.Equal(t, "rem", got.Callback.Scope)
	require.Equal(t, "snooze", got.Callback.Action)
	require.Equal(t, "300", got.Callback.Arg(0))
	require.Equal(t, []transporttest.Answer{
		{ID: "c1", Text: "done"},
		{ID: "c2", Text: ""},
		{ID: "c3", Text: ""},
	}, ad.Answers())
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := New(logx.Nop(), transporttest.New())
	r.SetRegistry(ctx, Registry{Text: func(context.Context, *Request) error { panic("boom") }})
	require.NotPanics(t, func() { r.Handle(ctx, msg(1, 1, "x")) })
}

func TestDispatchLoopKeepsChatOrder(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		order = map[int64][]string{}
	)
	r := New(logx.Nop(), transporttest.New(), WithWorkers(3))
	r.SetRegistry(ctx, Registry{Text: func(_ context.Context, req *Request) error {
		mu.Lock()
		order[req.Chat.ChatID] = append(order[req.Chat.ChatID], req.Text)
		mu.Unlock()
		return nil
	}})

	updates := make(chan kit.Update)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	texts := []string{"a", "b", "c", "d", "e"}
	for _, txt := range texts {
		for chat := int64(1); chat <= 4; chat++ {
			updates <- msg(chat, 1, txt)
		}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for chat := int64(1); chat <= 4; chat++ {
			if len(order[chat]) != len(texts) {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	for chat := int64(1); chat <= 4; chat++ {
		require.Equal(t, texts, order[chat])
	}
	mu.Unlock()

	close(updates)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}

func TestBuildMenu(t *testing.T) {
	t.Parallel()
	got := buildMenu([]kit.BotCommand{
		{Command: "timezone", Description: "set\nzone"},
		{Command: "Help"},
		{Command: "help", Description: "dup"},
		{Command: "9lives"},
		{Command: "!!!"},
	})
	require.Equal(t, []kit.BotCommand{
		{Command: "cmd_9lives", Description: "cmd_9lives"},
		{Command: "help", Description: "help"},
		{Command: "timezone", Description: "set zone"},
	}, got)
}
