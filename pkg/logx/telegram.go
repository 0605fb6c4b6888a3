package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"remindbot/pkg/tgui"
)

const (
	tgQueueSize   = 256
	tgSendTimeout = 10 * time.Second
	tgMaxRunes    = 3500
	tgMaxValue    = 600
	tgMaxStack    = 900
)

// Keys rendered first, in this order; the rest follow sorted.
var tgPriorityKeys = []string{"comp", "chat_id", "reminder_id", "daily_id", "text", "err"}

var tgSkipKeys = map[string]bool{"time": true, "level": true, "message": true, "caller": true, "stack": true}

type tgLine struct {
	chatID   int64
	threadID int
	text     string
}

// telegramSink is a zerolog writer that forwards events at or above a
// level to a chat. Writes never block: when the queue is full or the
// limiter refuses, the line is dropped.
type telegramSink struct {
	sender Sender
	queue  chan tgLine

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan tgLine, tgQueueSize),
		minLevel: zerolog.WarnLevel,
	}
}

func (t *telegramSink) target(chatID int64, threadID int) {
	t.mu.Lock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) hasTarget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID != 0
}

func (t *telegramSink) configure(minLevel zerolog.Level, lim *rate.Limiter, threadID int) {
	t.mu.Lock()
	t.minLevel = minLevel
	t.limiter = lim
	if threadID != 0 {
		t.threadID = threadID
	}
	t.mu.Unlock()

	t.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.mu.Lock()
		t.cancel = cancel
		t.done = make(chan struct{})
		t.mu.Unlock()
		go t.run(ctx)
	})
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-t.queue:
			if t.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, tgSendTimeout)
			_ = t.sender.SendLog(sctx, ln.chatID, ln.threadID, ln.text)
			cancel()
		}
	}
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID, threadID, minLevel, lim := t.chatID, t.threadID, t.minLevel, t.limiter
	t.mu.Unlock()

	if chatID == 0 || t.sender == nil || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := formatTelegramLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- tgLine{chatID: chatID, threadID: threadID, text: text}:
	default:
	}
	return len(p), nil
}

// formatTelegramLine renders one zerolog JSON line as Telegram HTML.
func formatTelegramLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	if raw == "" {
		return ""
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return tgui.Esc(tgui.TruncRunes(raw, tgMaxRunes)).String()
	}

	var b strings.Builder
	if lvl, _ := ev["level"].(string); lvl != "" {
		b.WriteString(tgui.B("[" + strings.ToUpper(lvl) + "]").String())
		b.WriteByte(' ')
	}
	msg, _ := ev["message"].(string)
	b.WriteString(tgui.Esc(msg).String())

	for _, k := range fieldOrder(ev) {
		b.WriteString("\n• ")
		b.WriteString(tgui.Esc(k).String())
		b.WriteString(": ")
		b.WriteString(tgui.Code(tgui.TruncRunes(fmt.Sprint(ev[k]), tgMaxValue)).String())
	}
	if st, ok := ev["stack"]; ok {
		b.WriteString("\n<pre>")
		b.WriteString(tgui.Esc(tgui.TruncRunes(fmt.Sprint(st), tgMaxStack)).String())
		b.WriteString("</pre>")
	}

	out := b.String()
	if len([]rune(out)) > tgMaxRunes {
		// Oversized: send the raw line escaped instead.
		return tgui.Esc(tgui.TruncRunes(raw, tgMaxRunes)).String()
	}
	return out
}

func fieldOrder(ev map[string]any) []string {
	seen := make(map[string]bool, len(tgPriorityKeys))
	keys := make([]string, 0, len(ev))
	for _, k := range tgPriorityKeys {
		if _, ok := ev[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range ev {
		if !seen[k] && !tgSkipKeys[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
