// Package adapter connects the transport port to the Telegram Bot API
// through telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	defaultSendRate    = 25
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SendRate caps outbound API calls per second; 0 means 25.
	SendRate int
}

// Adapter implements kit.Adapter and kit.CommandMenuUpdater on telebot.
type Adapter struct {
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter

	sink    atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	mu  sync.Mutex
	sup *rtsup.Supervisor

	menuMu  sync.Mutex
	menuSum uint64
}

// New checks the token with getMe and registers the update handlers.
// Nothing is polled until Start.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = defaultSendRate
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendRate),
	}
	b.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.forward(up)
		}
		return nil
	})
	b.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := callbackUpdate(c.Callback()); ok {
			a.forward(up)
		}
		return nil
	})
	return a, nil
}

// SetLogger replaces the bootstrap logger. Call it before Start.
func (a *Adapter) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		a.log = log
	}
}

// forward hands up to the consumer without blocking the poller.
func (a *Adapter) forward(up kit.Update) {
	out := a.sink.Load()
	if out == nil {
		return
	}
	select {
	case *out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling; updates go to out. A second Start is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.sink.Store(&out)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))
	a.sup = sup

	sup.Go0("updates.dropped", func(ctx context.Context) {
		tick := time.NewTicker(dropReportEvery)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				a.reportDropped(cap(out))
				return
			case <-tick.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop", func(ctx context.Context) {
		<-ctx.Done()
		a.bot.Stop()
	})
	// bot.Start returns when telebot gives up on the poller; run it again.
	sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("updates dropped, consumer too slow", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling. It waits at most stopGrace (or ctx) for the poller,
// which may be parked in a getUpdates call.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.sink.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping")
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	err := sup.Stop(wctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("telegram stop timed out", logx.Err(err))
	case err != nil:
		a.log.Debug("telegram poller reported", logx.Err(err))
	}
	return nil
}
