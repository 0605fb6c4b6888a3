// Package app wires configuration, storage, the reminder services and the
// Telegram transport into one process.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/reminder/daily"
	"remindbot/internal/reminder/oneshot"
	"remindbot/internal/reminder/session"
	"remindbot/internal/reminder/zones"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

const sessionIdleTimeout = 10 * time.Minute

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  kit.Adapter
	router   *router.Router
	oneshots *oneshot.Scheduler
	daily    *daily.Engine
	bot      *bot.Bot

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	rc, err := config.ResolveReminders(cfg.Reminders)
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// The Telegram sink warns when enabled without a target, so the target is
	// set before the final Apply.
	logCfg := mapLogConfig(cfg)
	enableTelegram := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	setLogTarget(logSvc, cfg)
	logCfg.Telegram.Enabled = enableTelegram
	logSvc.Apply(logCfg)
	ad.SetLogger(log.With(logx.String("comp", "telegram")))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()
	refresh := reminder.BusRefresher{Bus: bus}
	zs := zones.New(store, rc.Location, log.With(logx.String("comp", "zones")))
	msgr := bot.NewMessenger(ad, rc.SnoozeOptions)

	sched := oneshot.New(oneshot.Options{
		Store:       store,
		Messenger:   msgr,
		Refresher:   refresh,
		Log:         log.With(logx.String("comp", "oneshot")),
		Policy:      oneshot.Policy(rc.OnDuplicate),
		SendTimeout: rc.SendTimeout,
	})
	engine := daily.New(daily.Options{
		Store:       store,
		Messenger:   msgr,
		Refresher:   refresh,
		Zones:       zs,
		Log:         log.With(logx.String("comp", "daily")),
		SendTimeout: rc.SendTimeout,
	})
	sessions := session.NewMachine(
		bot.SessionBackend{OneShots: sched, Daily: engine, Zones: zs},
		refresh,
		session.WithIdleTimeout(sessionIdleTimeout),
	)
	b := bot.New(bot.Options{
		Adapter:   ad,
		Store:     store,
		OneShots:  sched,
		Daily:     engine,
		Sessions:  sessions,
		Zones:     zs,
		Messenger: msgr,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "bot")),
		Config:    rc,
	})

	r := router.New(log.With(logx.String("comp", "router")), ad, router.WithWorkers(cfg.Telegram.Workers))
	r.SetAllowed(cfg.Telegram.AllowedUserIDs)

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		router:   r,
		oneshots: sched,
		daily:    engine,
		bot:      b,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	// The list projector subscribes before anything publishes refreshes.
	if err := a.bot.Start(run); err != nil {
		return err
	}
	a.router.SetRegistry(run, a.bot.Registry())

	if err := a.oneshots.Start(run); err != nil {
		return err
	}
	restored, dropped, err := a.oneshots.Restore(run)
	if err != nil {
		return fmt.Errorf("restore reminders: %w", err)
	}
	a.log.Info("reminders restored", logx.Int("restored", restored), logx.Int("dropped", dropped))

	if err := a.daily.Start(run); err != nil {
		return err
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies the live-reloadable sections of next.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram":
			if prev == nil || prev.Telegram.Token != next.Telegram.Token ||
				prev.Telegram.PollTimeout != next.Telegram.PollTimeout ||
				prev.Telegram.Workers != next.Telegram.Workers {
				a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
			}
		}
	}

	setLogTarget(a.logs, next)
	a.logs.Apply(mapLogConfig(next))

	a.router.SetAllowed(next.Telegram.AllowedUserIDs)

	if rc, err := config.ResolveReminders(next.Reminders); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		a.bot.Apply(rc)
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "bot", time.Second, a.bot.Stop)
	a.step(ctx, "daily", time.Second, a.daily.Stop)
	a.step(ctx, "oneshot", 2*time.Second, a.oneshots.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by limit so a stuck component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("limit", limit))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}

// validate is the full config check used at startup, by check-config and
// before a hot reload is committed.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			return fmt.Errorf("telegram.group_log: invalid chat id %q", g)
		}
	}
	return nil
}

// CheckConfig loads and validates the config file at path without starting
// anything.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// setLogTarget points the Telegram log sink at telegram.group_log, or clears it.
func setLogTarget(logs *logx.Service, cfg *config.Config) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		logs.SetTelegramTarget(0, 0)
		return
	}
	logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
}
