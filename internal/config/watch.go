package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "remindbot/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config after the file changes, until ctx ends.
// The parent directory is watched so editors that replace the file by
// rename are noticed. A failed watcher is rebuilt with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	retry := watchRetryMin

	for {
		err := m.watchOnce(ctx, dir, name)
		if ctx.Err() != nil {
			return nil
		}
		m.logger().Warn("config watcher failed; retrying",
			logx.String("dir", dir), logx.Duration("in", retry), logx.Err(err))

		wait := retry + rand.N(retry/2+1)
		retry = min(2*retry, watchRetryMax)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

var errWatcherClosed = errors.New("watcher closed")

// watchOnce runs one fsnotify watcher until ctx ends or the watcher breaks.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.logger().Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	var (
		pending *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	arm := func() {
		if pending == nil {
			pending = time.NewTimer(reloadDebounce)
		} else {
			pending.Reset(reloadDebounce)
		}
		fire = pending.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fire:
			fire = nil
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) == name && ev.Op&watchedOps != 0 {
				arm()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.logger().Warn("config watch overflow; reloading", logx.Err(err))
				arm()
				continue
			}
			return err
		}
	}
}
