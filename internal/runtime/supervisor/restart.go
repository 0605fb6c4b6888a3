package supervisor

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	logx "remindbot/pkg/logx"
)

// A run that lasted this long resets the backoff.
const healthyRun = 30 * time.Second

var errCleanExit = errors.New("exited")

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minWait     time.Duration
	maxWait     time.Duration
	publish     bool
	stopOnClean bool
}

// WithRestartBackoff bounds the wait between restarts. Zero keeps the default.
func WithRestartBackoff(lo, hi time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if lo > 0 {
			p.minWait = lo
		}
		if hi > 0 {
			p.maxWait = hi
		}
	}
}

// WithPublishFirstError records the first failure as the supervisor error.
// It does not stop the restarts.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publish = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or counts as a failure and restarts.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnClean = enabled }
}

// GoRestart keeps fn running until the context ends, waiting with
// jittered exponential backoff after each failure or panic.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{minWait: 250 * time.Millisecond, maxWait: 30 * time.Second, stopOnClean: true}
	for _, opt := range opts {
		opt(&p)
	}
	p.maxWait = max(p.maxWait, p.minWait)

	log := s.log.With(logx.String("name", name))
	s.launch(name, s.ctx, func(ctx context.Context) error {
		wait := p.minWait
		for {
			began := time.Now()
			err := s.call(log, name, ctx, fn)
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				if p.stopOnClean {
					return nil
				}
				err = errCleanExit
			}
			if p.publish {
				s.fail(err)
			}
			if time.Since(began) >= healthyRun {
				wait = p.minWait
			}

			sleep := wait + rand.N(wait/5+1)
			log.Warn("goroutine restarting", logx.Duration("backoff", sleep), logx.Err(err))
			t := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			wait = min(2*wait, p.maxWait)
		}
	}, s.fail)
}

func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts...)
}
