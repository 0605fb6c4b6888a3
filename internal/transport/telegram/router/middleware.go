package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "remindbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowRequest is the duration above which a handled update is logged at info.
const slowRequest = 750 * time.Millisecond

// Chain wraps h so that m[0] runs outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWTimeout bounds the handler context. d <= 0 disables it.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error and logs the stack.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestLogger(log, req).Error("handler panic",
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs the outcome and latency of every routed update.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := requestLogger(log, req)
			fields := []logx.Field{logx.Duration("took", took)}
			if req != nil {
				fields = append(fields, logx.String("kind", string(req.Update.Kind)))
				switch {
				case req.Command != "":
					fields = append(fields, logx.String("cmd", req.Command))
				case req.Callback.Scope != "":
					fields = append(fields, logx.String("cb", req.Callback.Scope+":"+req.Callback.Action))
				}
			}
			switch {
			case err != nil:
				l.Warn("update failed", append(fields, logx.Err(err))...)
			case took >= slowRequest:
				l.Info("update slow", fields...)
			default:
				l.Debug("update handled", fields...)
			}
			return err
		}
	}
}

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}
