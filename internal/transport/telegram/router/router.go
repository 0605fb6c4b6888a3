package router

import (
	"context"
	"hash/fnv"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	// Hidden commands are routed but left out of the Telegram menu.
	Hidden  bool
	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

// CallbackRoute handles callback data whose scope matches Scope.
type CallbackRoute struct {
	Scope   string
	Timeout time.Duration
	Handle  HandlerFunc
}

// Registry is the routing table. Text receives plain (non-command) messages.
// Unknown receives unregistered commands; nil replies with a hint.
type Registry struct {
	Commands  []Command
	Callbacks []CallbackRoute
	Text      HandlerFunc
	Unknown   HandlerFunc
}

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64
	// MessageID is the inbound message, or the message carrying the button.
	MessageID int
	Command   string
	Args      []string
	// Text is the full message text with surrounding space trimmed.
	Text     string
	Callback tgui.Callback
	// Toast is shown to the user after a callback handler returns.
	Toast string
	ReqID string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Router dispatches updates to handlers. Updates of one chat are handled in
// arrival order by the same worker.
type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	workers int
	queue   int
	defTO   time.Duration

	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]CallbackRoute
	text      HandlerFunc
	unknown   HandlerFunc
	allowed   map[int64]struct{}

	dropped atomic.Uint64
}

type Option func(*Router)

// WithWorkers sets the number of chat-affine workers (default: NumCPU, min 2).
func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

// WithQueue sets the per-worker queue capacity (default 64).
func WithQueue(n int) Option { return func(r *Router) { r.queue = n } }

// WithDefaultTimeout bounds handlers without their own timeout (default 30s).
func WithDefaultTimeout(d time.Duration) Option { return func(r *Router) { r.defTO = d } }

func New(log logx.Logger, adapter kit.Adapter, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:       log,
		adapter:   adapter,
		queue:     64,
		defTO:     30 * time.Second,
		commands:  map[string]Command{},
		callbacks: map[string]CallbackRoute{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = max(runtime.NumCPU(), 2)
	}
	if r.queue <= 0 {
		r.queue = 64
	}
	return r
}

// SetAllowed restricts the bot to the given user ids. Empty allows everyone.
// Safe to call during hot-reload.
func (r *Router) SetAllowed(ids []int64) {
	var m map[int64]struct{}
	if len(ids) > 0 {
		m = make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			m[id] = struct{}{}
		}
	}
	r.mu.Lock()
	r.allowed = m
	r.mu.Unlock()
}

func (r *Router) isAllowed(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.allowed) == 0 {
		return true
	}
	_, ok := r.allowed[id]
	return ok
}

// SetRegistry replaces the routing table and refreshes the Telegram command
// menu when the adapter supports it.
func (r *Router) SetRegistry(ctx context.Context, reg Registry) {
	cmds := map[string]Command{}
	var menu []kit.BotCommand
	for _, c := range reg.Commands {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cmds[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				cmds[a] = c
			}
		}
		if !c.Hidden {
			menu = append(menu, kit.BotCommand{Command: name, Description: c.Description})
		}
	}
	cbs := map[string]CallbackRoute{}
	for _, cb := range reg.Callbacks {
		if s := strings.TrimSpace(cb.Scope); s != "" && cb.Handle != nil {
			cbs[s] = cb
		}
	}

	r.mu.Lock()
	r.commands = cmds
	r.callbacks = cbs
	r.text = reg.Text
	r.unknown = reg.Unknown
	r.mu.Unlock()

	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(mctx, buildMenu(menu)); err != nil {
		r.log.Warn("telegram menu update failed", logx.Err(err))
	}
}

type job struct {
	req *Request
	h   HandlerFunc
	cb  string // callback id to answer
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan job, r.workers)
	for i := range shards {
		shards[i] = make(chan job, r.queue)
		q := shards[i]
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case j := <-q:
					r.run(c, idx, j)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}
	r.log.Info("router started", logx.Int("workers", r.workers), logx.Int("queue_cap", r.queue))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("router stopped", logx.Uint64("dropped", r.dropped.Load()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			j, ok := r.route(ctx, up)
			if !ok {
				continue
			}
			q := shards[shardOf(up.ChatID(), len(shards))]
			select {
			case q <- j:
			default:
				r.dropped.Add(1)
				r.reject(ctx, j)
			}
		}
	}
}

func shardOf(chatID int64, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(chatID, 10)))
	return int(h.Sum32() % uint32(n))
}

// Handle routes and runs one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	if j, ok := r.route(ctx, up); ok {
		r.run(ctx, -1, j)
	}
}

func (r *Router) run(ctx context.Context, worker int, j job) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	_ = j.h(ctx, j.req)
	if j.cb != "" {
		if err := r.adapter.AnswerCallback(context.WithoutCancel(ctx), j.cb, j.req.Toast); err != nil {
			j.req.Logger.Debug("answer callback failed", logx.Err(err))
		}
	}
}

func (r *Router) reject(ctx context.Context, j job) {
	if j.cb != "" {
		_ = r.adapter.AnswerCallback(ctx, j.cb, "busy, try again")
		return
	}
	_, _ = r.adapter.SendText(ctx, j.req.Chat, "busy, try again", nil)
}

func (r *Router) route(ctx context.Context, up kit.Update) (job, bool) {
	switch up.Kind {
	case kit.UpdateMessage:
		return r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		return r.routeCallback(ctx, up)
	}
	return job{}, false
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) (job, bool) {
	msg := up.Message
	if msg == nil {
		return job{}, false
	}
	if !r.isAllowed(msg.FromID) {
		r.log.Debug("message from user not in allowed list", logx.Int64("from_id", msg.FromID), logx.Int64("chat_id", msg.ChatID))
		return job{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return job{}, false
	}
	req := r.newRequest(up, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, msg.FromID, msg.ID)
	req.Text = text

	r.mu.RLock()
	commands, textH, unknown := r.commands, r.text, r.unknown
	r.mu.RUnlock()

	if !strings.HasPrefix(text, "/") {
		if textH == nil {
			return job{}, false
		}
		req.Logger = req.Logger.With(logx.String("cmd", "text"))
		return job{req: req, h: r.chain(textH, 0)}, true
	}

	name, args := splitCommand(text)
	req.Command = name
	req.Args = args
	req.Logger = req.Logger.With(logx.String("cmd", name))
	cmd, ok := commands[name]
	if !ok {
		if unknown == nil {
			unknown = r.replyUnknown
		}
		return job{req: req, h: r.chain(unknown, 0)}, true
	}
	return job{req: req, h: r.chain(cmd.Handle, cmd.Timeout)}, true
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) (job, bool) {
	cb := up.Callback
	if cb == nil {
		return job{}, false
	}
	if !r.isAllowed(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return job{}, false
	}
	parsed, ok := tgui.ParseData(strings.TrimSpace(cb.Data))
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return job{}, false
	}
	r.mu.RLock()
	route, ok := r.callbacks[parsed.Scope]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return job{}, false
	}
	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, cb.MessageID)
	req.Command = "cb:" + parsed.Scope + ":" + parsed.Action
	req.Callback = parsed
	req.Logger = req.Logger.With(logx.String("cmd", req.Command))
	return job{req: req, h: r.chain(route.Handle, route.Timeout), cb: cb.ID}, true
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, msgID int) *Request {
	rid := newReqID()
	return &Request{
		Update:    up,
		Chat:      chat,
		FromID:    from,
		MessageID: msgID,
		ReqID:     rid,
		Adapter:   r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
		),
	}
}

func (r *Router) chain(h HandlerFunc, timeout time.Duration) HandlerFunc {
	if timeout <= 0 {
		timeout = r.defTO
	}
	return Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
}

func (r *Router) replyUnknown(ctx context.Context, req *Request) error {
	_, err := r.adapter.SendText(ctx, req.Chat, "Unknown command. Try /help", nil)
	return err
}

// splitCommand returns the lowercased command without "/" or "@bot" and its
// space-separated arguments.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}
