package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"birthdaybot/internal/i18n"
	rtsup "birthdaybot/internal/runtime/supervisor"
	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

// Replier is the outbound half of a transport adapter.
type Replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document) (kit.MessageRef, error)
}

// Command binds a command name (without "/") to a handler.
type Command struct {
	Name    string
	Timeout time.Duration // overrides RouterConfig.Timeout when > 0
	Handle  HandlerFunc
}

// Request is one parsed command message.
type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	L       *i18n.Localizer

	out Replier
}

func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.out.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Request) ReplyDocument(ctx context.Context, doc kit.Document) error {
	_, err := r.out.SendDocument(ctx, r.Chat, doc)
	return err
}

type RouterConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	// BotName returns the bot's username; commands addressed to another
	// bot ("/list@other_bot") are ignored. Nil accepts every suffix.
	BotName func() string
}

// Router dispatches command messages to a fixed command table through a
// bounded worker pool.
type Router struct {
	log logx.Logger
	out Replier
	cat *i18n.Catalog
	cfg RouterConfig

	commands map[string]Command
	order    []string

	forceLocale atomic.Bool

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	jobs    chan func()
}

// NewRouter builds the command table. Later entries with the same name
// replace earlier ones.
func NewRouter(cfg RouterConfig, out Replier, cat *i18n.Catalog, log logx.Logger, cmds ...Command) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := &Router{
		log:      log,
		out:      out,
		cat:      cat,
		cfg:      cfg,
		commands: map[string]Command{},
	}
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			log.Warn("command skipped", logx.String("name", c.Name))
			continue
		}
		if _, dup := r.commands[name]; !dup {
			r.order = append(r.order, name)
		}
		c.Name = name
		r.commands[name] = c
	}
	return r
}

// Commands lists the registered names in registration order.
func (r *Router) Commands() []string { return append([]string(nil), r.order...) }

// SetForceLocale makes every reply use the catalog default language.
func (r *Router) SetForceLocale(force bool) { r.forceLocale.Store(force) }

// Supervisor returns the worker supervisor (nil when not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) localizer(msg *kit.Message) *i18n.Localizer {
	if r.forceLocale.Load() || msg == nil {
		return r.cat.For("")
	}
	return r.cat.For(msg.LanguageCode)
}

func (r *Router) tryEnqueue(fn func()) (ok bool) {
	r.runMu.Lock()
	jobs, running := r.jobs, r.running
	r.runMu.Unlock()
	if !running || jobs == nil {
		return false
	}
	// jobs may close between the check and the send.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case jobs <- fn:
		return true
	default:
		return false
	}
}

// Run consumes updates until ctx is done or updates is closed, then drains
// in-flight jobs for up to 3s.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log.With(logx.String("comp", "router.workers"))),
		rtsup.WithCancelOnError(false),
	)
	jobs := make(chan func(), r.cfg.QueueSize)

	r.runMu.Lock()
	r.sup, r.jobs, r.running = sup, jobs, true
	r.runMu.Unlock()

	r.log.Info("command dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("queue", cap(jobs)), logx.Int("commands", len(r.order)))

	for i := 0; i < r.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.runMu.Lock()
		r.running = false
		r.jobs = nil
		r.runMu.Unlock()
		close(jobs)

		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := sup.Wait(wctx); err != nil {
			r.log.Warn("command workers did not drain", logx.Err(err))
		}
		cancel()
		sup.Cancel()

		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.route(ctx, up.Message)
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, msg *kit.Message) {
	botName := ""
	if r.cfg.BotName != nil {
		botName = r.cfg.BotName()
	}
	name, args, ok := parseCommand(msg.Text, botName)
	if !ok {
		return
	}

	cmd, known := r.commands[name]
	if !known {
		// Groups see commands for every bot; only answer direct chats.
		if msg.IsGroup {
			return
		}
		cmd = Command{Name: name, Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, req.L.T(i18n.MsgErrUnknownCommand, nil))
		}}
	}

	req := r.newRequest(msg, cmd.Name, args)
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	final := Chain(
		cmd.Handle,
		MWRequestLog(),
		MWErrorReply(),
		MWPanicRecover(),
		MWTimeout(timeout),
	)

	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		req.Logger.Warn("command queue full")
		bctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = req.Reply(bctx, req.L.T(i18n.MsgErrBusy, nil))
		cancel()
	}
}

func (r *Router) newRequest(msg *kit.Message, cmd string, args []string) *Request {
	rid := uuid.NewString()
	return &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		Command: cmd,
		Args:    args,
		ReqID:   rid,
		L:       r.localizer(msg),
		out:     r.out,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd),
		),
	}
}
