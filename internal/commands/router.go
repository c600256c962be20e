package commands

import (
	"context"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"chimebot/internal/runtime/supervisor"
	"chimebot/internal/transport"
	logx "chimebot/pkg/logx"
	"chimebot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Message *transport.Message
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Sender  transport.Sender
}

// Reply sends plain text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML is Reply with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true, ParseMode: tgui.ParseMode})
	return err
}

const (
	jobQueue       = 256
	limiterIdleTTL = 10 * time.Minute
)

// Router parses incoming messages into commands and runs them on a bounded
// worker pool, enforcing owner-only access and a per-chat rate limit.
type Router struct {
	log    logx.Logger
	sender transport.Sender

	mu     sync.RWMutex
	byName map[string]*Command
	cmds   []Command
	owners []int64

	rateMu    sync.Mutex
	perMinute int
	limiters  map[int64]*chatLimiter

	jobs    chan func()
	workers int
}

type chatLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewRouter(log logx.Logger, sender transport.Sender) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:      log,
		sender:   sender,
		byName:   map[string]*Command{},
		limiters: map[int64]*chatLimiter{},
		jobs:     make(chan func(), jobQueue),
		workers:  max(2, runtime.NumCPU()),
	}
}

// SetOwners replaces the owner list used for AccessOwnerOnly. Empty means everyone.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetRate limits each chat to perMinute commands; 0 disables the limit.
func (r *Router) SetRate(perMinute int) {
	r.rateMu.Lock()
	r.perMinute = perMinute
	r.limiters = map[int64]*chatLimiter{}
	r.rateMu.Unlock()
}

// Register installs cmds plus a generated /help, replacing earlier registrations.
func (r *Router) Register(cmds ...Command) {
	all := append([]Command(nil), cmds...)
	all = append(all, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "コマンド一覧を表示します",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, r.helpText())
		},
	})
	sort.SliceStable(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	byName := make(map[string]*Command, len(all)*2)
	for i := range all {
		c := &all[i]
		if c.Name == "" || c.Handle == nil {
			continue
		}
		byName[c.Name] = c
		for _, a := range c.Aliases {
			if _, taken := byName[a]; !taken {
				byName[a] = c
			}
		}
	}

	r.mu.Lock()
	r.byName = byName
	r.cmds = all
	r.mu.Unlock()
}

// MenuCommands returns the registered commands for a client-side menu.
func (r *Router) MenuCommands() []transport.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// ParseCommand splits "/name@bot arg..." into name and args. ok is false for non-commands.
func ParseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	for i := 0; i < r.workers; i++ {
		sup.GoRestart("commands.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
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
			if up.Kind == transport.UpdateMessage && up.Message != nil {
				r.route(ctx, up.Message)
			}
		}
	}
}

func (r *Router) route(ctx context.Context, msg *transport.Message) {
	name, args, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	reply := func(text string) { _, _ = r.sender.SendText(ctx, chat, text, nil) }

	r.mu.RLock()
	cmd, found := r.byName[name]
	owners := r.owners
	r.mu.RUnlock()
	if !found {
		// Groups often carry commands meant for other bots.
		if !msg.IsGroup {
			reply(msgUnknownCommand)
		}
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		reply(msgForbidden)
		return
	}
	if !r.allow(msg.ChatID) {
		r.log.Debug("command rate limited", logx.Int64("chat_id", msg.ChatID), logx.String("cmd", cmd.Name))
		reply(msgRateLimited)
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Sender:  r.sender,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(cmd.Timeout))

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		reply(msgBusy)
	}
}

func (r *Router) allow(chatID int64) bool {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()
	if r.perMinute <= 0 {
		return true
	}
	now := time.Now()
	cl, ok := r.limiters[chatID]
	if !ok {
		for id, l := range r.limiters {
			if now.Sub(l.seen) > limiterIdleTTL {
				delete(r.limiters, id)
			}
		}
		cl = &chatLimiter{lim: rate.NewLimiter(rate.Limit(float64(r.perMinute)/60), min(r.perMinute, 5))}
		r.limiters[chatID] = cl
	}
	cl.seen = now
	return cl.lim.AllowN(now, 1)
}

func isOwner(id int64, owners []int64) bool {
	if len(owners) == 0 {
		return true
	}
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
