package chime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chimebot/internal/eventbus"
	"chimebot/internal/runtime/supervisor"
	logx "chimebot/pkg/logx"
)

var ErrRegistryClosed = errors.New("chime registry closed")

const notifyTimeout = 10 * time.Second

// Registry owns the chime tasks of every tenant: at most one recurring task
// and at most one pending one-shot per tenant. All mutations go through mu,
// so two calls for the same tenant can never both create a live task.
type Registry struct {
	sessions SessionSource
	resolver atomic.Pointer[Resolver]
	seq      atomic.Pointer[Sequencer]

	clock Clock
	loc   *time.Location
	log   logx.Logger
	bus   eventbus.Bus
	sup   *supervisor.Supervisor

	mu        sync.Mutex
	closed    bool
	recurring map[TenantID]*task
	oneShots  map[TenantID]*task
	// playing marks tenants with a cycle in progress; the first task to claim wins.
	playing map[TenantID]bool
}

type task struct {
	id        string
	tenant    TenantID
	kind      TaskKind
	immediate bool
	notifier  Notifier
	cancel    context.CancelFunc
	done      chan struct{}
}

func (t *task) alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

type Option func(*Registry)

func WithClock(c Clock) Option { return func(r *Registry) { r.clock = c } }

// WithLocation sets the zone whose wall-clock hours are chimed. Default is time.Local.
func WithLocation(loc *time.Location) Option { return func(r *Registry) { r.loc = loc } }

func WithLogger(log logx.Logger) Option { return func(r *Registry) { r.log = log } }

// WithBus publishes a Record for every completed attempt.
func WithBus(bus eventbus.Bus) Option { return func(r *Registry) { r.bus = bus } }

func WithSequencer(seq *Sequencer) Option { return func(r *Registry) { r.seq.Store(seq) } }

// NewRegistry creates a registry whose tasks live until Shutdown or until parent is cancelled.
func NewRegistry(parent context.Context, sessions SessionSource, resolver *Resolver, opts ...Option) *Registry {
	r := &Registry{
		sessions:  sessions,
		clock:     SystemClock{},
		loc:       time.Local,
		log:       logx.Nop(),
		recurring: map[TenantID]*task{},
		oneShots:  map[TenantID]*task{},
		playing:   map[TenantID]bool{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if r.seq.Load() == nil {
		r.seq.Store(NewSequencer(r.log, DefaultPollInterval))
	}
	r.resolver.Store(resolver)
	r.sup = supervisor.New(parent, supervisor.WithLogger(r.log), supervisor.WithCancelOnError(false))
	return r
}

// SetResolver swaps the resolver used by future cycles (config reload).
func (r *Registry) SetResolver(res *Resolver) { r.resolver.Store(res) }

func (r *Registry) Resolver() *Resolver { return r.resolver.Load() }

// SetPollInterval changes how often busy sessions are polled by future sequences.
func (r *Registry) SetPollInterval(d time.Duration) {
	r.seq.Store(NewSequencer(r.log, d))
}

func (r *Registry) Location() *time.Location { return r.loc }

// EnsureRecurring starts the tenant's recurring task unless a live one exists.
// It reports whether a new task was started.
func (r *Registry) EnsureRecurring(tenant TenantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if cur := r.recurring[tenant]; cur != nil && cur.alive() {
		return false
	}
	t := r.newTask(tenant, KindRecurring)
	r.recurring[tenant] = t
	r.launch(t, r.runRecurring)
	r.log.Info("recurring chime scheduled", logx.Int64("tenant", int64(tenant)), logx.String("run", t.id))
	return true
}

// CancelRecurring stops the tenant's recurring task. It reports whether one existed.
func (r *Registry) CancelRecurring(tenant TenantID) bool {
	r.mu.Lock()
	t := r.recurring[tenant]
	delete(r.recurring, tenant)
	r.mu.Unlock()
	if t == nil {
		return false
	}
	t.cancel()
	r.log.Info("recurring chime cancelled", logx.Int64("tenant", int64(tenant)), logx.String("run", t.id))
	return true
}

// ScheduleOneShot replaces any pending one-shot of tenant with a new one that
// fires at the next boundary, or right away when immediate is set. n may be nil.
func (r *Registry) ScheduleOneShot(tenant TenantID, n Notifier, immediate bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRegistryClosed
	}
	if old := r.oneShots[tenant]; old != nil {
		old.cancel()
		r.log.Debug("pending one-shot replaced", logx.Int64("tenant", int64(tenant)), logx.String("run", old.id))
	}
	t := r.newTask(tenant, KindOneShot)
	t.immediate = immediate
	t.notifier = n
	r.oneShots[tenant] = t
	r.launch(t, r.runOneShot)
	return t.id, nil
}

// CancelOneShot cancels the pending one-shot of tenant. It reports whether one existed.
func (r *Registry) CancelOneShot(tenant TenantID) bool {
	r.mu.Lock()
	t := r.oneShots[tenant]
	delete(r.oneShots, tenant)
	r.mu.Unlock()
	if t == nil {
		return false
	}
	t.cancel()
	return true
}

// Status reports which tasks a tenant has and when the next boundary is.
func (r *Registry) Status(tenant TenantID) TenantStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := TenantStatus{NextBoundary: NextBoundary(r.clock.Now().In(r.loc))}
	if t := r.recurring[tenant]; t != nil && t.alive() {
		st.Recurring = true
		st.RecurringRunID = t.id
	}
	if t := r.oneShots[tenant]; t != nil && t.alive() {
		st.OneShot = true
		st.OneShotImmediate = t.immediate
	}
	return st
}

// Tenants returns the tenants with a recurring task.
func (r *Registry) Tenants() []TenantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TenantID, 0, len(r.recurring))
	for id := range r.recurring {
		out = append(out, id)
	}
	return out
}

// Shutdown cancels every task and waits for them to exit (bounded by ctx).
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	n := len(r.recurring) + len(r.oneShots)
	r.recurring = map[TenantID]*task{}
	r.oneShots = map[TenantID]*task{}
	r.mu.Unlock()

	r.log.Info("stopping chime tasks", logx.Int("tasks", n))
	return r.sup.Stop(ctx)
}

func (r *Registry) newTask(tenant TenantID, kind TaskKind) *task {
	return &task{
		id:     uuid.NewString(),
		tenant: tenant,
		kind:   kind,
		done:   make(chan struct{}),
	}
}

// launch must be called with mu held so t.cancel is set before anyone can see t.
func (r *Registry) launch(t *task, run func(context.Context, *task)) {
	ctx, cancel := context.WithCancel(r.sup.Context())
	t.cancel = cancel
	r.sup.Go0(fmt.Sprintf("chime.%s.%d", t.kind, t.tenant), func(context.Context) {
		defer cancel()
		run(ctx, t)
	})
}

// forget deregisters t if it is still the registered task of its kind for its tenant.
func (r *Registry) forget(t *task) {
	r.mu.Lock()
	m := r.recurring
	if t.kind == KindOneShot {
		m = r.oneShots
	}
	if cur := m[t.tenant]; cur == t {
		delete(m, t.tenant)
	}
	r.mu.Unlock()
}

// sleepUntil blocks until the clock reaches at. It returns false if ctx is cancelled first.
// Early timer wake-ups (clock adjustments) sleep again for the remainder.
func (r *Registry) sleepUntil(ctx context.Context, at time.Time) bool {
	for {
		d := at.Sub(r.clock.Now())
		if d <= 0 {
			return ctx.Err() == nil
		}
		t := r.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C():
		}
	}
}

// fire checks the session and plays the sequence for the current hour.
// ok is false when ctx was cancelled before anything played.
func (r *Registry) fire(ctx context.Context, tenant TenantID, log logx.Logger) (out Outcome, ok bool) {
	now := r.clock.Now().In(r.loc)
	out = Outcome{Hour: now.Hour(), At: now}
	defer func() {
		if p := recover(); p != nil {
			log.Error("chime cycle panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			out.Kind, out.Err, ok = OutcomeSkippedPlaybackError, fmt.Errorf("panic: %v", p), true
		}
	}()

	sess, found := r.sessions.Session(tenant)
	if !found || sess == nil || !sess.Connected() {
		out.Kind, out.Err = OutcomeSkippedNotConnected, ErrSessionUnavailable
		return out, true
	}
	if !r.claim(tenant) {
		out.Kind, out.Err = OutcomeSkippedPlaybackError, ErrSessionBusy
		return out, true
	}
	defer r.release(tenant)
	if sess.Busy() {
		out.Kind, out.Err = OutcomeSkippedPlaybackError, ErrSessionBusy
		return out, true
	}

	res := r.Resolver()
	played, err := r.seq.Load().PlaySequence(ctx, sess, res, res.Sequence(out.Hour))
	out.Err = err
	switch {
	case played:
		out.Kind = OutcomePlayed
	case ctx.Err() != nil:
		return out, false
	case errors.Is(err, ErrSessionUnavailable):
		out.Kind = OutcomeSkippedNotConnected
	case errors.Is(err, ErrPlaybackInit), errors.Is(err, ErrPlaybackStart), errors.Is(err, ErrSessionBusy):
		out.Kind = OutcomeSkippedPlaybackError
	default:
		out.Kind = OutcomeSkippedMissingResource
	}
	return out, true
}

func (r *Registry) claim(tenant TenantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playing[tenant] {
		return false
	}
	r.playing[tenant] = true
	return true
}

func (r *Registry) release(tenant TenantID) {
	r.mu.Lock()
	delete(r.playing, tenant)
	r.mu.Unlock()
}

// record logs an attempt and publishes it on the bus.
func (r *Registry) record(t *task, out Outcome, log logx.Logger) {
	fields := []logx.Field{logx.String("outcome", out.Kind.String()), logx.Int("hour", out.Hour), logx.Err(out.Err)}
	switch {
	case out.Played():
		log.Info("chime played", fields...)
	case out.Kind == OutcomeSkippedNotConnected, errors.Is(out.Err, ErrSessionBusy):
		log.Debug("chime skipped", fields...)
	default:
		log.Warn("chime skipped", fields...)
	}

	if r.bus == nil {
		return
	}
	typ := EventSkipped
	if out.Played() {
		typ = EventFired
	}
	r.bus.Publish(eventbus.Event{
		Type: typ,
		Time: out.At,
		Data: Record{RunID: t.id, Tenant: t.tenant, Kind: t.kind, Outcome: out},
	})
}
