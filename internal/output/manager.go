package output

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"chimebot/internal/chime"
	"chimebot/internal/runtime/supervisor"
	logx "chimebot/pkg/logx"
)

// DefaultKey selects the output used by chats without their own entry.
const DefaultKey = "default"

// Manager tracks the connected session of every tenant.
type Manager struct {
	log logx.Logger
	sup *supervisor.Supervisor

	mu       sync.Mutex
	specs    map[string]Spec
	sessions map[chime.TenantID]*Session
}

var _ chime.SessionSource = (*Manager)(nil)

func NewManager(parent context.Context, log logx.Logger, specs map[string]Spec) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:      log,
		sup:      supervisor.New(parent, supervisor.WithLogger(log), supervisor.WithCancelOnError(false)),
		sessions: map[chime.TenantID]*Session{},
	}
	m.SetOutputs(specs)
	return m
}

// SetOutputs replaces the output table. Existing sessions keep their spec until reconnected.
func (m *Manager) SetOutputs(specs map[string]Spec) {
	cp := make(map[string]Spec, len(specs))
	for k, v := range specs {
		if v.Name == "" {
			v.Name = k
		}
		cp[k] = v
	}
	m.mu.Lock()
	m.specs = cp
	m.mu.Unlock()
}

func (m *Manager) lookup(tenant chime.TenantID) (Spec, bool) {
	if s, ok := m.specs[strconv.FormatInt(int64(tenant), 10)]; ok {
		return s, true
	}
	s, ok := m.specs[DefaultKey]
	return s, ok
}

// Session implements chime.SessionSource.
func (m *Manager) Session(tenant chime.TenantID) (chime.Session, bool) {
	s, ok := m.Get(tenant)
	if !ok {
		return nil, false
	}
	return s, true
}

// Get returns the concrete session of tenant.
func (m *Manager) Get(tenant chime.TenantID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tenant]
	return s, ok
}

// Connect attaches tenant to its configured output. already is true when the
// tenant was connected before the call.
func (m *Manager) Connect(tenant chime.TenantID) (already bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[tenant]; ok && s.Connected() {
		return true, nil
	}
	spec, ok := m.lookup(tenant)
	if !ok {
		return false, ErrNoOutput
	}
	bin := spec.command()[0]
	if _, err := exec.LookPath(bin); err != nil {
		return false, fmt.Errorf("output %q: player %q: %w", spec.Name, bin, err)
	}

	log := m.log.With(logx.Int64("tenant", int64(tenant)), logx.String("output", spec.Name))
	m.sessions[tenant] = &Session{
		tenant:    tenant,
		spec:      spec,
		log:       log,
		spawn:     func(name string, fn func()) { m.sup.Go0(name, func(context.Context) { fn() }) },
		connected: true,
	}
	log.Info("output connected")
	return false, nil
}

// Disconnect stops playback and detaches tenant.
func (m *Manager) Disconnect(tenant chime.TenantID) error {
	m.mu.Lock()
	s, ok := m.sessions[tenant]
	delete(m.sessions, tenant)
	m.mu.Unlock()
	if !ok || !s.Connected() {
		return ErrNotConnected
	}
	err := s.disconnect()
	s.log.Info("output disconnected", logx.Err(err))
	return err
}

// DisconnectAll detaches every tenant and waits for their players to exit.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	m.mu.Lock()
	all := m.sessions
	m.sessions = map[chime.TenantID]*Session{}
	m.mu.Unlock()

	var errs []error
	for _, s := range all {
		if err := s.disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.sup.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
