package chime

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// ---- clock ----

type fakeClock struct {
	mu     sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	created int
}

type fakeTimer struct {
	clk *fakeClock
	at  time.Time
	ch  chan time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
	t := &fakeTimer{clk: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.ch <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.ch <- c.now
			continue
		}
		kept = append(kept, t)
	}
	c.timers = kept
}

// AdvanceTo moves the clock to at.
func (c *fakeClock) AdvanceTo(at time.Time) { c.Advance(at.Sub(c.Now())) }

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// waitTimers blocks until n timers are armed, i.e. n tasks are sleeping.
func (c *fakeClock) waitTimers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.pending() == n }, 2*time.Second, time.Millisecond,
		"expected %d sleeping timers", n)
}

// waitCreated blocks until created timers were ever made and pending are armed.
func (c *fakeClock) waitCreated(t *testing.T, created, pending int) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.created == created && len(c.timers) == pending
	}, 2*time.Second, time.Millisecond, "expected %d timers created, %d armed", created, pending)
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	c := t.clk
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.timers {
		if o == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// ---- session ----

type playRecord struct {
	Name  string
	Start time.Time
	End   time.Time
}

// fakeSession plays each stream for playFor of real time.
type fakeSession struct {
	mu        sync.Mutex
	connected bool
	stuckBusy bool
	playFor   time.Duration
	busyUntil time.Time
	failPlay  map[string]error
	plays     []playRecord
	overlaps  int
	stops     int
	// disconnectAfter drops the connection once this many items started.
	disconnectAfter int
}

func newFakeSession() *fakeSession {
	return &fakeSession{connected: true, playFor: 3 * time.Millisecond, failPlay: map[string]error{}}
}

func (s *fakeSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked()
}

func (s *fakeSession) busyLocked() bool {
	return s.stuckBusy || time.Now().Before(s.busyUntil)
}

func (s *fakeSession) Play(res Resource, stream io.ReadCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failPlay[res.Name]; err != nil {
		return err
	}
	if s.busyLocked() {
		s.overlaps++
		return ErrSessionBusy
	}
	_, _ = io.Copy(io.Discard, stream)
	_ = stream.Close()
	now := time.Now()
	s.busyUntil = now.Add(s.playFor)
	s.plays = append(s.plays, playRecord{Name: res.Name, Start: now, End: s.busyUntil})
	if s.disconnectAfter > 0 && len(s.plays) >= s.disconnectAfter {
		s.connected = false
	}
	return nil
}

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.busyUntil = time.Time{}
	return nil
}

func (s *fakeSession) set(fn func(s *fakeSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeSession) played() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.plays))
	for _, p := range s.plays {
		out = append(out, p.Name)
	}
	return out
}

func (s *fakeSession) records() []playRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playRecord(nil), s.plays...)
}

// ---- files ----

const audioRoot = "/audio"

func newAudioFS(t *testing.T, names ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(audioRoot, 0o755))
	for _, n := range names {
		require.NoError(t, afero.WriteFile(fs, audioRoot+"/"+n, []byte("RIFF"+n), 0o644))
	}
	return fs
}

// brokenSource reports every resource as present but fails to open the listed ones.
type brokenSource struct {
	*Resolver
	failOpen map[string]bool
}

func (b brokenSource) Open(res Resource) (io.ReadCloser, error) {
	if b.failOpen[res.Name] {
		return nil, errors.New("decoder not installed")
	}
	return b.Resolver.Open(res)
}

func (s *fakeSession) overlapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlaps
}

func (s *fakeSession) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
