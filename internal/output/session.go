package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"chimebot/internal/chime"
	logx "chimebot/pkg/logx"
)

var (
	ErrBusy         = fmt.Errorf("output: %w", chime.ErrSessionBusy)
	ErrNotConnected = fmt.Errorf("output: %w", chime.ErrSessionUnavailable)
	ErrNoOutput     = errors.New("output: no output configured")
)

// DefaultCommand reads the stream from stdin and exits when it ends.
var DefaultCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0"}

const stopWait = 5 * time.Second

// Spec describes one output: the player command that renders a stream.
// "{path}" and "{name}" in Command are replaced with the resource being played.
type Spec struct {
	Name    string
	Command []string
}

func (s Spec) command() []string {
	if len(s.Command) == 0 {
		return DefaultCommand
	}
	return s.Command
}

func expand(argv []string, res chime.Resource) []string {
	out := make([]string, len(argv))
	r := strings.NewReplacer("{path}", res.Path, "{name}", res.Name)
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// Session is the connection of one tenant to its output. At most one player
// process runs at a time.
type Session struct {
	tenant chime.TenantID
	spec   Spec
	log    logx.Logger
	spawn  func(name string, fn func())

	mu        sync.Mutex
	connected bool
	cmd       *exec.Cmd
	playing   string
	done      chan struct{}
	lastErr   error
}

var _ chime.Session = (*Session)(nil)

func (s *Session) Tenant() chime.TenantID { return s.tenant }

func (s *Session) Output() string { return s.spec.Name }

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// NowPlaying returns the resource name being played, or "".
func (s *Session) NowPlaying() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// LastError returns the exit error of the most recent player process.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Play starts the player with stream on stdin. On success the session closes
// stream once the player exits.
func (s *Session) Play(res chime.Resource, stream io.ReadCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.cmd != nil {
		return ErrBusy
	}

	argv := expand(s.spec.command(), res)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stream
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}
	done := make(chan struct{})
	s.cmd, s.playing, s.done = cmd, res.Name, done

	s.spawn(fmt.Sprintf("output.player.%d", s.tenant), func() {
		err := cmd.Wait()
		_ = stream.Close()

		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd, s.playing = nil, ""
		}
		s.lastErr = err
		s.mu.Unlock()
		close(done)

		if err != nil {
			s.log.Warn("player exited with error", logx.String("name", res.Name), logx.Err(err))
			return
		}
		s.log.Debug("player finished", logx.String("name", res.Name))
	})
	return nil
}

// Stop kills the running player, if any, and waits briefly for it to exit.
func (s *Session) Stop() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill player: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(stopWait):
		return fmt.Errorf("player for %d did not exit within %s", s.tenant, stopWait)
	}
}

func (s *Session) disconnect() error {
	err := s.Stop()
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return err
}
