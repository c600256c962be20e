package output

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chimebot/internal/chime"
	logx "chimebot/pkg/logx"
)

const chat chime.TenantID = -100123

var hourRes = chime.Resource{Name: "9.wav", Path: "/srv/chime/9.wav"}

func newTestManager(t *testing.T, specs map[string]Spec) *Manager {
	t.Helper()
	m := NewManager(context.Background(), logx.Nop(), specs)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.DisconnectAll(ctx)
	})
	return m
}

type trackedReader struct {
	io.Reader
	closed chan struct{}
}

func newTracked(s string) *trackedReader {
	return &trackedReader{Reader: strings.NewReader(s), closed: make(chan struct{})}
}

func (r *trackedReader) Close() error {
	close(r.closed)
	return nil
}

func TestExpandPlaceholders(t *testing.T) {
	t.Parallel()
	got := expand([]string{"mpv", "--title={name}", "{path}"}, hourRes)
	require.Equal(t, []string{"mpv", "--title=9.wav", "/srv/chime/9.wav"}, got)
	require.Equal(t, DefaultCommand, Spec{}.command())
}

func TestConnectUsesChatOrDefaultOutput(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, map[string]Spec{
		"-100123": {Command: []string{"sh", "-c", "cat >/dev/null"}},
		DefaultKey: {Name: "speaker", Command: []string{"true"}},
	})

	already, err := m.Connect(chat)
	require.NoError(t, err)
	require.False(t, already)
	s, ok := m.Get(chat)
	require.True(t, ok)
	require.Equal(t, "-100123", s.Output())

	already, err = m.Connect(chat)
	require.NoError(t, err)
	require.True(t, already)

	_, err = m.Connect(42)
	require.NoError(t, err)
	s, _ = m.Get(42)
	require.Equal(t, "speaker", s.Output())
}

func TestConnectErrors(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	_, err := m.Connect(chat)
	require.ErrorIs(t, err, ErrNoOutput)

	m.SetOutputs(map[string]Spec{DefaultKey: {Command: []string{"definitely-not-a-player-binary"}}})
	_, err = m.Connect(chat)
	require.Error(t, err)
	_, ok := m.Session(chat)
	require.False(t, ok)

	require.ErrorIs(t, m.Disconnect(chat), ErrNotConnected)
}

func TestSessionPlaysStreamAndBecomesIdle(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, map[string]Spec{DefaultKey: {Command: []string{"sh", "-c", "cat >/dev/null"}}})
	_, err := m.Connect(chat)
	require.NoError(t, err)
	sess, ok := m.Session(chat)
	require.True(t, ok)

	stream := newTracked("RIFF....WAVE")
	require.NoError(t, sess.Play(hourRes, stream))

	select {
	case <-stream.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream was not closed after playback")
	}
	require.Eventually(t, func() bool { return !sess.Busy() }, 5*time.Second, 5*time.Millisecond)
	s, _ := m.Get(chat)
	require.NoError(t, s.LastError())
}

func TestSessionRejectsOverlappingPlay(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, map[string]Spec{DefaultKey: {Command: []string{"sh", "-c", "cat >/dev/null; exec sleep 10"}}})
	_, err := m.Connect(chat)
	require.NoError(t, err)
	s, _ := m.Get(chat)

	require.NoError(t, s.Play(hourRes, newTracked("a")))
	require.True(t, s.Busy())
	require.Equal(t, "9.wav", s.NowPlaying())

	second := newTracked("b")
	err = s.Play(hourRes, second)
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, err, chime.ErrSessionBusy)

	require.NoError(t, s.Stop())
	require.False(t, s.Busy())
	require.Empty(t, s.NowPlaying())
}

func TestDisconnectStopsPlayback(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, map[string]Spec{DefaultKey: {Command: []string{"sh", "-c", "cat >/dev/null; exec sleep 10"}}})
	_, err := m.Connect(chat)
	require.NoError(t, err)
	s, _ := m.Get(chat)
	require.NoError(t, s.Play(hourRes, newTracked("a")))

	require.NoError(t, m.Disconnect(chat))
	require.False(t, s.Connected())
	require.False(t, s.Busy())
	_, ok := m.Session(chat)
	require.False(t, ok)

	err = s.Play(hourRes, newTracked("b"))
	require.ErrorIs(t, err, chime.ErrSessionUnavailable)
}
