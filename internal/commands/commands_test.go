package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"chimebot/internal/chime"
	"chimebot/internal/output"
	"chimebot/internal/storage"
	"chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

type sent struct {
	chat transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (s *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, sent{chat: to, text: text, opt: opt})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(s.msgs)}, nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.text)
	}
	return out
}

func (s *fakeSender) last(t *testing.T) sent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.msgs)
	return s.msgs[len(s.msgs)-1]
}

type oneShotCall struct {
	tenant    chime.TenantID
	immediate bool
	notifier  chime.Notifier
}

type fakeScheduler struct {
	mu        sync.Mutex
	recurring map[chime.TenantID]bool
	ensured   int
	cancelled int
	oneShots  []oneShotCall
	err       error
	resolver  *chime.Resolver
	next      time.Time
}

func newFakeScheduler(res *chime.Resolver) *fakeScheduler {
	return &fakeScheduler{
		recurring: map[chime.TenantID]bool{},
		resolver:  res,
		next:      time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC),
	}
}

func (f *fakeScheduler) EnsureRecurring(t chime.TenantID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured++
	if f.recurring[t] {
		return false
	}
	f.recurring[t] = true
	return true
}

func (f *fakeScheduler) CancelRecurring(t chime.TenantID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	had := f.recurring[t]
	delete(f.recurring, t)
	return had
}

func (f *fakeScheduler) ScheduleOneShot(t chime.TenantID, n chime.Notifier, immediate bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.oneShots = append(f.oneShots, oneShotCall{tenant: t, immediate: immediate, notifier: n})
	return fmt.Sprintf("run-%d", len(f.oneShots)), nil
}

func (f *fakeScheduler) Status(t chime.TenantID) chime.TenantStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return chime.TenantStatus{Recurring: f.recurring[t], NextBoundary: f.next}
}

func (f *fakeScheduler) Resolver() *chime.Resolver { return f.resolver }
func (f *fakeScheduler) Location() *time.Location  { return time.UTC }

type fakeHistory struct {
	entries []storage.ChimeEntry
	limit   int
	err     error
}

func (h *fakeHistory) RecentChimes(_ context.Context, _ int64, limit int) ([]storage.ChimeEntry, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	return h.entries[:min(limit, len(h.entries))], nil
}

const chatID = int64(-100500)

type harness struct {
	sender  *fakeSender
	sched   *fakeScheduler
	outputs *output.Manager
	history *fakeHistory
	cmds    map[string]Command
}

func newHarness(t *testing.T, audioDirExists bool) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	if audioDirExists {
		require.NoError(t, fs.MkdirAll("/audio", 0o755))
	}
	ctx, cancel := context.WithCancel(context.Background())
	outs := output.NewManager(ctx, logx.Nop(), map[string]output.Spec{
		output.DefaultKey: {Name: "lounge", Command: []string{"sh", "-c", "cat >/dev/null"}},
	})
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = outs.DisconnectAll(sctx)
		cancel()
	})

	h := &harness{
		sender:  &fakeSender{},
		sched:   newFakeScheduler(chime.NewResolver(fs, "/audio", "")),
		outputs: outs,
		history: &fakeHistory{},
		cmds:    map[string]Command{},
	}
	for _, c := range Builtin(Deps{Scheduler: h.sched, Outputs: outs, History: h.history, Notifier: NotifierFor}) {
		h.cmds[c.Name] = c
	}
	return h
}

func (h *harness) run(t *testing.T, name string, args ...string) error {
	t.Helper()
	c, ok := h.cmds[name]
	require.True(t, ok, "command %s", name)
	req := &Request{
		Chat:    transport.ChatTarget{ChatID: chatID},
		FromID:  42,
		Command: name,
		Args:    args,
		Logger:  logx.Nop(),
		Sender:  h.sender,
	}
	return c.Handle(context.Background(), req)
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{in: "/start", name: "start", args: []string{}, ok: true},
		{in: "  /Chime@jihou_bot now ", name: "chime", args: []string{"now"}, ok: true},
		{in: "/history 5 extra", name: "history", args: []string{"5", "extra"}, ok: true},
		{in: "hello /start", ok: false},
		{in: "/", ok: false},
		{in: "/@bot", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		name, args, ok := ParseCommand(tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
		if !tt.ok {
			continue
		}
		require.Equal(t, tt.name, name, tt.in)
		require.Equal(t, tt.args, args, tt.in)
	}
}

func TestStartConnectsAndEnsuresRecurring(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	require.NoError(t, h.run(t, "start"))
	require.Equal(t, "lounge に接続しました。毎正時に時報を流します。", h.sender.last(t).text)
	require.True(t, h.sched.Status(chime.TenantID(chatID)).Recurring)

	require.NoError(t, h.run(t, "start"))
	require.Contains(t, h.sender.last(t).text, "すでに lounge に接続しています")
	require.Equal(t, 2, h.sched.ensured)
}

func TestStartWarnsAboutMissingAudioDir(t *testing.T) {
	t.Parallel()
	h := newHarness(t, false)
	require.NoError(t, h.run(t, "start"))
	require.Contains(t, h.sender.last(t).text, "注意: 音声フォルダーが見つかりませんでした: /audio")
}

func TestStartReportsConnectError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	h.outputs.SetOutputs(nil)
	require.ErrorIs(t, h.run(t, "start"), output.ErrNoOutput)
	require.Contains(t, h.sender.last(t).text, "出力への接続中にエラーが発生しました")
	require.False(t, h.sched.Status(chime.TenantID(chatID)).Recurring)
}

func TestStopAlwaysCancelsRecurring(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	// Not connected, but a stale recurring task exists.
	h.sched.EnsureRecurring(chime.TenantID(chatID))
	require.NoError(t, h.run(t, "stop"))
	require.Equal(t, "現在どの出力にも接続していません。", h.sender.last(t).text)
	require.False(t, h.sched.Status(chime.TenantID(chatID)).Recurring)

	require.NoError(t, h.run(t, "start"))
	require.NoError(t, h.run(t, "stop"))
	require.Equal(t, "切断しました。時報も停止しました。", h.sender.last(t).text)
	require.False(t, h.sched.Status(chime.TenantID(chatID)).Recurring)
	_, connected := h.outputs.Get(chime.TenantID(chatID))
	require.False(t, connected)
	require.Equal(t, 2, h.sched.cancelled)
}

func TestChimeSchedulesOneShot(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	require.NoError(t, h.run(t, "chime"))
	require.Equal(t, "14時に一度だけ時報を流します。", h.sender.last(t).text)

	require.NoError(t, h.run(t, "chime", "今"))
	require.Equal(t, "今すぐ時報を流します。", h.sender.last(t).text)

	require.NoError(t, h.run(t, "chime", "later"))
	require.Equal(t, "使い方: /chime [now]", h.sender.last(t).text)

	require.Len(t, h.sched.oneShots, 2)
	require.False(t, h.sched.oneShots[0].immediate)
	require.True(t, h.sched.oneShots[1].immediate)

	// The notifier answers in the same chat.
	h.sched.oneShots[1].notifier.NotifyOutcome(context.Background(), chime.TenantID(chatID), chime.Outcome{Kind: chime.OutcomePlayed, Hour: 9})
	got := h.sender.last(t)
	require.Equal(t, "9時の時報を再生しました。", got.text)
	require.Equal(t, chatID, got.chat.ChatID)
}

func TestChimeReportsScheduleError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	h.sched.err = chime.ErrRegistryClosed
	require.ErrorIs(t, h.run(t, "chime", "now"), chime.ErrRegistryClosed)
	require.Contains(t, h.sender.last(t).text, "時報を予約できませんでした")
}

func TestStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)

	require.NoError(t, h.run(t, "status"))
	got := h.sender.last(t)
	require.Equal(t, "HTML", got.opt.ParseMode)
	require.Contains(t, got.text, "• <b>出力</b>: 未接続")
	require.Contains(t, got.text, "• <b>毎正時の時報</b>: 停止中")
	require.Contains(t, got.text, "• <b>次の正時</b>: 2026-10-15 14:00 UTC")

	require.NoError(t, h.run(t, "start"))
	require.NoError(t, h.run(t, "status"))
	got = h.sender.last(t)
	require.Contains(t, got.text, "• <b>出力</b>: lounge (接続中)")
	require.Contains(t, got.text, "• <b>毎正時の時報</b>: 有効")
}

func TestHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	at := time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC)
	h.history.entries = []storage.ChimeEntry{
		{At: at, Tenant: chatID, Kind: string(chime.KindRecurring), Outcome: chime.OutcomePlayed.String(), Hour: 13},
		{At: at.Add(-time.Hour), Tenant: chatID, Kind: string(chime.KindOneShot), Outcome: chime.OutcomeSkippedMissingResource.String(), Hour: 12, Error: "12.wav <missing>"},
	}

	require.NoError(t, h.run(t, "history"))
	require.Equal(t, defaultHistory, h.history.limit)
	text := h.sender.last(t).text
	require.Contains(t, text, "10-15 13:00 定時 13時 再生")
	require.Contains(t, text, "10-15 12:00 単発 12時 音声ファイルなし (12.wav &lt;missing&gt;)")

	require.NoError(t, h.run(t, "history", "500"))
	require.Equal(t, maxHistory, h.history.limit)

	require.NoError(t, h.run(t, "history", "zero"))
	require.Equal(t, "使い方: /history [件数]", h.sender.last(t).text)

	h.history.entries = nil
	require.NoError(t, h.run(t, "history"))
	require.Equal(t, "まだ時報の記録がありません。", h.sender.last(t).text)

	h.history.err = errors.New("disk gone")
	require.Error(t, h.run(t, "history"))
}

func TestHistoryDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	cmds := Builtin(Deps{Scheduler: h.sched, Outputs: h.outputs})
	for _, c := range cmds {
		if c.Name != "history" {
			continue
		}
		req := &Request{Chat: transport.ChatTarget{ChatID: chatID}, Logger: logx.Nop(), Sender: h.sender}
		require.NoError(t, c.Handle(context.Background(), req))
	}
	require.Equal(t, "履歴の保存は無効になっています。", h.sender.last(t).text)
}

func TestOutcomeMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		o    chime.Outcome
		want string
	}{
		{o: chime.Outcome{Kind: chime.OutcomePlayed, Hour: 0}, want: "0時の時報を再生しました。"},
		{o: chime.Outcome{Kind: chime.OutcomeSkippedNotConnected}, want: "/start"},
		{o: chime.Outcome{Kind: chime.OutcomeSkippedMissingResource, Hour: 7}, want: "7時の音声ファイル"},
		{o: chime.Outcome{Kind: chime.OutcomeSkippedPlaybackError, Err: fmt.Errorf("x: %w", chime.ErrSessionBusy)}, want: "ほかの音声を再生中"},
		{o: chime.Outcome{Kind: chime.OutcomeSkippedPlaybackError, Err: chime.ErrPlaybackStart}, want: "playback start failed"},
	}
	for _, tt := range tests {
		require.Contains(t, OutcomeMessage(tt.o), tt.want, tt.o.String())
	}
}

func dispatch(t *testing.T, r *Router) chan<- transport.Update {
	t.Helper()
	updates := make(chan transport.Update, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func message(text string, from int64, group bool) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: chatID, FromID: from, Text: text, IsGroup: group,
	}}
}

func waitTexts(t *testing.T, s *fakeSender, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.texts()) >= n }, 2*time.Second, 5*time.Millisecond)
	return s.texts()
}

func TestRouterAccessAndUnknownCommands(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := NewRouter(logx.Nop(), s)
	r.SetOwners([]int64{42})
	r.Register(Command{
		Name:   "secret",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "ok "+req.Command) },
	})
	up := dispatch(t, r)

	up <- message("/nope", 42, true) // ignored in groups
	up <- message("not a command", 42, false)
	up <- message("/secret", 7, false)
	require.Equal(t, []string{msgForbidden}, waitTexts(t, s, 1))

	up <- message("/nope", 42, false)
	require.Equal(t, msgUnknownCommand, waitTexts(t, s, 2)[1])

	up <- message("/secret@jihou_bot", 42, true)
	require.Equal(t, "ok secret", waitTexts(t, s, 3)[2])
}

func TestRouterRateLimitsPerChat(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := NewRouter(logx.Nop(), s)
	r.SetRate(1)
	r.Register(Command{
		Name:   "ping",
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "pong") },
	})
	up := dispatch(t, r)

	up <- message("/ping", 1, false)
	require.Equal(t, "pong", waitTexts(t, s, 1)[0])
	up <- message("/ping", 1, false)
	require.Equal(t, msgRateLimited, waitTexts(t, s, 2)[1])
}

func TestRouterRecoversFromPanics(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := NewRouter(logx.Nop(), s)
	r.Register(
		Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("kaboom") }},
		Command{Name: "ping", Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "pong") }},
	)
	up := dispatch(t, r)

	up <- message("/boom", 1, false)
	up <- message("/ping", 1, false)
	require.Equal(t, []string{"pong"}, waitTexts(t, s, 1))
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	h := newHarness(t, true)
	r := NewRouter(logx.Nop(), h.sender)
	r.Register(Builtin(Deps{Scheduler: h.sched, Outputs: h.outputs})...)

	var names []string
	for _, c := range r.MenuCommands() {
		names = append(names, c.Command)
		require.NotEmpty(t, c.Description)
	}
	require.Equal(t, []string{"chime", "help", "history", "start", "status", "stop"}, names)

	help := r.helpText()
	require.True(t, strings.HasPrefix(help, "🔔 <b>時報ボット</b>"))
	require.Contains(t, help, "<code>/chime [now]</code>")
	require.Contains(t, help, "<code>/start</code> 出力に接続し、毎正時の時報を開始します 🔒")
}
