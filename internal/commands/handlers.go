// Package commands turns chat commands into chime scheduling calls.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chimebot/internal/chime"
	"chimebot/internal/output"
	"chimebot/internal/storage"
	logx "chimebot/pkg/logx"
	"chimebot/pkg/tgui"
)

const (
	msgUnknownCommand = "不明なコマンドです。/help で一覧を表示できます。"
	msgForbidden      = "このコマンドを実行する権限がありません。"
	msgRateLimited    = "コマンドが多すぎます。少し待ってから再度お試しください。"
	msgBusy           = "混み合っています。しばらくしてから再度お試しください。"

	defaultHistory = 10
	maxHistory     = 50
	errTextLimit   = 160
)

// Scheduler is the part of chime.Registry the commands drive.
type Scheduler interface {
	EnsureRecurring(tenant chime.TenantID) bool
	CancelRecurring(tenant chime.TenantID) bool
	ScheduleOneShot(tenant chime.TenantID, n chime.Notifier, immediate bool) (string, error)
	Status(tenant chime.TenantID) chime.TenantStatus
	Resolver() *chime.Resolver
	Location() *time.Location
}

// Outputs is the part of output.Manager the commands drive.
type Outputs interface {
	Connect(tenant chime.TenantID) (already bool, err error)
	Disconnect(tenant chime.TenantID) error
	Get(tenant chime.TenantID) (*output.Session, bool)
}

// History reads past chime attempts. A nil History disables /history.
type History interface {
	RecentChimes(ctx context.Context, tenant int64, limit int) ([]storage.ChimeEntry, error)
}

// Deps are the collaborators of the built-in commands.
type Deps struct {
	Scheduler Scheduler
	Outputs   Outputs
	History   History
	// Notifier builds the one-shot outcome notifier for a chat.
	Notifier func(req *Request) chime.Notifier
}

// Builtin returns the chime commands. /help is added by Router.Register.
func Builtin(d Deps) []Command {
	h := &handlers{Deps: d}
	return []Command{
		{
			Name:        "start",
			Aliases:     []string{"join"},
			Description: "出力に接続し、毎正時の時報を開始します",
			Usage:       "/start",
			Access:      AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      h.start,
		},
		{
			Name:        "stop",
			Aliases:     []string{"leave"},
			Description: "出力から切断し、時報を停止します",
			Usage:       "/stop",
			Access:      AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      h.stop,
		},
		{
			Name:        "chime",
			Description: "次の正時に一度だけ時報を流します",
			Usage:       "/chime [now]",
			Timeout:     10 * time.Second,
			Handle:      h.chime,
		},
		{
			Name:        "status",
			Description: "接続と時報の状態を表示します",
			Usage:       "/status",
			Timeout:     10 * time.Second,
			Handle:      h.status,
		},
		{
			Name:        "history",
			Description: "最近の時報の記録を表示します",
			Usage:       "/history [件数]",
			Timeout:     10 * time.Second,
			Handle:      h.history,
		},
	}
}

type handlers struct {
	Deps
}

func tenantOf(req *Request) chime.TenantID { return chime.TenantID(req.Chat.ChatID) }

func (h *handlers) start(ctx context.Context, req *Request) error {
	tenant := tenantOf(req)
	already, err := h.Outputs.Connect(tenant)
	if err != nil {
		_ = req.Reply(ctx, fmt.Sprintf("出力への接続中にエラーが発生しました: %v", err))
		return err
	}
	if already {
		h.Scheduler.EnsureRecurring(tenant)
		return req.Reply(ctx, fmt.Sprintf("すでに %s に接続しています。時報タスクを確認します…", h.destination(tenant)))
	}

	h.Scheduler.EnsureRecurring(tenant)
	msg := fmt.Sprintf("%s に接続しました。毎正時に時報を流します。", h.destination(tenant))
	if res := h.Scheduler.Resolver(); res != nil && !res.RootExists() {
		msg += fmt.Sprintf("\n注意: 音声フォルダーが見つかりませんでした: %s", res.Root())
	}
	return req.Reply(ctx, msg)
}

func (h *handlers) stop(ctx context.Context, req *Request) error {
	tenant := tenantOf(req)
	// The recurring task goes away whatever happens to the output.
	defer h.Scheduler.CancelRecurring(tenant)

	if err := h.Outputs.Disconnect(tenant); err != nil {
		if errors.Is(err, output.ErrNotConnected) {
			return req.Reply(ctx, "現在どの出力にも接続していません。")
		}
		_ = req.Reply(ctx, fmt.Sprintf("切断時にエラーが発生しました: %v", err))
		return err
	}
	return req.Reply(ctx, "切断しました。時報も停止しました。")
}

func (h *handlers) chime(ctx context.Context, req *Request) error {
	tenant := tenantOf(req)
	immediate := false
	if len(req.Args) > 0 {
		switch strings.ToLower(req.Args[0]) {
		case "now", "今", "いま":
			immediate = true
		default:
			return req.Reply(ctx, "使い方: /chime [now]")
		}
	}

	var n chime.Notifier
	if h.Notifier != nil {
		n = h.Notifier(req)
	}
	run, err := h.Scheduler.ScheduleOneShot(tenant, n, immediate)
	if err != nil {
		_ = req.Reply(ctx, fmt.Sprintf("時報を予約できませんでした: %v", err))
		return err
	}
	req.Logger.Info("one-shot chime scheduled", logx.String("run", run), logx.Bool("immediate", immediate))
	if immediate {
		return req.Reply(ctx, "今すぐ時報を流します。")
	}
	next := h.Scheduler.Status(tenant).NextBoundary
	return req.Reply(ctx, fmt.Sprintf("%d時に一度だけ時報を流します。", next.Hour()))
}

func (h *handlers) status(ctx context.Context, req *Request) error {
	tenant := tenantOf(req)
	st := h.Scheduler.Status(tenant)

	card := tgui.NewCard("🔔", "時報の状態")
	if sess, ok := h.Outputs.Get(tenant); ok && sess.Connected() {
		card.KV("出力", sess.Output()+" (接続中)")
		if now := sess.NowPlaying(); now != "" {
			card.KV("再生中", now)
		}
		if err := sess.LastError(); err != nil {
			card.KV("直近のエラー", tgui.TruncRunes(err.Error(), errTextLimit))
		}
	} else {
		card.KV("出力", "未接続")
	}
	card.KV("毎正時の時報", onOff(st.Recurring))
	switch {
	case st.OneShot && st.OneShotImmediate:
		card.KV("単発の時報", "即時再生待ち")
	case st.OneShot:
		card.KV("単発の時報", "予約済み")
	default:
		card.KV("単発の時報", "なし")
	}
	card.KV("次の正時", st.NextBoundary.Format("2006-01-02 15:04 MST"))
	if res := h.Scheduler.Resolver(); res != nil && !res.RootExists() {
		card.HTML(tgui.Esc("注意: 音声フォルダーが見つかりません: ") + tgui.Code(res.Root()))
	}
	return req.ReplyHTML(ctx, card.String())
}

func (h *handlers) history(ctx context.Context, req *Request) error {
	if h.History == nil {
		return req.Reply(ctx, "履歴の保存は無効になっています。")
	}
	limit := defaultHistory
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			return req.Reply(ctx, "使い方: /history [件数]")
		}
		limit = min(n, maxHistory)
	}

	entries, err := h.History.RecentChimes(ctx, req.Chat.ChatID, limit)
	if err != nil {
		_ = req.Reply(ctx, "履歴を読み込めませんでした。")
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "まだ時報の記録がありません。")
	}

	loc := h.Scheduler.Location()
	if loc == nil {
		loc = time.Local
	}
	card := tgui.NewCard("🕰", fmt.Sprintf("最近の時報 (%d件)", len(entries)))
	for _, e := range entries {
		line := fmt.Sprintf("%s %s %02d時 %s",
			e.At.In(loc).Format("01-02 15:04"), kindLabel(e.Kind), e.Hour, outcomeLabel(e.Outcome))
		if e.Error != "" {
			line += " (" + tgui.TruncRunes(e.Error, errTextLimit) + ")"
		}
		card.Line(line)
	}
	return req.ReplyHTML(ctx, card.String())
}

// destination names the output a tenant is (or would be) attached to.
func (h *handlers) destination(tenant chime.TenantID) string {
	if sess, ok := h.Outputs.Get(tenant); ok && sess.Output() != "" {
		return sess.Output()
	}
	return "出力"
}

func onOff(b bool) string {
	if b {
		return "有効"
	}
	return "停止中"
}

func kindLabel(kind string) string {
	switch chime.TaskKind(kind) {
	case chime.KindRecurring:
		return "定時"
	case chime.KindOneShot:
		return "単発"
	default:
		return kind
	}
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case chime.OutcomePlayed.String():
		return "再生"
	case chime.OutcomeSkippedNotConnected.String():
		return "未接続のためスキップ"
	case chime.OutcomeSkippedMissingResource.String():
		return "音声ファイルなし"
	case chime.OutcomeSkippedPlaybackError.String():
		return "再生エラー"
	default:
		return outcome
	}
}
