package commands

import (
	"context"
	"errors"
	"fmt"

	"chimebot/internal/chime"
	"chimebot/internal/transport"
	logx "chimebot/pkg/logx"
)

// ChatNotifier reports one-shot outcomes back to the chat that asked for them.
type ChatNotifier struct {
	Sender transport.Sender
	Chat   transport.ChatTarget
	Log    logx.Logger
}

var _ chime.Notifier = ChatNotifier{}

// NotifierFor returns a ChatNotifier bound to the chat of req.
func NotifierFor(req *Request) chime.Notifier {
	return ChatNotifier{Sender: req.Sender, Chat: req.Chat, Log: req.Logger}
}

func (n ChatNotifier) NotifyOutcome(ctx context.Context, _ chime.TenantID, o chime.Outcome) {
	if n.Sender == nil {
		return
	}
	if _, err := n.Sender.SendText(ctx, n.Chat, OutcomeMessage(o), &transport.SendOptions{Silent: o.Played()}); err != nil && !n.Log.IsZero() {
		n.Log.Warn("one-shot outcome not delivered", logx.Err(err))
	}
}

// OutcomeMessage renders o for a chat.
func OutcomeMessage(o chime.Outcome) string {
	switch o.Kind {
	case chime.OutcomePlayed:
		return fmt.Sprintf("%d時の時報を再生しました。", o.Hour)
	case chime.OutcomeSkippedNotConnected:
		return "出力に接続していないため、時報を流せませんでした。/start で接続してください。"
	case chime.OutcomeSkippedMissingResource:
		return fmt.Sprintf("%d時の音声ファイルが見つからないため、時報を流せませんでした。", o.Hour)
	case chime.OutcomeSkippedPlaybackError:
		if errors.Is(o.Err, chime.ErrSessionBusy) {
			return "ほかの音声を再生中のため、時報をスキップしました。"
		}
		if o.Err != nil {
			return fmt.Sprintf("時報の再生に失敗しました: %v", o.Err)
		}
		return "時報の再生に失敗しました。"
	default:
		return "時報の結果が不明です。"
	}
}
