package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"chimebot/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{name: "short", in: "時報", limit: 10, want: []string{"時報"}},
		{name: "hard cut", in: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "prefers newline", in: "aaaa\nbbbbbb", limit: 8, want: []string{"aaaa", "bbbbbb"}},
		{name: "runes not bytes", in: strings.Repeat("鐘", 6), limit: 3, want: []string{"鐘鐘鐘", "鐘鐘鐘"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tt.in, tt.limit)
			require.Equal(t, tt.want, got)
			for _, c := range got {
				require.LessOrEqual(t, utf8.RuneCountInString(c), tt.limit)
			}
		})
	}
}

func TestToUpdate(t *testing.T) {
	t.Parallel()
	_, ok := toUpdate(nil)
	require.False(t, ok)

	up, ok := toUpdate(&tele.Message{
		ID:       9,
		Text:     "/chime now",
		ThreadID: 3,
		Chat:     &tele.Chat{ID: -100123, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 42, Username: "owner"},
	})
	require.True(t, ok)
	require.Equal(t, transport.UpdateMessage, up.Kind)
	require.Equal(t, transport.Message{
		ID: 9, ChatID: -100123, ThreadID: 3, FromID: 42, FromUsername: "owner",
		Text: "/chime now", IsGroup: true,
	}, *up.Message)

	up, ok = toUpdate(&tele.Message{Text: "hi", Chat: &tele.Chat{ID: 5, Type: tele.ChatPrivate}})
	require.True(t, ok)
	require.False(t, up.Message.IsGroup)
	require.Zero(t, up.Message.FromID)
}
