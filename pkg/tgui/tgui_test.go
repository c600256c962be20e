package tgui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCardEscapes(t *testing.T) {
	t.Parallel()
	got := NewCard("🔔", "a<b").
		KV("出力", "x & y").
		Line("<script>").
		HTML(Code("/chime [now]") + " ok").
		String()
	require.Equal(t, "🔔 <b>a&lt;b</b>\n• <b>出力</b>: x &amp; y\n&lt;script&gt;\n<code>/chime [now]</code> ok", got)

	require.Equal(t, "<b>t</b>", NewCard("", " t ").String())
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	require.Equal(t, "時報です", TruncRunes("時報です", 4))
	require.Equal(t, "時報…", TruncRunes("時報です", 3))
	require.Equal(t, "", TruncRunes("abc", 0))
}
