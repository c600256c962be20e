package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	played, unsubPlayed := b.Subscribe(4, "chime.fired")
	all, unsubAll := b.Subscribe(4)
	defer unsubPlayed()
	defer unsubAll()

	b.Publish(Event{Type: "chime.skipped"})
	b.Publish(Event{Type: "chime.fired", Data: 14})

	e := <-played
	require.Equal(t, "chime.fired", e.Type)
	require.Equal(t, 14, e.Data)
	require.False(t, e.Time.IsZero())
	require.Len(t, played, 0)
	require.Len(t, all, 2)
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	require.Equal(t, "a", (<-ch).Type)
	require.Len(t, ch, 0)
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}
