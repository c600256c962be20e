package app

import (
	"context"
	"errors"
	"time"

	"chimebot/internal/chime"
	"chimebot/internal/eventbus"
	"chimebot/internal/storage"
	logx "chimebot/pkg/logx"
)

const historyWriteTimeout = 3 * time.Second

func entryFromEvent(e eventbus.Event) (storage.ChimeEntry, bool) {
	rec, ok := e.Data.(chime.Record)
	if !ok {
		return storage.ChimeEntry{}, false
	}
	at := rec.Outcome.At
	if at.IsZero() {
		at = e.Time
	}
	ent := storage.ChimeEntry{
		At:      at,
		Tenant:  int64(rec.Tenant),
		RunID:   rec.RunID,
		Kind:    string(rec.Kind),
		Outcome: rec.Outcome.Kind.String(),
		Hour:    rec.Outcome.Hour,
	}
	if rec.Outcome.Err != nil {
		ent.Error = rec.Outcome.Err.Error()
	}
	return ent, true
}

// recordHistory persists chime outcomes from the bus until ctx ends.
func recordHistory(ctx context.Context, bus eventbus.Bus, store storage.Store, log logx.Logger) {
	events, unsub := bus.Subscribe(64, chime.EventFired, chime.EventSkipped)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ent, ok := entryFromEvent(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
			err := store.AppendChime(wctx, ent)
			cancel()
			if err != nil && !errors.Is(err, storage.ErrDisabled) {
				log.Warn("chime history write failed", logx.Int64("tenant", ent.Tenant), logx.Err(err))
			}
		}
	}
}
