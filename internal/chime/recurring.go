package chime

import (
	"context"

	logx "chimebot/pkg/logx"
)

// runRecurring is the body of a recurring task:
// wait for the next top of the hour, check the session, play, repeat.
// Only cancellation ends it.
func (r *Registry) runRecurring(ctx context.Context, t *task) {
	defer close(t.done)
	defer r.forget(t)

	log := r.log.With(logx.Int64("tenant", int64(t.tenant)), logx.String("run", t.id), logx.String("kind", string(t.kind)))
	for {
		next := NextBoundary(r.clock.Now().In(r.loc))
		log.Debug("waiting for next boundary", logx.Time("next", next))
		if !r.sleepUntil(ctx, next) {
			log.Debug("recurring chime stopped")
			return
		}

		out, ok := r.fire(ctx, t.tenant, log)
		if !ok {
			log.Debug("recurring chime stopped mid-cycle")
			return
		}
		r.record(t, out, log)
	}
}
