package chime

import (
	"context"

	logx "chimebot/pkg/logx"
)

// runOneShot fires once (at the next boundary unless immediate), reports the
// outcome and deregisters itself. A cancelled one-shot reports nothing.
func (r *Registry) runOneShot(ctx context.Context, t *task) {
	defer close(t.done)
	defer r.forget(t)

	log := r.log.With(logx.Int64("tenant", int64(t.tenant)), logx.String("run", t.id), logx.String("kind", string(t.kind)))
	if !t.immediate {
		next := NextBoundary(r.clock.Now().In(r.loc))
		log.Debug("one-shot waiting for next boundary", logx.Time("next", next))
		if !r.sleepUntil(ctx, next) {
			log.Debug("one-shot cancelled")
			return
		}
	}

	out, ok := r.fire(ctx, t.tenant, log)
	if !ok {
		log.Debug("one-shot cancelled mid-cycle")
		return
	}
	r.record(t, out, log)

	if t.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		t.notifier.NotifyOutcome(nctx, t.tenant, out)
	}
}
