package chime

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "chimebot/pkg/logx"
)

const DefaultPollInterval = 500 * time.Millisecond

// Sequencer plays resources one after another on a session.
type Sequencer struct {
	log  logx.Logger
	poll time.Duration
}

func NewSequencer(log logx.Logger, poll time.Duration) *Sequencer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Sequencer{log: log, poll: poll}
}

// PlaySequence plays items in order on sess, each to completion before the next starts.
//
// A missing item or one that fails to open or start is skipped. If the session
// disconnects while waiting, or Play reports ErrSessionBusy, the rest of the
// sequence is abandoned. playedAny
// reports whether at least one item started; err joins every failure seen.
func (s *Sequencer) PlaySequence(ctx context.Context, sess Session, src Source, items []Resource) (playedAny bool, err error) {
	var errs []error
	for _, res := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !src.Exists(res) {
			s.log.Warn("chime resource missing", logx.String("path", res.Path))
			errs = append(errs, fmt.Errorf("%w: %s", ErrResourceMissing, res.Path))
			continue
		}
		if err := s.waitIdle(ctx, sess); err != nil {
			errs = append(errs, err)
			break
		}

		stream, err := src.Open(res)
		if err != nil {
			s.log.Error("chime open failed", logx.String("path", res.Path), logx.Err(err))
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrPlaybackInit, res.Name, err))
			continue
		}
		if err := sess.Play(res, stream); err != nil {
			_ = stream.Close()
			if errors.Is(err, ErrSessionBusy) {
				// Someone else took the player between our idle check and Play.
				errs = append(errs, err)
				break
			}
			s.log.Error("chime play failed", logx.String("name", res.Name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrPlaybackStart, res.Name, err))
			continue
		}
		playedAny = true
		s.log.Debug("chime item started", logx.String("name", res.Name))

		if err := s.waitIdle(ctx, sess); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return playedAny, errors.Join(errs...)
}

// waitIdle polls until sess is not busy. It fails fast on cancellation and on disconnect.
func (s *Sequencer) waitIdle(ctx context.Context, sess Session) error {
	check := func() (bool, error) {
		if !sess.Connected() {
			return false, ErrSessionUnavailable
		}
		return !sess.Busy(), nil
	}
	if idle, err := check(); err != nil || idle {
		return err
	}

	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		if idle, err := check(); err != nil || idle {
			return err
		}
	}
}
