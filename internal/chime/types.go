package chime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"
)

// TenantID identifies one scheduling domain (a chat with its own output).
type TenantID int64

func (t TenantID) String() string { return strconv.FormatInt(int64(t), 10) }

// Session is an output connection owned by the caller.
//
// Play starts playback and returns once the player accepted the stream; the
// session then owns (and eventually closes) the stream. When Play fails the
// stream is left to the caller. Busy reports playing or paused. Play must
// return an error wrapping ErrSessionBusy if something is already playing.
type Session interface {
	Connected() bool
	Busy() bool
	Play(res Resource, stream io.ReadCloser) error
	Stop() error
}

// SessionSource resolves the current session of a tenant, if any.
type SessionSource interface {
	Session(tenant TenantID) (Session, bool)
}

// SessionSourceFunc adapts a function to SessionSource.
type SessionSourceFunc func(tenant TenantID) (Session, bool)

func (f SessionSourceFunc) Session(tenant TenantID) (Session, bool) { return f(tenant) }

// Source is the part of the resolver the sequencer needs at play time.
type Source interface {
	Exists(res Resource) bool
	Open(res Resource) (io.ReadCloser, error)
}

// TaskKind distinguishes the two task flavours in events and history.
type TaskKind string

const (
	KindRecurring TaskKind = "recurring"
	KindOneShot   TaskKind = "oneshot"
)

// OutcomeKind is the result of one chime attempt.
type OutcomeKind int

const (
	OutcomePlayed OutcomeKind = iota + 1
	OutcomeSkippedNotConnected
	OutcomeSkippedMissingResource
	OutcomeSkippedPlaybackError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePlayed:
		return "played"
	case OutcomeSkippedNotConnected:
		return "skipped_not_connected"
	case OutcomeSkippedMissingResource:
		return "skipped_missing_resource"
	case OutcomeSkippedPlaybackError:
		return "skipped_playback_error"
	default:
		return "unknown"
	}
}

// Outcome describes one attempt. Err carries the per-item failures (it may be
// set even when Kind is OutcomePlayed, e.g. a missing preamble).
type Outcome struct {
	Kind OutcomeKind
	Hour int
	At   time.Time
	Err  error
}

func (o Outcome) Played() bool { return o.Kind == OutcomePlayed }

func (o Outcome) String() string {
	if o.Kind == OutcomePlayed {
		return fmt.Sprintf("played(%d)", o.Hour)
	}
	return o.Kind.String()
}

// Notifier receives the outcome of a one-shot task.
type Notifier interface {
	NotifyOutcome(ctx context.Context, tenant TenantID, o Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, tenant TenantID, o Outcome)

func (f NotifierFunc) NotifyOutcome(ctx context.Context, tenant TenantID, o Outcome) {
	f(ctx, tenant, o)
}

// Record is published on the event bus after every attempt that was not cancelled.
type Record struct {
	RunID   string
	Tenant  TenantID
	Kind    TaskKind
	Outcome Outcome
}

// Event types published by the Registry.
const (
	EventFired   = "chime.fired"
	EventSkipped = "chime.skipped"
)

// TenantStatus is a read-only view used by status commands.
type TenantStatus struct {
	Recurring        bool
	RecurringRunID   string
	OneShot          bool
	OneShotImmediate bool
	NextBoundary     time.Time
}
