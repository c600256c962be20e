package chime

import "errors"

var (
	// ErrResourceMissing: a resolved file does not exist at play time.
	ErrResourceMissing = errors.New("chime resource missing")
	// ErrPlaybackInit: the resource could not be opened for playback.
	ErrPlaybackInit = errors.New("playback init failed")
	// ErrPlaybackStart: the session rejected the play request.
	ErrPlaybackStart = errors.New("playback start failed")
	// ErrSessionUnavailable: no connected session for the tenant.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrSessionBusy: the session was already playing when the chime fired.
	ErrSessionBusy = errors.New("session busy")
)
