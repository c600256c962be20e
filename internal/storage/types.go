package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "file": JSON Lines file, for hosts where a database file is unwanted
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retention drops entries older than this; 0 keeps everything.
	Retention time.Duration
}

// ChimeEntry records one chime attempt.
type ChimeEntry struct {
	At      time.Time `json:"at"`
	Tenant  int64     `json:"tenant"`
	RunID   string    `json:"run_id"`
	Kind    string    `json:"kind"`
	Outcome string    `json:"outcome"`
	Hour    int       `json:"hour"`
	Error   string    `json:"error,omitempty"`
}
