package storage

import (
	"context"
	"errors"
	"strings"

	logx "chimebot/pkg/logx"
)

// Store is the persistence API used by the app and the history command.
type Store interface {
	AppendChime(ctx context.Context, e ChimeEntry) error
	// RecentChimes returns up to limit entries of tenant, newest first.
	RecentChimes(ctx context.Context, tenant int64, limit int) ([]ChimeEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
