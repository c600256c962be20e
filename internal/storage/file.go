package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "chimebot/pkg/logx"
)

// fileStore appends chime history to <prefix>.chimes.jsonl.
//
// Reads scan the whole file; when Retention is set the file is rewritten
// without expired lines every compactEvery appends.
type fileStore struct {
	log       logx.Logger
	path      string
	retention time.Duration

	mu     sync.Mutex
	f      *os.File
	writes int
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	histPath := filepath.Join(dir, base) + ".chimes.jsonl"

	f, err := os.OpenFile(histPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: histPath, retention: cfg.Retention, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendChime(ctx context.Context, e ChimeEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("history file closed")
	}
	if err := json.NewEncoder(s.f).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.retention > 0 && s.writes%compactEvery == 0 {
		if err := s.compactLocked(time.Now().Add(-s.retention)); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentChimes(ctx context.Context, tenant int64, limit int) ([]ChimeEntry, error) {
	_ = ctx
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep the last limit matches in a ring, then reverse.
	ring := make([]ChimeEntry, 0, limit)
	next := 0
	err := scanEntries(s.path, func(e ChimeEntry) {
		if e.Tenant != tenant {
			return
		}
		if len(ring) < limit {
			ring = append(ring, e)
			return
		}
		ring[next] = e
		next = (next + 1) % limit
	})
	if err != nil {
		return nil, err
	}

	out := make([]ChimeEntry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

func (s *fileStore) compactLocked(cutoff time.Time) error {
	tmp := s.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tf)
	var encErr error
	err = scanEntries(s.path, func(e ChimeEntry) {
		if encErr == nil && !e.At.Before(cutoff) {
			encErr = enc.Encode(e)
		}
	})
	if err == nil {
		err = encErr
	}
	if cerr := tf.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	// The old handle points at the replaced inode.
	_ = s.f.Close()
	s.f, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	return err
}

func scanEntries(path string, fn func(ChimeEntry)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e ChimeEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		fn(e)
	}
	return sc.Err()
}
