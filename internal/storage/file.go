package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "ttiwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Results are kept in a single append-only JSON Lines file. The full set
// of records is also held in memory so ListRecent never touches disk;
// PruneBefore rewrites the file atomically through a temp file.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path    string
	file    *os.File
	entries []ResultEntry
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	entries, err := loadResults(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:     log,
		path:    path,
		file:    f,
		entries: entries,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendResult(ctx context.Context, e ResultEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("results file closed")
	}
	if err := json.NewEncoder(s.file).Encode(e); err != nil {
		return err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *fileStore) ListRecent(ctx context.Context, limit int) ([]ResultEntry, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ResultEntry, len(s.entries))
	copy(out, s.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, errors.New("results file closed")
	}

	keep := s.entries[:0:0]
	removed := 0
	for _, e := range s.entries {
		if e.DetectedAt.Before(cutoff) {
			removed++
			continue
		}
		keep = append(keep, e)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := s.rewriteLocked(keep); err != nil {
		return 0, err
	}
	s.entries = keep
	return removed, nil
}

// rewriteLocked replaces the results file with the given entries via a
// temp file and rename, then reopens the append handle.
func (s *fileStore) rewriteLocked(entries []ResultEntry) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	_ = s.file.Close()
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.file = nil
		return err
	}
	s.file = nf
	return nil
}

func loadResults(path string) ([]ResultEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []ResultEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e ResultEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Skip torn or corrupt lines rather than refusing to open.
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
