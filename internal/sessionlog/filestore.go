package sessionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"
)

// FileStore persists records as append-only JSON lines. Suitable for a
// single instance with modest traffic.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore writing to path. The file is created on
// the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save implements [Store].
func (s *FileStore) Save(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sessionlog: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessionlog: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("sessionlog: write: %w", err)
	}
	return nil
}

// Recent implements [Store]. It scans the whole file and keeps the last
// limit records; malformed lines are skipped with a warning.
func (s *FileStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open file: %w", err)
	}
	defer f.Close()

	var recs []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			slog.Warn("sessionlog: skipping malformed line", "path", s.path, "line", line, "err", err)
			continue
		}
		recs = append(recs, rec)
		if limit > 0 && len(recs) > limit {
			recs = recs[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sessionlog: read: %w", err)
	}
	slices.Reverse(recs)
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// Close implements [Store].
func (s *FileStore) Close() error { return nil }
