package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/jg-phare/mcphub/pkg/types"
)

const (
	lockTimeout   = 5 * time.Second
	lockRetry     = 50 * time.Millisecond
	maxRecordSize = 16 * 1024 * 1024
)

// JSONLStore appends one JSON object per line to a file. A sibling ".lock"
// file serializes writers across processes sharing the same history file.
type JSONLStore struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewJSONLStore opens (or creates) the history file at path.
func NewJSONLStore(path string) (*JSONLStore, error) {
	if path == "" {
		return nil, errors.New("jsonl store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonl store: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl store: open: %w", err)
	}
	return &JSONLStore{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: slog.Default(),
		f:      f,
	}, nil
}

// Path returns the history file path.
func (s *JSONLStore) Path() string { return s.path }

func (s *JSONLStore) Append(ctx context.Context, e types.ExecutionHistoryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("jsonl store: marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("jsonl store: write: %w", err)
	}
	return nil
}

// Load reads every entry. Lines that do not decode are skipped.
func (s *JSONLStore) Load(ctx context.Context) ([]types.ExecutionHistoryEntry, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonl store: open: %w", err)
	}
	defer f.Close()

	var entries []types.ExecutionHistoryEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxRecordSize)
	line := 0
	for sc.Scan() {
		line++
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e types.ExecutionHistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			s.logger.Warn("skipping corrupt history line", "path", s.path, "line", line, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("jsonl store: read: %w", err)
	}
	return entries, nil
}

func (s *JSONLStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.f.Truncate(0); err != nil {
		return fmt.Errorf("jsonl store: truncate: %w", err)
	}
	return nil
}

func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

func (s *JSONLStore) acquire(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil || !locked {
		return nil, ErrLockTimeout
	}
	return func() { _ = s.lock.Unlock() }, nil
}
