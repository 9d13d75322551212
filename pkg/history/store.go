package history

import (
	"context"
	"errors"

	"github.com/jg-phare/mcphub/pkg/types"
)

var (
	ErrLockTimeout = errors.New("lock acquisition timeout")
	ErrStoreClosed = errors.New("history store closed")
)

// Store mirrors the execution history to durable storage.
type Store interface {
	// Append persists one entry.
	Append(ctx context.Context, e types.ExecutionHistoryEntry) error
	// Load returns every persisted entry, oldest first.
	Load(ctx context.Context) ([]types.ExecutionHistoryEntry, error)
	// Clear deletes every persisted entry.
	Clear(ctx context.Context) error
	Close() error
}

// Store drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverJSONL  = "jsonl"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver, or nil for the memory driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return nil, nil
	case DriverJSONL:
		s, err := NewJSONLStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.New("unknown history driver: " + driver)
}
