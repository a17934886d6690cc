package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "birthdaybot/pkg/logx"
)

// Store is the persistence API used by the birthday store and the notifier.
// Implementations are safe for concurrent use and a write that returned nil
// is visible to every later read.
type Store interface {
	// Insert adds b unless its key exists (ErrExists).
	Insert(ctx context.Context, b Birthday) error
	// Delete removes the row for (name, chatID) or returns ErrNotFound.
	Delete(ctx context.Context, name string, chatID int64) error
	Get(ctx context.Context, name string, chatID int64) (Birthday, bool, error)
	List(ctx context.Context) ([]Birthday, error)
	ListChat(ctx context.Context, chatID int64) ([]Birthday, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "file":
		return openFile(cfg, log)
	case "memory":
		return newMemory(log), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	case "", "none":
		return nil, errors.New("storage.driver is required")
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
