package storage

import (
	"errors"
	"strconv"
	"time"
)

var (
	ErrExists   = errors.New("record already exists")
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON document at Path
//   - "sqlite": SQLite database file at Path
//   - "bolt": bbolt key/value file at Path
//   - "memory": no persistence
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite busy timeout, bolt lock timeout; 0 means default
}

// Birthday is a stored row. Date is the canonical DD.MM.YYYY text; the
// store does not interpret it.
type Birthday struct {
	Name   string
	Date   string
	ChatID int64
}

// Key is the unique row key "name:chatID".
func (b Birthday) Key() string {
	return b.Name + ":" + strconv.FormatInt(b.ChatID, 10)
}
