package birthday

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidName   = errors.New("invalid name")
	ErrDuplicateName = errors.New("name already exists in this chat")
	ErrNotFound      = errors.New("birthday not found")
	ErrPersistence   = errors.New("persistence failure")
)

// PersistenceError wraps a backend failure. It matches ErrPersistence with
// errors.Is and unwraps to the backend's own error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("birthday store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// Record is one birthday owned by one chat.
type Record struct {
	Name   string
	Date   Date
	ChatID int64
}

// Key is the unique storage key "name:chatID".
func (r Record) Key() string { return Key(r.Name, r.ChatID) }

func Key(name string, chatID int64) string {
	return NormalizeName(name) + ":" + strconv.FormatInt(chatID, 10)
}

// NormalizeName strips leading and trailing whitespace only.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}
