package birthday

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"birthdaybot/internal/storage"
	logx "birthdaybot/pkg/logx"
)

// Backend is the persistence the Store needs. storage.Store satisfies it.
type Backend interface {
	Insert(ctx context.Context, b storage.Birthday) error
	Delete(ctx context.Context, name string, chatID int64) error
	Get(ctx context.Context, name string, chatID int64) (storage.Birthday, bool, error)
	List(ctx context.Context) ([]storage.Birthday, error)
	ListChat(ctx context.Context, chatID int64) ([]storage.Birthday, error)
}

// Store validates and owns birthday records. Mutations are serialized, so
// the (name, chat) uniqueness holds with concurrent command handlers.
type Store struct {
	backend Backend
	log     logx.Logger

	mu sync.Mutex
}

func NewStore(backend Backend, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{backend: backend, log: log}
}

// Add validates and persists a new record.
func (s *Store) Add(ctx context.Context, name, dateText string, chatID int64) (Record, error) {
	date, err := ParseDate(dateText)
	if err != nil {
		return Record{}, err
	}
	name = NormalizeName(name)
	if name == "" {
		return Record{}, ErrInvalidName
	}
	rec := Record{Name: name, Date: date, ChatID: chatID}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.backend.Insert(ctx, storage.Birthday{Name: rec.Name, Date: rec.Date.String(), ChatID: chatID})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrExists):
		return Record{}, ErrDuplicateName
	default:
		return Record{}, persistErr("insert", err)
	}
	s.log.Debug("birthday added", logx.String("key", rec.Key()), logx.String("date", rec.Date.String()))
	return rec, nil
}

// Delete removes the record for (name, chatID).
func (s *Store) Delete(ctx context.Context, name string, chatID int64) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.backend.Delete(ctx, name, chatID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	default:
		return persistErr("delete", err)
	}
	s.log.Debug("birthday deleted", logx.String("key", Key(name, chatID)))
	return nil
}

// Get returns (zero, false, nil) when no record matches.
func (s *Store) Get(ctx context.Context, name string, chatID int64) (Record, bool, error) {
	name = NormalizeName(name)
	if name == "" {
		return Record{}, false, nil
	}
	row, ok, err := s.backend.Get(ctx, name, chatID)
	if err != nil {
		return Record{}, false, persistErr("get", err)
	}
	if !ok {
		return Record{}, false, nil
	}
	rec, err := decode(row)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// ForChat lists one chat's records ordered by month, day, then name.
func (s *Store) ForChat(ctx context.Context, chatID int64) ([]Record, error) {
	rows, err := s.backend.ListChat(ctx, chatID)
	if err != nil {
		return nil, persistErr("list chat", err)
	}
	return decodeAll(rows)
}

// All lists every record in the same order as ForChat, ties broken by chat.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.backend.List(ctx)
	if err != nil {
		return nil, persistErr("list", err)
	}
	return decodeAll(rows)
}

// ByDayMonth returns records whose stored day and month match, in any year
// and any chat.
func (s *Store) ByDayMonth(ctx context.Context, day, month int) ([]Record, error) {
	if !ValidDayMonth(day, month) {
		return nil, ErrInvalidDate
	}
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, r := range all {
		if r.Date.Day == day && r.Date.Month == time.Month(month) {
			out = append(out, r)
		}
	}
	return out, nil
}

func decode(row storage.Birthday) (Record, error) {
	date, err := ParseDate(row.Date)
	if err != nil {
		return Record{}, persistErr("decode "+row.Key(), err)
	}
	return Record{Name: row.Name, Date: date, ChatID: row.ChatID}, nil
}

func decodeAll(rows []storage.Birthday) ([]Record, error) {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	SortRecords(out)
	return out, nil
}

// SortRecords orders by month, day, name and chat.
func SortRecords(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Date.Month != b.Date.Month {
			return a.Date.Month < b.Date.Month
		}
		if a.Date.Day != b.Date.Day {
			return a.Date.Day < b.Date.Day
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ChatID < b.ChatID
	})
}
