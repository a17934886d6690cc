package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "birthdaybot/pkg/logx"
)

const documentVersion = 1

// fileStore keeps the whole dataset in memory and rewrites the JSON document
// on every mutation. A failed write rolls the in-memory change back, so
// readers never observe state that is not on disk.
//
// With an empty path nothing is written (the "memory" driver).
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.RWMutex
	closed bool
	chats  map[int64]map[string]string // chat -> name -> canonical date
	dedup  map[string]int64            // key -> unix milli
}

// document is the on-disk layout. Chat ids are JSON object keys, hence strings.
type document struct {
	Version int                          `json:"version"`
	Chats   map[string]map[string]string `json:"chats"`
	Dedup   map[string]int64             `json:"dedup,omitempty"`
}

func newMemory(log logx.Logger) *fileStore {
	return &fileStore{
		log:   log,
		chats: map[int64]map[string]string{},
		dedup: map[string]int64{},
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := newMemory(log)
	s.path = path
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	pruneExpiredDedup(s.dedup, time.Now())
	log.Debug("file store loaded", logx.String("path", path), logx.Int("chats", len(s.chats)))
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc.Version > documentVersion {
		return fmt.Errorf("unsupported document version %d", doc.Version)
	}
	for k, names := range doc.Chats {
		chatID, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return fmt.Errorf("bad chat id %q: %w", k, err)
		}
		m := make(map[string]string, len(names))
		for name, date := range names {
			m[name] = date
		}
		s.chats[chatID] = m
	}
	for k, v := range doc.Dedup {
		s.dedup[k] = v
	}
	return nil
}

// persistLocked writes the current state. Caller holds s.mu for writing.
func (s *fileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	doc := document{
		Version: documentVersion,
		Chats:   make(map[string]map[string]string, len(s.chats)),
		Dedup:   s.dedup,
	}
	for chatID, names := range s.chats {
		if len(names) == 0 {
			continue
		}
		doc.Chats[strconv.FormatInt(chatID, 10)] = names
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Insert(ctx context.Context, b Birthday) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	names := s.chats[b.ChatID]
	if _, ok := names[b.Name]; ok {
		return ErrExists
	}
	if names == nil {
		names = map[string]string{}
		s.chats[b.ChatID] = names
	}
	names[b.Name] = b.Date
	if err := s.persistLocked(); err != nil {
		delete(names, b.Name)
		return err
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, name string, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	names := s.chats[chatID]
	date, ok := names[name]
	if !ok {
		return ErrNotFound
	}
	delete(names, name)
	if err := s.persistLocked(); err != nil {
		names[name] = date
		return err
	}
	if len(names) == 0 {
		delete(s.chats, chatID)
	}
	return nil
}

func (s *fileStore) Get(ctx context.Context, name string, chatID int64) (Birthday, bool, error) {
	if err := ctx.Err(); err != nil {
		return Birthday{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Birthday{}, false, ErrClosed
	}
	date, ok := s.chats[chatID][name]
	if !ok {
		return Birthday{}, false, nil
	}
	return Birthday{Name: name, Date: date, ChatID: chatID}, true, nil
}

func (s *fileStore) List(ctx context.Context) ([]Birthday, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := []Birthday{}
	for chatID, names := range s.chats {
		out = appendChat(out, chatID, names)
	}
	sortBirthdays(out)
	return out, nil
}

func (s *fileStore) ListChat(ctx context.Context, chatID int64) ([]Birthday, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := appendChat([]Birthday{}, chatID, s.chats[chatID])
	sortBirthdays(out)
	return out, nil
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev, had := s.dedup[key]
	s.dedup[key] = until.UnixMilli()
	pruneExpiredDedup(s.dedup, time.Now())
	if err := s.persistLocked(); err != nil {
		if had {
			s.dedup[key] = prev
		} else {
			delete(s.dedup, key)
		}
		return err
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := s.dedup[strings.TrimSpace(key)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func appendChat(out []Birthday, chatID int64, names map[string]string) []Birthday {
	for name, date := range names {
		out = append(out, Birthday{Name: name, Date: date, ChatID: chatID})
	}
	return out
}

func sortBirthdays(bs []Birthday) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].ChatID != bs[j].ChatID {
			return bs[i].ChatID < bs[j].ChatID
		}
		return bs[i].Name < bs[j].Name
	})
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cutoff := now.UnixMilli()
	for k, v := range m {
		if v < cutoff {
			delete(m, k)
		}
	}
}
