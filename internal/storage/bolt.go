package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	logx "birthdaybot/pkg/logx"
)

var (
	bucketBirthdays = []byte("birthdays") // chat id -> nested bucket name -> date
	bucketDedup     = []byte("dedup")     // key -> unix milli
)

// boltStore keeps one nested bucket per chat, so ListChat is a single
// bucket scan and names stay byte-sorted.
type boltStore struct {
	log logx.Logger
	db  *bolt.DB
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for bolt driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBirthdays, bucketDedup} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return pruneBoltDedup(tx, time.Now())
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("bolt store opened", logx.String("path", path))
	return &boltStore{log: log, db: db}, nil
}

func chatKey(chatID int64) []byte { return []byte(strconv.FormatInt(chatID, 10)) }

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) Insert(ctx context.Context, b Birthday) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		chat, err := tx.Bucket(bucketBirthdays).CreateBucketIfNotExists(chatKey(b.ChatID))
		if err != nil {
			return err
		}
		if chat.Get([]byte(b.Name)) != nil {
			return ErrExists
		}
		return chat.Put([]byte(b.Name), []byte(b.Date))
	})
}

func (s *boltStore) Delete(ctx context.Context, name string, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketBirthdays)
		chat := root.Bucket(chatKey(chatID))
		if chat == nil || chat.Get([]byte(name)) == nil {
			return ErrNotFound
		}
		if err := chat.Delete([]byte(name)); err != nil {
			return err
		}
		if k, _ := chat.Cursor().First(); k == nil {
			return root.DeleteBucket(chatKey(chatID))
		}
		return nil
	})
}

func (s *boltStore) Get(ctx context.Context, name string, chatID int64) (Birthday, bool, error) {
	if err := ctx.Err(); err != nil {
		return Birthday{}, false, err
	}
	var (
		out Birthday
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		chat := tx.Bucket(bucketBirthdays).Bucket(chatKey(chatID))
		if chat == nil {
			return nil
		}
		if v := chat.Get([]byte(name)); v != nil {
			out, ok = Birthday{Name: name, Date: string(v), ChatID: chatID}, true
		}
		return nil
	})
	return out, ok, err
}

func (s *boltStore) List(ctx context.Context) ([]Birthday, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []Birthday{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBirthdays).ForEachBucket(func(k []byte) error {
			chatID, err := strconv.ParseInt(string(k), 10, 64)
			if err != nil {
				return fmt.Errorf("bad chat bucket %q: %w", k, err)
			}
			out, err = appendBucket(out, chatID, tx.Bucket(bucketBirthdays).Bucket(k))
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	sortBirthdays(out)
	return out, nil
}

func (s *boltStore) ListChat(ctx context.Context, chatID int64) ([]Birthday, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []Birthday{}
	err := s.db.View(func(tx *bolt.Tx) error {
		chat := tx.Bucket(bucketBirthdays).Bucket(chatKey(chatID))
		if chat == nil {
			return nil
		}
		var err error
		out, err = appendBucket(out, chatID, chat)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortBirthdays(out)
	return out, nil
}

func appendBucket(out []Birthday, chatID int64, b *bolt.Bucket) ([]Birthday, error) {
	err := b.ForEach(func(k, v []byte) error {
		out = append(out, Birthday{Name: string(k), Date: string(v), ChatID: chatID})
		return nil
	})
	return out, err
}

func (s *boltStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := pruneBoltDedup(tx, time.Now()); err != nil {
			return err
		}
		return tx.Bucket(bucketDedup).Put([]byte(key), []byte(strconv.FormatInt(until.UnixMilli(), 10)))
	})
}

func (s *boltStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	var (
		until time.Time
		ok    bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDedup).Get([]byte(strings.TrimSpace(key)))
		if v == nil {
			return nil
		}
		ms, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("dedup %q: %w", key, err)
		}
		until, ok = time.UnixMilli(ms), true
		return nil
	})
	return until, ok, err
}

func pruneBoltDedup(tx *bolt.Tx, now time.Time) error {
	b := tx.Bucket(bucketDedup)
	cutoff := now.UnixMilli()
	var expired [][]byte
	err := b.ForEach(func(k, v []byte) error {
		if ms, err := strconv.ParseInt(string(v), 10, 64); err != nil || ms < cutoff {
			expired = append(expired, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range expired {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
