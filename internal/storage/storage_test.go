package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "birthdaybot/pkg/logx"
)

func openEach(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(dir, "birthdays.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "birthdays.db")},
		{Driver: "bolt", Path: filepath.Join(dir, "birthdays.bolt")},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("open %s: %v", cfg.Driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	for name, st := range openEach(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.Insert(ctx, Birthday{Name: "Bob", Date: "01.02.1990", ChatID: 7}); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := st.Insert(ctx, Birthday{Name: "Alice", Date: "03.04.1985", ChatID: 7}); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := st.Insert(ctx, Birthday{Name: "Bob", Date: "05.06.2000", ChatID: 8}); err != nil {
				t.Fatalf("same name in another chat: %v", err)
			}
			err := st.Insert(ctx, Birthday{Name: "Bob", Date: "09.09.1999", ChatID: 7})
			if !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}

			b, ok, err := st.Get(ctx, "Bob", 7)
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if b.Date != "01.02.1990" {
				t.Fatalf("duplicate insert overwrote date: %q", b.Date)
			}

			chat, err := st.ListChat(ctx, 7)
			if err != nil {
				t.Fatalf("list chat: %v", err)
			}
			if len(chat) != 2 || chat[0].Name != "Alice" || chat[1].Name != "Bob" {
				t.Fatalf("unexpected chat listing: %+v", chat)
			}

			all, err := st.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 rows, got %d", len(all))
			}

			if err := st.Delete(ctx, "Bob", 7); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.Delete(ctx, "Bob", 7); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, ok, _ := st.Get(ctx, "Bob", 8); !ok {
				t.Fatalf("delete touched another chat")
			}

			empty, err := st.ListChat(ctx, 99)
			if err != nil {
				t.Fatalf("list empty chat: %v", err)
			}
			if empty == nil || len(empty) != 0 {
				t.Fatalf("expected empty non-nil slice, got %#v", empty)
			}
		})
	}
}

func TestStoreDedup(t *testing.T) {
	ctx := context.Background()
	for name, st := range openEach(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := st.GetDedup(ctx, "k"); ok || err != nil {
				t.Fatalf("expected miss, ok=%v err=%v", ok, err)
			}
			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := st.PutDedup(ctx, "k", until); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, ok, err := st.GetDedup(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if !got.Equal(until) {
				t.Fatalf("until mismatch: %v != %v", got, until)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "birthdays.json")
	cfg := Config{Driver: "file", Path: path}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Insert(ctx, Birthday{Name: "Carol", Date: "29.02.2000", ChatID: -100}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = st.Close()

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	b, ok, err := st.Get(ctx, "Carol", -100)
	if err != nil || !ok || b.Date != "29.02.2000" {
		t.Fatalf("reloaded row mismatch: %+v ok=%v err=%v", b, ok, err)
	}
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "birthdays.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Driver: "file", Path: path}, logx.Nop()); err == nil {
		t.Fatalf("expected error for corrupt document")
	}
}

func TestFileStoreRollsBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "birthdays.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	// A directory where the temp file should go makes the write fail.
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := st.Insert(ctx, Birthday{Name: "Dan", Date: "01.01.2001", ChatID: 1}); err == nil {
		t.Fatalf("expected write failure")
	}
	if _, ok, _ := st.Get(ctx, "Dan", 1); ok {
		t.Fatalf("failed insert is visible")
	}
}

func TestClosedStore(t *testing.T) {
	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Close()
	if err := st.Insert(context.Background(), Birthday{Name: "x", Date: "01.01.2000"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	for _, d := range []string{"", "none", "postgres"} {
		if _, err := Open(Config{Driver: d}, logx.Nop()); err == nil {
			t.Fatalf("driver %q: expected error", d)
		}
	}
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "bolt", Path: filepath.Join(t.TempDir(), "data", "birthdays.bolt")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Insert(ctx, Birthday{Name: "Eve", Date: "15.03.1992", ChatID: -42}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.PutDedup(ctx, "expired", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("put dedup: %v", err)
	}
	_ = st.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if b, ok, err := st.Get(ctx, "Eve", -42); err != nil || !ok || b.Date != "15.03.1992" {
		t.Fatalf("reloaded row mismatch: %+v ok=%v err=%v", b, ok, err)
	}
	if _, ok, _ := st.GetDedup(ctx, "expired"); ok {
		t.Fatalf("expired dedup entry survived reopen")
	}
}
