package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birthdaybot/internal/config"
	"birthdaybot/internal/eventbus"
	kit "birthdaybot/internal/transport"
	telegram "birthdaybot/internal/transport/telegram/adapter"
	logx "birthdaybot/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "123:abc", GroupLog: "-10042"},
		Storage:  config.StorageConfig{Driver: "Memory"},
		Locale:   config.LocaleConfig{Default: "en"},
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage = config.StorageConfig{Driver: " SQLite ", Path: " ./data/b.db ", BusyTimeout: "3s"}
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "./data/b.db", sc.Path)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)

	cfg.Storage.BusyTimeout = ""
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.Second, sc.BusyTimeout)
}

func TestMapNotifierConfigDefaults(t *testing.T) {
	nc, err := mapNotifierConfig(baseConfig())
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, 20*time.Hour, nc.DedupWindow)
	assert.Equal(t, 500*time.Millisecond, nc.RetryBase)
	assert.True(t, nc.PersistDedup)
}

func TestValidateRuntime(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, validateRuntime(cfg))

	cfg.Reminder.Schedule = "not a schedule"
	require.Error(t, validateRuntime(cfg))

	off := false
	cfg.Reminder.Enabled = &off
	require.NoError(t, validateRuntime(cfg), "schedule ignored while disabled")

	n := config.DefaultNotifier()
	n.DedupWindow = "soon"
	cfg.Notifier = &n
	require.Error(t, validateRuntime(cfg))
}

func TestLogTarget(t *testing.T) {
	cfg := baseConfig()
	assert.Equal(t, int64(-10042), logTarget(cfg))
	cfg.Telegram.GroupLog = ""
	assert.Zero(t, logTarget(cfg))
}

func newTestApp(t *testing.T) (*App, *config.Config) {
	t.Helper()
	cfg := baseConfig()
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Offline: true}, logx.Nop())
	require.NoError(t, err)
	logs, root := logx.New(logx.Config{Level: "error"}, ad)

	a := &App{
		cfgm:    config.NewConfigManager(""),
		log:     root,
		logs:    logs,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 1),
		bgCtx:   context.Background(),
	}
	require.NoError(t, a.build(cfg, root))
	t.Cleanup(func() {
		_ = a.store.Close()
		_ = logs.Close()
	})
	return a, cfg
}

func TestBuildWiresComponents(t *testing.T) {
	a, _ := newTestApp(t)
	require.NotNil(t, a.store)
	require.NotNil(t, a.notif)
	require.NotNil(t, a.remind)
	assert.Equal(t, []string{"start", "help", "add", "del", "list", "calc", "upcoming", "export"}, a.router.Commands())
	assert.Equal(t, "en", a.catalog.Default())
}

func TestApplyConfigPublishesReload(t *testing.T) {
	a, prev := newTestApp(t)
	events, unsub := a.bus.Subscribe(4)
	defer unsub()

	next := *prev
	n := config.DefaultNotifier()
	n.Enabled = false
	next.Notifier = &n
	next.Reminder.Priority = 2
	next.Locale.Force = true

	a.applyConfig(context.Background(), prev, &next)
	assert.False(t, a.notif.Enabled())

	select {
	case e := <-events:
		assert.Equal(t, eventbus.ConfigReloaded, e.Type)
		assert.Equal(t, []string{"locale", "notifier", "reminder"}, e.Data)
	case <-time.After(time.Second):
		t.Fatal("no reload event")
	}
}

func TestApplyConfigNoChanges(t *testing.T) {
	a, prev := newTestApp(t)
	events, unsub := a.bus.Subscribe(1)
	defer unsub()

	a.applyConfig(context.Background(), prev, prev)
	select {
	case e := <-events:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}
