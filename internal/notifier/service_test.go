package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birthdaybot/internal/eventbus"
	"birthdaybot/internal/storage"
	kit "birthdaybot/internal/transport"
	logx "birthdaybot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int // fail this many calls first
	sent  []string
	calls int
	block chan struct{}
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("boom")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) snapshot() (calls int, sent []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Hour,
	}
}

func greeting(text string) kit.Notification {
	return kit.Notification{Channel: "telegram", Target: kit.ChatTarget{ChatID: 7}, Text: text, DedupKey: "greet:7:Ann:2024-06-05"}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	snd := &fakeSender{fails: 2}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus, nil)
	require.NoError(t, s.Deliver(context.Background(), greeting("hi")))

	calls, sent := snd.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"hi"}, sent)

	e := <-events
	assert.Equal(t, eventbus.NotifierSent, e.Type)
	assert.Equal(t, int64(7), e.Data.(NotificationEvent).ChatID)
}

func TestDeliverFailureIsNotDeduped(t *testing.T) {
	snd := &fakeSender{fails: 3}
	s := New(testConfig(), snd, logx.Nop(), nil, nil)

	err := s.Deliver(context.Background(), greeting("hi"))
	require.Error(t, err)
	assert.EqualError(t, err, "boom")

	// A later retry must go through.
	require.NoError(t, s.Deliver(context.Background(), greeting("hi")))
	_, sent := snd.snapshot()
	assert.Equal(t, []string{"hi"}, sent)
}

func TestDeliverDedupSurvivesRestart(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	cfg := testConfig()
	cfg.PersistDedup = true

	snd := &fakeSender{}
	s := New(cfg, snd, logx.Nop(), nil, st)
	require.NoError(t, s.Deliver(context.Background(), greeting("hi")))
	require.NoError(t, s.Deliver(context.Background(), greeting("hi")))

	// Fresh service, empty memory cache, same store.
	s2 := New(cfg, snd, logx.Nop(), nil, st)
	require.NoError(t, s2.Deliver(context.Background(), greeting("hi")))

	calls, _ := snd.snapshot()
	assert.Equal(t, 1, calls)

	other := greeting("hi")
	other.DedupKey = "greet:7:Bob:2024-06-05"
	require.NoError(t, s2.Deliver(context.Background(), other))
	calls, _ = snd.snapshot()
	assert.Equal(t, 2, calls)
}

func TestDeliverPriorityPrefix(t *testing.T) {
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), nil, nil)
	n := greeting("hi")
	n.Priority = 9
	require.NoError(t, s.Deliver(context.Background(), n))
	_, sent := snd.snapshot()
	assert.Equal(t, []string{"🚨 hi"}, sent)
}

func TestNotifyQueueAndDedup(t *testing.T) {
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), nil, nil)

	require.ErrorIs(t, s.Notify(context.Background(), greeting("hi")), ErrStopped)

	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), greeting("hi")))
	require.NoError(t, s.Notify(context.Background(), greeting("hi")))

	n := greeting("no key")
	n.DedupKey = ""
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), n))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	_, sent := snd.snapshot()
	assert.ElementsMatch(t, []string{"hi", "no key"}, sent)
	assert.ErrorIs(t, s.Notify(context.Background(), greeting("x")), ErrStopped)
}

func TestNotifyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	assert.Nil(t, s.Supervisor())
	assert.ErrorIs(t, s.Notify(context.Background(), greeting("hi")), ErrDisabled)
}

func TestNotifyQueueFull(t *testing.T) {
	snd := &fakeSender{block: make(chan struct{})}
	cfg := testConfig()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	s := New(cfg, snd, logx.Nop(), nil, nil)
	s.Start(context.Background())

	n := greeting("a")
	require.NoError(t, s.Notify(context.Background(), n))
	// Wait for the worker to pick the first job up.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.queue) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Notify(context.Background(), n))
	assert.ErrorIs(t, s.Notify(context.Background(), n), ErrQueueFull)

	close(snd.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	_, sent := snd.snapshot()
	assert.Len(t, sent, 2)
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	d := retryDelay(cfg, 1)
	assert.GreaterOrEqual(t, d, 70*time.Millisecond)
	assert.LessOrEqual(t, d, 130*time.Millisecond)
}

func TestDedupKeyFallback(t *testing.T) {
	a := kit.Notification{Channel: "telegram", Target: kit.ChatTarget{ChatID: 1}, Text: "x"}
	b := a
	b.Text = "y"
	assert.NotEqual(t, dedupKey(a), dedupKey(b))
	assert.Equal(t, dedupKey(a), dedupKey(a))
	a.Channel = ""
	assert.Empty(t, dedupKey(a))
}
