package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"birthdaybot/internal/eventbus"
	logx "birthdaybot/pkg/logx"
)

type fakeChecker struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeChecker) CheckDue(ctx context.Context, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 1, f.err
}

func (f *fakeChecker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestParseSchedule(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		raw  string
		next time.Time
	}{
		{"", now.Add(time.Minute)},
		{"@every 30s", now.Add(30 * time.Second)},
		{"5m", now.Add(5 * time.Minute)},
		{"01:30", now.Add(90 * time.Minute)},
		{"0 9 * * *", time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)},
		{"@hourly", now.Add(time.Hour)},
	}
	for _, tt := range tests {
		s, err := ParseSchedule(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.next, s.Next(now), tt.raw)
	}

	for _, bad := range []string{"not-a-schedule", "100ms", "0 99 * * *", "01:75"} {
		assert.Error(t, ValidateSchedule(bad), bad)
	}
}

func TestStartRunsImmediatelyAndOnSchedule(t *testing.T) {
	chk := &fakeChecker{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true, Schedule: "@every 1s"}, chk, logx.Nop(), bus)
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())
	assert.False(t, s.NextRun().IsZero())

	require.Eventually(t, func() bool { return chk.count() >= 2 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Running())

	e := <-events
	assert.Equal(t, eventbus.ReminderChecked, e.Type)
	assert.Equal(t, 1, e.Data.(eventbus.ReminderEvent).Notified)
}

func TestFailurePublishesEvent(t *testing.T) {
	chk := &fakeChecker{err: errors.New("store down")}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{Enabled: true, Schedule: "1h"}, chk, logx.Nop(), bus)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	select {
	case e := <-events:
		assert.Equal(t, eventbus.ReminderFailed, e.Type)
		assert.Equal(t, "store down", e.Data.(eventbus.ReminderEvent).Error)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestDisabledAndApply(t *testing.T) {
	chk := &fakeChecker{}
	s := New(Config{Enabled: false}, chk, logx.Nop(), nil)
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Running())

	require.Error(t, s.Apply(context.Background(), Config{Enabled: true, Schedule: "bogus"}))
	assert.False(t, s.Running())

	require.NoError(t, s.Apply(context.Background(), Config{Enabled: true, Schedule: "1h"}))
	assert.True(t, s.Running())
	require.Eventually(t, func() bool { return chk.count() == 1 }, time.Second, 10*time.Millisecond)

	// Same schedule: no restart, no extra startup run.
	require.NoError(t, s.Apply(context.Background(), Config{Enabled: true, Schedule: " 1h "}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, chk.count())

	require.NoError(t, s.Apply(context.Background(), Config{Enabled: true, Schedule: "2h"}))
	require.Eventually(t, func() bool { return chk.count() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Apply(context.Background(), Config{Enabled: false}))
	assert.False(t, s.Running())
	assert.True(t, s.NextRun().IsZero())
}
