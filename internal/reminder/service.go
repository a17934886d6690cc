// Package reminder runs the birthday due check on a cron schedule.
package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"birthdaybot/internal/birthday"
	"birthdaybot/internal/eventbus"
	logx "birthdaybot/pkg/logx"
)

const defaultTimeout = 30 * time.Second

// Checker is the due-date scheduler.
type Checker interface {
	CheckDue(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	Enabled  bool
	Schedule string
	// Timeout bounds one check (default 30s).
	Timeout time.Duration
}

// Service calls Checker.CheckDue once on Start and then on every tick of
// the schedule. Overlapping ticks are skipped.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	checker Checker
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	parent context.Context
	runCtx context.Context
	cancel context.CancelFunc
	c      *cron.Cron
	wg     sync.WaitGroup
}

// New builds a stopped service. bus may be nil.
func New(cfg Config, checker Checker, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{cfg: cfg, checker: checker, log: log, bus: bus, now: time.Now}
}

// Start schedules the check and runs it once right away in the
// background. It is a no-op when disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled || s.parent == nil {
		return nil
	}
	sched, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}

	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.Local),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		cron.WithLogger(clog),
	)
	runCtx, cancel := context.WithCancel(s.parent)
	c.Schedule(sched, cron.FuncJob(func() { s.runOnce(runCtx, "schedule") }))

	s.c, s.runCtx, s.cancel = c, runCtx, cancel
	c.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOnce(runCtx, "startup")
	}()

	schedule := strings.TrimSpace(s.cfg.Schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s.log.Info("reminder started", logx.String("schedule", schedule), logx.Duration("timeout", s.timeout()))
	return nil
}

// Stop halts the schedule and waits for a running check until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel, s.runCtx = nil, nil, nil
	s.mu.Unlock()
	return s.stop(ctx, c, cancel)
}

func (s *Service) stop(ctx context.Context, c *cron.Cron, cancel context.CancelFunc) error {
	if c == nil {
		return nil
	}
	cronDone := c.Stop().Done()
	done := make(chan struct{})
	go func() {
		<-cronDone
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		s.log.Info("reminder stopped")
		return nil
	case <-ctx.Done():
		// Abort the in-flight check.
		cancel()
		return ctx.Err()
	}
}

// Apply swaps the configuration, restarting the schedule when it changed.
// An invalid schedule keeps the current one running.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	if cfg.Enabled {
		if _, err := ParseSchedule(cfg.Schedule); err != nil {
			return err
		}
	}
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	restart := running && (!cfg.Enabled || strings.TrimSpace(old.Schedule) != strings.TrimSpace(cfg.Schedule))
	var (
		c      *cron.Cron
		cancel context.CancelFunc
	)
	if restart {
		c, cancel = s.c, s.cancel
		s.c, s.cancel, s.runCtx = nil, nil, nil
	}
	s.mu.Unlock()

	if restart {
		if err := s.stop(ctx, c, cancel); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

// Running reports whether the schedule is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// NextRun is the next scheduled tick (zero when stopped).
func (s *Service) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	for _, e := range s.c.Entries() {
		return e.Next
	}
	return time.Time{}
}

func (s *Service) timeout() time.Duration {
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return defaultTimeout
}

func (s *Service) runOnce(ctx context.Context, trigger string) {
	s.mu.Lock()
	timeout := s.timeout()
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := s.now()
	start := time.Now()
	n, err := s.checker.CheckDue(cctx, now)
	date := birthday.DateOf(now).String()
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		s.log.Warn("due check failed; will retry", logx.String("trigger", trigger), logx.String("date", date), logx.Int("notified", n), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.ReminderFailed, Data: eventbus.ReminderEvent{Date: date, Notified: n, Error: err.Error()}})
		return
	}
	s.log.Debug("due check ok", logx.String("trigger", trigger), logx.String("date", date), logx.Int("notified", n), logx.Duration("dur", time.Since(start)))
	s.bus.Publish(eventbus.Event{Type: eventbus.ReminderChecked, Data: eventbus.ReminderEvent{Date: date, Notified: n}})
}

// cronLogger adapts logx to cron.Logger. cron's Info lines are per tick,
// so they go to trace.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
