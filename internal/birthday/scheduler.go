package birthday

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "birthdaybot/pkg/logx"
)

// Sink receives one due-today event per matching record.
type Sink interface {
	Notify(ctx context.Context, chatID int64, name string, date Date) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, chatID int64, name string, date Date) error

func (f SinkFunc) Notify(ctx context.Context, chatID int64, name string, date Date) error {
	return f(ctx, chatID, name, date)
}

type checkDateKey struct{}

// WithCheckDate attaches the calendar date a due check is running for.
func WithCheckDate(ctx context.Context, d Date) context.Context {
	return context.WithValue(ctx, checkDateKey{}, d)
}

// CheckDate returns the date set by WithCheckDate. Sinks use it instead of
// their own clock so a check that crosses midnight keeps its day.
func CheckDate(ctx context.Context) (Date, bool) {
	d, ok := ctx.Value(checkDateKey{}).(Date)
	return d, ok
}

// DueSource answers day/month queries. *Store satisfies it.
type DueSource interface {
	ByDayMonth(ctx context.Context, day, month int) ([]Record, error)
}

// Scheduler runs at most one successful due check per calendar date.
// The last-checked date only advances when the query and every Notify
// succeeded, so a failed check is repeated on the next call.
type Scheduler struct {
	source DueSource
	sink   Sink
	log    logx.Logger

	mu      sync.Mutex
	last    Date
	checked bool
}

func NewScheduler(source DueSource, sink Sink, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{source: source, sink: sink, log: log}
}

// CheckDue notifies the sink about birthdays on now's calendar date and
// returns how many notifications were accepted. Repeated calls for an
// already processed date are no-ops.
func (s *Scheduler) CheckDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := DateOf(now)
	if s.checked && s.last == today {
		return 0, nil
	}

	due, err := s.source.ByDayMonth(ctx, today.Day, int(today.Month))
	if err != nil {
		return 0, err
	}

	nctx := WithCheckDate(ctx, today)
	sent := 0
	var errs []error
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.sink.Notify(nctx, r.ChatID, r.Name, r.Date); err != nil {
			s.log.Warn("due notify failed",
				logx.String("key", r.Key()),
				logx.Err(err),
			)
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if len(errs) > 0 {
		return sent, errors.Join(errs...)
	}

	s.last, s.checked = today, true
	if len(due) > 0 {
		s.log.Info("due check done", logx.String("date", today.String()), logx.Int("sent", sent))
	}
	return sent, nil
}

// LastChecked returns the last successfully processed date.
func (s *Scheduler) LastChecked() (Date, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.checked
}
