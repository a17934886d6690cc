package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule polls once a minute; the scheduler itself debounces per
// calendar day.
const DefaultSchedule = "@every 1m"

var (
	// SecondOptional allows both 5-field and 6-field (with seconds) specs.
	parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
)

// ParseSchedule accepts:
//   - cron specs and descriptors: "*/5 * * * *", "0 9 * * *", "@hourly", "@every 30s"
//   - a Go duration interval: "90s", "5m"
//   - an HH:MM interval: "01:30" (every 90 minutes)
//
// Empty means DefaultSchedule.
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultSchedule
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		sched, err := parser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", raw, err)
		}
		return sched, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		return every(time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute, raw)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '01:30', or a duration like '1m')", raw)
	}
	return every(d, raw)
}

func every(d time.Duration, raw string) (cron.Schedule, error) {
	if d < time.Second {
		return nil, fmt.Errorf("schedule %q: interval must be at least 1s", raw)
	}
	return cron.Every(d), nil
}

// ValidateSchedule is ParseSchedule without the result, for config
// validation.
func ValidateSchedule(raw string) error {
	_, err := ParseSchedule(raw)
	return err
}
