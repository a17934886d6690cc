package app

import (
	"strconv"
	"strings"
	"time"

	"birthdaybot/internal/config"
	"birthdaybot/internal/notifier"
	"birthdaybot/internal/reminder"
	"birthdaybot/internal/storage"
	logx "birthdaybot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.NotifierOrDefault()
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	r := cfg.Reminder
	timeout, err := config.ParseDurationField("reminder.timeout", r.Timeout)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{Enabled: r.IsEnabled(), Schedule: r.Schedule, Timeout: timeout}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// logTarget is the chat for mirrored logs (0 when unset). Validate has
// already rejected non-numeric ids.
func logTarget(cfg *config.Config) int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	return id
}

// validateRuntime checks what config.Validate cannot: schedule syntax and
// the mapped durations.
func validateRuntime(cfg *config.Config) error {
	if cfg.Reminder.IsEnabled() {
		if err := reminder.ValidateSchedule(cfg.Reminder.Schedule); err != nil {
			return err
		}
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, err := mapStorageConfig(cfg)
	return err
}
