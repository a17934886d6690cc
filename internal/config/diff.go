package config

import (
	"sort"
	"strings"

	logx "birthdaybot/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and log fields describing
// the new values. Secrets (the bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, diff bool, fields ...logx.Field) {
		if !diff {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	section("telegram",
		ot.Token != nt.Token ||
			strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
			strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
			ot.SetCommands != nt.SetCommands,
		logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
	)

	section("logging", oldCfg.Logging != newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.console", newCfg.Logging.Console),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
	)

	ost, nst := oldCfg.Storage, newCfg.Storage
	section("storage",
		strings.TrimSpace(ost.Driver) != strings.TrimSpace(nst.Driver) ||
			strings.TrimSpace(ost.Path) != strings.TrimSpace(nst.Path) ||
			strings.TrimSpace(ost.BusyTimeout) != strings.TrimSpace(nst.BusyTimeout),
		logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
		logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
	)

	or, nr := oldCfg.Reminder, newCfg.Reminder
	section("reminder",
		or.IsEnabled() != nr.IsEnabled() ||
			strings.TrimSpace(or.Schedule) != strings.TrimSpace(nr.Schedule) ||
			or.Priority != nr.Priority ||
			strings.TrimSpace(or.Timeout) != strings.TrimSpace(nr.Timeout),
		logx.Bool("reminder.enabled", nr.IsEnabled()),
		logx.String("reminder.schedule", strings.TrimSpace(nr.Schedule)),
		logx.Int("reminder.priority", nr.Priority),
	)

	section("locale", oldCfg.Locale != newCfg.Locale,
		logx.String("locale.default", newCfg.Locale.Default),
		logx.Bool("locale.force", newCfg.Locale.Force),
	)

	on, nn := oldCfg.NotifierOrDefault(), newCfg.NotifierOrDefault()
	section("notifier", on != nn,
		logx.Bool("notifier.enabled", nn.Enabled),
		logx.Int("notifier.workers", nn.Workers),
		logx.Int("notifier.rate_per_sec", nn.RatePerSec),
		logx.String("notifier.dedup_window", nn.DedupWindow),
		logx.Bool("notifier.persist_dedup", nn.PersistDedup),
	)

	sort.Strings(changed)
	return changed, attrs
}
