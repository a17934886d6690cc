package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "20h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
	Locale   LocaleConfig   `json:"locale"`

	// Notifier may be omitted; runtime defaults apply (see DefaultNotifier).
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via BIRTHDAYBOT_TOKEN.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
	// GroupLog is the chat id that receives log lines when
	// logging.telegram.enabled is set.
	GroupLog string `json:"group_log"`
	// Commands registered in the client command menu on startup.
	SetCommands bool `json:"set_commands,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the birthday store.
//
//	"storage": { "driver": "sqlite", "path": "./data/birthdays.db" }
//
// Drivers: "file" (JSON document), "sqlite", "bolt", "memory".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ReminderConfig controls the due-date check loop.
//
// Schedule accepts a 5-field cron spec, a descriptor ("@hourly") or
// "@every <duration>". Empty means "@every 1m".
type ReminderConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	// Priority is passed to the notifier for greetings (0 normal, >0 high).
	Priority int `json:"priority,omitempty"`
	// Timeout bounds one due check. Empty means 30s.
	Timeout string `json:"timeout,omitempty"`
}

// IsEnabled defaults to true when omitted.
func (r ReminderConfig) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// LocaleConfig selects reply languages. Default applies when the sender's
// client language is unknown or unsupported.
type LocaleConfig struct {
	Default string `json:"default,omitempty"`
	// Force ignores the sender's client language.
	Force bool `json:"force,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// DefaultNotifier is used when the notifier section is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "20h",
		DedupMaxEntries: 2000,
		PersistDedup:    true,
	}
}

// NotifierOrDefault never returns nil.
func (c *Config) NotifierOrDefault() NotifierConfig {
	if c == nil || c.Notifier == nil {
		return DefaultNotifier()
	}
	return *c.Notifier
}
