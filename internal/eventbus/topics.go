package eventbus

// Event types published by the bot.
const (
	BirthdayAdded   = "birthday.added"
	BirthdayDeleted = "birthday.deleted"

	ReminderChecked = "reminder.checked"
	ReminderFailed  = "reminder.failed"

	NotifierQueued  = "notifier.queued"
	NotifierSent    = "notifier.sent"
	NotifierDeduped = "notifier.deduped"
	NotifierDropped = "notifier.dropped"
	NotifierFailed  = "notifier.failed"

	ConfigReloaded = "config.reloaded"
)

// BirthdayEvent is the payload of BirthdayAdded and BirthdayDeleted.
type BirthdayEvent struct {
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name"`
	Date   string `json:"date,omitempty"`
	By     int64  `json:"by,omitempty"`
}

// ReminderEvent is the payload of ReminderChecked and ReminderFailed.
type ReminderEvent struct {
	Date     string `json:"date"`
	Notified int    `json:"notified"`
	Error    string `json:"error,omitempty"`
}
