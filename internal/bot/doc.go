// Package bot is the chat front end: it parses slash commands, dispatches
// them through a worker pool to the birthday handlers and formats
// greetings for the reminder.
package bot
