// Package birthday holds the birthday records and the due-date logic.
//
// Store validates input, keeps (name, chat) unique and answers chat,
// global and day/month queries through a storage backend. Scheduler turns a
// clock reading into at most one successful round of due-today
// notifications per calendar date. NextOccurrence and DaysUntil compute the
// next anniversary of a day/month pair relative to a reference date.
package birthday
