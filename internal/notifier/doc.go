// Package notifier delivers outbound chat messages that are not direct
// replies: birthday greetings and operator notices.
//
// Every notification goes through the same policy:
//
//   - a token-bucket rate limit shared by all senders
//   - bounded retries with jittered exponential backoff
//   - a dedup window keyed by Notification.DedupKey (or a content hash)
//
// Notify queues the message for a worker pool and returns immediately.
// Deliver sends in the caller's goroutine and reports the final outcome;
// the reminder uses it so a failed greeting is retried on the next check.
//
// When PersistDedup is set and a DedupStore is attached, suppression
// windows are written to storage after a successful send and consulted
// before sending, so a restart inside the window does not repeat a
// greeting.
package notifier
