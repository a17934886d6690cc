// Package storage is the persistence layer behind the birthday store.
//
// Three drivers implement Store:
//   - "file": the whole dataset as one JSON document, rewritten atomically
//     (temp file + fsync + rename) on every write
//   - "sqlite": one row per birthday keyed by "name:chatID", schema managed
//     by golang-migrate from embedded migrations
//   - "bolt": a bbolt file with one nested bucket per chat
//
// "memory" is the file driver without a backing file (tests, dry runs).
// Besides birthdays, a store keeps the notifier's dedup windows so a restart
// does not repeat a greeting.
package storage
