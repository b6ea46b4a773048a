// Package checkpoint persists learned bandit state.
//
// A Snapshot holds every arm's (A, b) statistics. It is encoded as JSON,
// optionally zstd-compressed, and written as a single blob to a Store:
// a local file, a SQLite row, or a NATS JetStream key-value entry.
// Manager adds per-call timeouts, tracing and metrics around a Store.
package checkpoint
