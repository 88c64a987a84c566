// Package store provides SQLite-backed persistence for the script host.
//
// Two tables are kept:
//   - sync_data: opaque GetSyncData payloads, zstd-compressed, keyed by
//     handle name and frame, with a sha256 digest of the raw payload
//   - faults: every failed call-in of every handle half, in arrival order
//
// Ordering always uses the seq column (a logical clock), never timestamps,
// so two runs of the same scenario produce identical tables.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Open(":memory:") gives a private in-memory database, used by tests.
package store
