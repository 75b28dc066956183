// Package store provides SQLite-backed durable state that lives beside a
// log: named consumer cursors and the history of compactions.
//
// A cursor records the next sequence an out-of-process consumer needs.
// Cursors never move backwards, and the minimum over all cursors is a
// compaction watermark: records at or above it are never removed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Results are ordered deterministically: cursors by name, compactions by
// insertion order.
package store
