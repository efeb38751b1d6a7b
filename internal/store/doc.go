// Package store provides SQLite-backed durable storage for datagate.
//
// Two tables live in one database:
//   - events: the append-only journal written by insight.Journal
//   - configs: canonical container settings written by the catalog director
//
// # Ordering
//
// Journal reads are ordered by seq, the logical clock value assigned when
// the event was emitted, never by wall-clock time.
//
// # Config labels
//
// Qualifiers and names must match the schema name pattern of
// command.IsValidLabel; a stored configuration is addressed by its
// locator "qualifier##name".
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
