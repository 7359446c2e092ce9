// Package store provides the SQLite-backed installed database.
//
// The database is a content-addressed set of install records keyed by the
// full dag hash of a concrete spec:
//   - specs: one row per installed node, holding its canonical node record
//   - dependencies: parent/child edges between installed nodes
//
// # Invariants
//
// Records are immutable. Inserting a hash that is already present is a
// no-op and reports inserted=false; a record is never overwritten.
//
// A node is inserted only after every dependency it references, enforced
// by foreign keys.
//
// The node record stored for a hash re-hashes to that hash. Reads verify
// this, so a corrupted row is reported instead of silently returned.
//
// Results are ordered by seq (insertion order), then hash.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
