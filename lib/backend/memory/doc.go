// Package memory provides an in-memory store.Backend backed by a concurrent
// hash map.
//
// The backend holds entries in a xsync.MapOf keyed by the entry key. It is
// the default backend: fast, dependency-free at runtime and suitable for
// caches, tests and as the state container behind a replicated state machine.
//
// Expiration:
//
// The backend does not run a garbage collector. Expired entries stay in the
// map until they are overwritten, removed, or dropped by a snapshot export
// (which skips them). All read operations treat expired entries as absent,
// so staleness is never observable through the Backend interface.
//
// Snapshots:
//
// ExportLocked writes a versioned binary snapshot of all live entries,
// ImportLocked replaces the backend contents with a snapshot. Both are
// invoked by the lockstore controller under its global lock, so a snapshot
// is always a consistent point-in-time view.
package memory
