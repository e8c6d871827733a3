// Package lockstore implements store.IStore on top of a lib/striped
// LockSet and a pluggable store.Backend.
//
// Each operation acquires the minimal lock scope it needs, delegates to
// the corresponding backend hook while the lock is held, and releases the
// lock on every exit path (success or failure) before returning. Per-key
// operations lock a single stripe selected by the backend's lock-key
// projection; aggregate operations (LoadAll, LoadN, LoadKeys,
// ExportSnapshot, ImportSnapshot, Clear) take the global lock, shared for
// reads and exclusive for mutations. Global acquisitions are bounded by
// the configured timeout and fail with a RetCUnavailable error when it
// elapses, without touching the backend - a timed-out aggregate operation
// has no partial effect.
//
// Storing an already-expired entry is a deliberate special case: the entry
// is never persisted. Instead the store checks whether the backend holds
// an entry for that key and, if so, removes it through an independently
// locked Remove call. The existence check and the remove are two separate
// critical sections, so a writer storing a fresh value for the same key in
// between can lose it to the trailing remove of dead data's key; the
// window is narrow and the worst case is one redundant remove, never a
// corrupted entry. Collapsing the pair into a single write-locked
// check-and-remove would lengthen every expired store's lock hold and was
// intentionally not done.
package lockstore
