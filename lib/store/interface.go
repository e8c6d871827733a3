package store

import (
	"fmt"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Entry is the persisted unit: a key, a value and optional expiry metadata.
type Entry struct {
	Key   string
	Value []byte
	// ExpiresAt is an absolute expiry timestamp in unix milliseconds.
	// Zero means the entry never expires.
	ExpiresAt int64
}

// CanExpire reports whether the entry carries expiry metadata.
func (e Entry) CanExpire() bool {
	return e.ExpiresAt != 0
}

// Expired reports whether the entry is expired relative to the given wall
// clock time (unix milliseconds).
func (e Entry) Expired(nowMillis int64) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt <= nowMillis
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the locking parameters of a store. Both values are fixed for
// the store's lifetime once it has been created.
type Config struct {
	// Concurrency is the number of lock stripes. More stripes mean fewer
	// hash collisions between unrelated keys at the cost of a longer
	// global-lock sweep.
	Concurrency int
	// GlobalLockTimeout bounds the wait for each slot during a global
	// acquisition. Aggregate operations fail with an unavailable error
	// when it elapses.
	GlobalLockTimeout time.Duration
}

// DefaultConfig returns the configuration used by the CLI when nothing else
// is specified.
func DefaultConfig() Config {
	return Config{
		Concurrency:       32,
		GlobalLockTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration. A store must refuse to start on an
// invalid configuration rather than defer the failure to first use.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return NewError(RetCInvalidConfig, fmt.Sprintf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.GlobalLockTimeout <= 0 {
		return NewError(RetCInvalidConfig, fmt.Sprintf("global lock timeout must be positive, got %v", c.GlobalLockTimeout))
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// BackendFactory is a function type that creates a new Backend instance.
// It abstracts backend construction away from the code wiring up a store,
// e.g. the replicated state machine factory.
type BackendFactory func() Backend

// IStore is the public operation surface of a locking store. Every
// operation acquires the minimal lock scope it needs (a single stripe for
// per-key operations, the global lock for aggregate ones), delegates to the
// backend while the lock is held, and releases the lock on every exit path.
//
// Operations return either their result, a lock-unavailable *Error (the
// global lock could not be acquired in time; safe to retry), or an error
// from the backend (propagated unchanged). Callers can always distinguish
// "store is empty" from "store could not be locked".
type IStore interface {
	// Load returns the entry for a key. The boolean reports whether a live
	// entry was found. Lock scope: single stripe, shared.
	Load(key string) (e Entry, found bool, err error)

	// LoadAll returns every live entry. Lock scope: global, shared.
	LoadAll() ([]Entry, error)

	// LoadN returns at most maxEntries live entries. A negative maxEntries
	// means unbounded and is equivalent to LoadAll. Lock scope: global,
	// shared.
	LoadN(maxEntries int) ([]Entry, error)

	// LoadKeys returns the keys of all live entries, omitting those in
	// exclude. Lock scope: global, shared.
	LoadKeys(exclude map[string]struct{}) ([]string, error)

	// Store persists an entry. An entry that is already expired is never
	// persisted; instead any existing entry for its key is removed.
	// Lock scope: single stripe, exclusive.
	Store(e Entry) error

	// Remove deletes the entry for a key, reporting whether one existed.
	// Lock scope: single stripe, exclusive.
	Remove(key string) (existed bool, err error)

	// Clear removes every entry. All-or-nothing relative to concurrent
	// per-key operations. Lock scope: global, exclusive.
	Clear() error

	// ExportSnapshot writes the backend's content to w in a format the
	// backend can round-trip through ImportSnapshot. Entries expired at
	// export time are omitted. Lock scope: global, shared.
	ExportSnapshot(w io.Writer) error

	// ImportSnapshot replaces the backend's content with a previously
	// exported snapshot. Lock scope: global, exclusive.
	ImportSnapshot(r io.Reader) error

	// TotalLockCount returns the configured stripe count, for diagnostics.
	TotalLockCount() int
}

// Backend is the pluggable persistence implementation a locking store
// delegates to. Every *Locked method is invoked while the store holds the
// lock scope documented on the corresponding IStore operation; backends
// must not perform additional conflicting locking on the same keys.
//
// Per-key methods receive the lock key the store computed so they may reuse
// it, e.g. as a partition selector.
type Backend interface {
	// LockKey maps a cache key to the lock key used for stripe selection.
	// The mapping must be total, deterministic and stable across calls;
	// the only permitted failure is a store error for a malformed key.
	LockKey(key string) (string, error)

	// LoadLocked returns the live entry for a key, if any.
	LoadLocked(key, lockKey string) (Entry, bool, error)

	// StoreLocked persists an entry, overwriting any previous one.
	StoreLocked(e Entry, lockKey string) error

	// RemoveLocked deletes the entry for a key, reporting whether one
	// existed.
	RemoveLocked(key, lockKey string) (existed bool, err error)

	// ClearLocked removes every entry.
	ClearLocked() error

	// LoadAllLocked returns every live entry.
	LoadAllLocked() ([]Entry, error)

	// LoadNLocked returns at most maxEntries live entries (maxEntries >= 0).
	LoadNLocked(maxEntries int) ([]Entry, error)

	// LoadKeysLocked returns the keys of all live entries not in exclude.
	LoadKeysLocked(exclude map[string]struct{}) ([]string, error)

	// ExportLocked writes a snapshot of the backend's content to w.
	ExportLocked(w io.Writer) error

	// ImportLocked replaces the backend's content with the snapshot read
	// from r.
	ImportLocked(r io.Reader) error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type for store-level failures. Backend errors are
// never wrapped in it; they propagate to callers unchanged.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsUnavailable reports whether err signals that the store was temporarily
// unavailable, either because a lock could not be acquired in time or
// because a remote backend was unreachable. Such failures are safe to retry.
func IsUnavailable(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Code == RetCUnavailable
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                   // 1: Operation failed due to an internal error.
	RetCUnavailable                     // 2: A lock could not be acquired within its deadline, or a remote backend was unreachable.
	RetCInvalidConfig                   // 3: Store configuration missing or invalid at start-up.
	RetCInvalidOperation                // 4: Unknown or malformed operation (integration bug).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnavailable:
		return "Unavailable"
	case RetCInvalidConfig:
		return "InvalidConfig"
	case RetCInvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}
