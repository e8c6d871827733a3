// Package store defines the contracts of the locking store layer: the
// public operation surface (IStore), the pluggable persistence backend the
// store delegates to (Backend), the persisted Entry type, the locking
// configuration and a unified error system.
//
// The package focuses on:
//   - A unified interface (IStore) whose operations are safe for arbitrary
//     concurrent callers, including replicated-command execution threads
//   - A pluggable backend architecture: backends implement the *Locked
//     delegation hooks plus a key-to-lock-key projection, and are always
//     invoked while the store holds the appropriate lock scope
//
// Key Components:
//
//   - IStore Interface: the nine store operations together with the lock
//     scope each one acquires. Per-key reads and writes lock a single
//     stripe; aggregate operations (LoadAll, snapshots, Clear) take a
//     global lock so they observe a consistent, isolated view of the
//     whole store.
//
//   - Backend Interface: the delegation seam. Backends never lock keys
//     themselves; the store guarantees the documented lock scope is held
//     for the full duration of each hook. This makes backend substitution
//     a first-class, testable concern (see lib/backend/testing).
//
//   - Error System: typed return codes distinguish "the backend failed"
//     (errors from hooks propagate unchanged) from "the store could not
//     be locked in time" (RetCUnavailable, safe to retry) and from
//     start-up configuration failures (RetCInvalidConfig).
//
// Implementations:
//
//	The locking implementation of IStore lives in
//	"github.com/cachekit/stripekv/lib/store/lockstore". Backends are
//	provided under "github.com/cachekit/stripekv/lib/backend". The
//	replicated-command apply boundary over an IStore is in
//	"github.com/cachekit/stripekv/lib/store/rsm".
package store
