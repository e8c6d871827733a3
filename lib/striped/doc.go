// Package striped implements a fixed-size set of read/write lock slots
// ("stripes") shared by an unbounded key space. Rather than allocating one
// lock object per distinct key, keys are mapped onto a bounded array of
// reusable locks via a hash function. Hash collisions reduce concurrency
// (unrelated keys may serialize on the same slot) but never correctness,
// since a collision only ever means extra exclusion, not missed exclusion.
//
// Core Functionality:
//   - Per-key shared (read) and exclusive (write) acquisition, with
//     blocking, timed and try-once variants
//   - Lock upgrade (shared to exclusive) and downgrade (exclusive to shared)
//   - A global lock spanning every slot, used by whole-store operations
//     that need a consistent view across all keys
//
// Ownership Model:
//
//	Go provides no goroutine identity, so reentrancy is tracked per logical
//	owner instead of per thread. Every acquisition names an Owner token
//	obtained from LockSet.NewOwner(); the same owner may re-acquire a slot
//	it already holds, while distinct owners exclude each other under the
//	usual read/write rules. A caller performing one logical operation uses
//	one owner for all acquisitions of that operation (including a global
//	acquisition, which spans every slot under a single owner).
//
// Deadlock Avoidance:
//
//	The global lock is not a separate lock object. It is a coordinated
//	acquisition of all slots in ascending index order - the same total
//	order for every caller. Per-key acquirers only ever touch a single
//	slot, so they cannot form an ordering cycle; concurrent global
//	acquirers serialize through the identical sweep order. A timed global
//	acquisition that fails on any slot releases everything it already
//	holds before returning, leaving no partial global lock behind.
//
// Misuse (releasing a slot the owner does not hold, upgrading without a
// shared hold) indicates a bug in the calling code and panics, matching
// the behaviour of sync.RWMutex for unlock-without-lock.
package striped
