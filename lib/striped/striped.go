package striped

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
)

// DefaultConcurrency is the slot count used when New is called with a
// non-positive value.
const DefaultConcurrency = 32

// Owner identifies a logical lock holder. Tokens must be obtained from
// LockSet.NewOwner; the zero value is reserved and never issued.
type Owner uint64

// LockSet is a fixed array of mutually independent read/write lock slots.
// A lock key selects its slot via hash(lockKey) mod slot count; the mapping
// is pure and stable for the lifetime of the set.
type LockSet struct {
	slots []*slot
	seq   atomic.Uint64
}

// New creates a LockSet with the given number of slots. The slot count is
// fixed for the lifetime of the set; a non-positive count falls back to
// DefaultConcurrency.
func New(concurrency int) *LockSet {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	slots := make([]*slot, concurrency)
	for i := range slots {
		slots[i] = newSlot()
	}
	return &LockSet{slots: slots}
}

// NewOwner issues a fresh owner token. Tokens are never reused.
func (ls *LockSet) NewOwner() Owner {
	return Owner(ls.seq.Add(1))
}

// TotalLockCount returns the number of slots, for diagnostics and tuning.
func (ls *LockSet) TotalLockCount() int {
	return len(ls.slots)
}

// slotFor maps a lock key to its slot.
//
// Thread-safety: pure function over immutable state, safe for concurrent use.
func (ls *LockSet) slotFor(lockKey string) *slot {
	return ls.slots[xxh3.HashString(lockKey)%uint64(len(ls.slots))]
}

// Acquire blocks until the slot selected by lockKey is available to the
// owner in the requested mode. Re-acquisition by the same owner succeeds
// immediately.
func (ls *LockSet) Acquire(o Owner, lockKey string, exclusive bool) {
	ls.slotFor(lockKey).acquire(o, exclusive, -1)
}

// AcquireTimeout is like Acquire but gives up once the timeout elapses,
// returning false with nothing held. A timeout of 0 attempts the
// acquisition exactly once without waiting.
func (ls *LockSet) AcquireTimeout(o Owner, lockKey string, exclusive bool, timeout time.Duration) bool {
	return ls.slotFor(lockKey).acquire(o, exclusive, timeout)
}

// Release releases whatever hold the owner currently has on the slot for
// lockKey: a shared hold is released before an exclusive one. Releasing a
// slot the owner does not hold panics.
func (ls *LockSet) Release(o Owner, lockKey string) {
	ls.slotFor(lockKey).release(o)
}

// Upgrade converts a held shared lock into an exclusive lock on the same
// slot. The shared hold is dropped first and the exclusive acquisition then
// blocks until every other holder is gone; between the two steps other
// owners may briefly acquire the slot. When several shared holders upgrade
// concurrently, the slot grants exclusivity to one owner at a time and the
// rest block until it releases or downgrades.
func (ls *LockSet) Upgrade(o Owner, lockKey string) {
	s := ls.slotFor(lockKey)
	s.releaseShared(o)
	s.acquire(o, true, -1)
}

// Downgrade atomically converts one exclusive hold into a shared hold on
// the same slot. Downgrading without an exclusive hold panics.
func (ls *LockSet) Downgrade(o Owner, lockKey string) {
	ls.slotFor(lockKey).downgrade(o)
}

// AcquireGlobal acquires every slot in ascending index order in the
// requested mode, applying the timeout to each slot acquisition. If any
// slot cannot be acquired in time, all slots acquired so far are released
// and false is returned; no partial global lock is ever left held.
func (ls *LockSet) AcquireGlobal(o Owner, exclusive bool, timeout time.Duration) bool {
	for i, s := range ls.slots {
		if !s.acquire(o, exclusive, timeout) {
			for j := i - 1; j >= 0; j-- {
				ls.slots[j].release(o)
			}
			return false
		}
	}
	return true
}

// ReleaseGlobal releases the owner's hold on every slot. Release order is
// irrelevant for correctness since no further acquisition depends on it.
func (ls *LockSet) ReleaseGlobal(o Owner) {
	for _, s := range ls.slots {
		s.release(o)
	}
}

// --------------------------------------------------------------------------
// Slot Implementation
// --------------------------------------------------------------------------

// slot is one reentrant read/write lock. State transitions happen under mu;
// waiters block on the changed channel, which is closed and replaced on
// every release so that all waiters re-evaluate grantability.
type slot struct {
	mu      sync.Mutex
	readers map[Owner]int // shared hold count per owner
	writer  Owner         // 0 when no exclusive holder
	wHold   int           // exclusive hold count of writer
	changed chan struct{}
}

func newSlot() *slot {
	return &slot{
		readers: make(map[Owner]int),
		changed: make(chan struct{}),
	}
}

// grantable reports whether the owner could take the slot in the requested
// mode right now. Callers must hold mu.
func (s *slot) grantable(o Owner, exclusive bool) bool {
	if exclusive {
		if s.writer == o {
			return true
		}
		if s.writer != 0 {
			return false
		}
		// Granted when no readers remain, or when the requester is the
		// sole remaining reader (in-place upgrade).
		if len(s.readers) == 0 {
			return true
		}
		return len(s.readers) == 1 && s.readers[o] > 0
	}
	// Shared: granted unless a different owner holds the slot exclusively.
	// The exclusive holder itself may add a shared hold (downgrade path).
	return s.writer == 0 || s.writer == o
}

// take records a granted acquisition. Callers must hold mu.
func (s *slot) take(o Owner, exclusive bool) {
	if exclusive {
		if s.writer == o {
			s.wHold++
		} else {
			s.writer = o
			s.wHold = 1
		}
	} else {
		s.readers[o]++
	}
}

// acquire blocks until the slot is granted or the timeout elapses.
// timeout < 0 blocks indefinitely, timeout == 0 tries exactly once.
func (s *slot) acquire(o Owner, exclusive bool, timeout time.Duration) bool {
	var timer *time.Timer
	var expired <-chan time.Time

	for {
		s.mu.Lock()
		if s.grantable(o, exclusive) {
			s.take(o, exclusive)
			s.mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			return true
		}
		ch := s.changed
		s.mu.Unlock()

		if timeout == 0 {
			return false
		}
		if timeout > 0 && timer == nil {
			timer = time.NewTimer(timeout)
			expired = timer.C
		}

		select {
		case <-ch:
			// State changed, re-evaluate.
		case <-expired:
			return false
		}
	}
}

// broadcast wakes every waiter. Callers must hold mu.
func (s *slot) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *slot) release(o Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.readers[o]; n > 0 {
		if n == 1 {
			delete(s.readers, o)
		} else {
			s.readers[o] = n - 1
		}
		s.broadcast()
		return
	}
	if s.writer == o {
		s.wHold--
		if s.wHold == 0 {
			s.writer = 0
		}
		s.broadcast()
		return
	}
	panic("striped: release of a slot that is not held")
}

// releaseShared drops exactly one shared hold, panicking if there is none.
// Used by the upgrade path, which must not accidentally release a write hold.
func (s *slot) releaseShared(o Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.readers[o]
	if n == 0 {
		panic("striped: upgrade without a held shared lock")
	}
	if n == 1 {
		delete(s.readers, o)
	} else {
		s.readers[o] = n - 1
	}
	s.broadcast()
}

func (s *slot) downgrade(o Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != o {
		panic("striped: downgrade without a held exclusive lock")
	}
	s.wHold--
	if s.wHold == 0 {
		s.writer = 0
	}
	s.readers[o]++
	s.broadcast()
}
