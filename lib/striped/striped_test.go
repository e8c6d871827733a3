package striped

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTotalLockCount(t *testing.T) {
	if n := New(16).TotalLockCount(); n != 16 {
		t.Errorf("expected 16 slots, got %d", n)
	}
	if n := New(0).TotalLockCount(); n != DefaultConcurrency {
		t.Errorf("expected default slot count %d, got %d", DefaultConcurrency, n)
	}
}

func TestReentrantAcquire(t *testing.T) {
	ls := New(8)
	o := ls.NewOwner()

	// Same owner may stack shared holds.
	ls.Acquire(o, "key", false)
	ls.Acquire(o, "key", false)
	ls.Release(o, "key")
	ls.Release(o, "key")

	// Same owner may stack exclusive holds.
	ls.Acquire(o, "key", true)
	if !ls.AcquireTimeout(o, "key", true, 0) {
		t.Error("reentrant exclusive acquire should succeed immediately")
	}
	ls.Release(o, "key")
	ls.Release(o, "key")

	// After full release another owner gets the slot.
	other := ls.NewOwner()
	if !ls.AcquireTimeout(other, "key", true, 0) {
		t.Error("slot should be free after all holds were released")
	}
	ls.Release(other, "key")
}

func TestExclusionBetweenOwners(t *testing.T) {
	ls := New(8)
	a := ls.NewOwner()
	b := ls.NewOwner()

	ls.Acquire(a, "key", true)
	if ls.AcquireTimeout(b, "key", false, 0) {
		t.Error("shared acquire should fail while another owner holds exclusive")
	}
	if ls.AcquireTimeout(b, "key", true, 0) {
		t.Error("exclusive acquire should fail while another owner holds exclusive")
	}
	ls.Release(a, "key")

	ls.Acquire(a, "key", false)
	if !ls.AcquireTimeout(b, "key", false, 0) {
		t.Error("two owners should share a slot in read mode")
	}
	if ls.AcquireTimeout(b, "key", true, 0) {
		t.Error("exclusive acquire should fail while shared holds exist")
	}
	ls.Release(a, "key")
	ls.Release(b, "key")
}

func TestAcquireTimeoutBound(t *testing.T) {
	ls := New(8)
	holder := ls.NewOwner()
	ls.Acquire(holder, "key", true)

	waiter := ls.NewOwner()
	start := time.Now()
	if ls.AcquireTimeout(waiter, "key", true, 50*time.Millisecond) {
		t.Fatal("acquisition should time out while the slot is held")
	}
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Errorf("returned before the timeout elapsed: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timed acquisition took far too long: %v", elapsed)
	}
	ls.Release(holder, "key")

	if !ls.AcquireTimeout(waiter, "key", true, 50*time.Millisecond) {
		t.Error("acquisition should succeed once the holder released")
	}
	ls.Release(waiter, "key")
}

func TestUpgradeDowngrade(t *testing.T) {
	ls := New(8)
	o := ls.NewOwner()

	ls.Acquire(o, "key", false)
	ls.Upgrade(o, "key")

	other := ls.NewOwner()
	if ls.AcquireTimeout(other, "key", false, 0) {
		t.Error("upgraded lock should exclude shared acquisitions")
	}

	ls.Downgrade(o, "key")
	if !ls.AcquireTimeout(other, "key", false, 0) {
		t.Error("downgraded lock should admit shared acquisitions")
	}
	if ls.AcquireTimeout(other, "key", true, 0) {
		t.Error("downgraded lock should still exclude exclusive acquisitions")
	}
	ls.Release(other, "key")
	ls.Release(o, "key")

	if !ls.AcquireTimeout(other, "key", true, 0) {
		t.Error("slot should be free after the downgraded holder released")
	}
	ls.Release(other, "key")
}

// Two shared holders upgrading the same slot concurrently: exclusivity is
// granted to one owner at a time, and both upgrades eventually complete.
func TestConcurrentUpgrades(t *testing.T) {
	ls := New(1) // single slot forces the collision
	var inCritical atomic.Int32
	var maxSeen atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := ls.NewOwner()
			ls.Acquire(o, "key", false)
			ls.Upgrade(o, "key")

			n := inCritical.Add(1)
			for {
				seen := maxSeen.Load()
				if n <= seen || maxSeen.CompareAndSwap(seen, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inCritical.Add(-1)

			ls.Release(o, "key")
		}()
	}
	wg.Wait()

	if maxSeen.Load() != 1 {
		t.Errorf("expected at most one upgraded holder at a time, saw %d", maxSeen.Load())
	}
}

func TestGlobalLockExcludesPerKey(t *testing.T) {
	ls := New(16)
	g := ls.NewOwner()
	if !ls.AcquireGlobal(g, true, time.Second) {
		t.Fatal("global acquisition on an idle set should succeed")
	}

	o := ls.NewOwner()
	if ls.AcquireTimeout(o, "any-key", false, 0) {
		t.Error("per-key shared acquire should fail under a global exclusive lock")
	}
	ls.ReleaseGlobal(g)

	if !ls.AcquireTimeout(o, "any-key", true, 0) {
		t.Error("per-key acquire should succeed after global release")
	}
	ls.Release(o, "any-key")
}

func TestGlobalSharedCompatibility(t *testing.T) {
	ls := New(16)
	g1 := ls.NewOwner()
	g2 := ls.NewOwner()

	if !ls.AcquireGlobal(g1, false, time.Second) {
		t.Fatal("first global shared acquisition should succeed")
	}
	if !ls.AcquireGlobal(g2, false, time.Second) {
		t.Error("two global shared acquisitions should coexist")
	}

	// A per-key reader is compatible, a per-key writer is not.
	r := ls.NewOwner()
	if !ls.AcquireTimeout(r, "key", false, 0) {
		t.Error("per-key shared acquire should succeed under global shared locks")
	}
	w := ls.NewOwner()
	if ls.AcquireTimeout(w, "key", true, 0) {
		t.Error("per-key exclusive acquire should fail under global shared locks")
	}

	ls.Release(r, "key")
	ls.ReleaseGlobal(g1)
	ls.ReleaseGlobal(g2)
}

// A failed global acquisition must leave no slot held.
func TestGlobalTimeoutReleasesPartialHolds(t *testing.T) {
	ls := New(16)
	holder := ls.NewOwner()
	ls.Acquire(holder, "blocking-key", true)

	g := ls.NewOwner()
	if ls.AcquireGlobal(g, true, 50*time.Millisecond) {
		t.Fatal("global acquisition should fail while a slot is write-held")
	}

	// Every slot the failed sweep touched must be free again: a second
	// owner can still take any key that is not the blocked one.
	probe := ls.NewOwner()
	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		if ls.slotFor(key) == ls.slotFor("blocking-key") {
			continue
		}
		if !ls.AcquireTimeout(probe, key, true, time.Second) {
			t.Fatalf("slot for %q still held after failed global acquisition", key)
		}
		ls.Release(probe, key)
	}

	ls.Release(holder, "blocking-key")
	if !ls.AcquireGlobal(g, true, time.Second) {
		t.Error("global acquisition should succeed once the holder released")
	}
	ls.ReleaseGlobal(g)
}

// Many concurrent global acquirers mixed with per-key traffic: everything
// terminates because all global sweeps follow the same slot order.
func TestGlobalContentionNoDeadlock(t *testing.T) {
	ls := New(8)
	keys := []string{"alpha", "beta", "gamma", "delta"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(exclusive bool) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				o := ls.NewOwner()
				if ls.AcquireGlobal(o, exclusive, 5*time.Second) {
					ls.ReleaseGlobal(o)
				}
			}
		}(i%2 == 0)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				o := ls.NewOwner()
				ls.Acquire(o, key, n%2 == 0)
				ls.Release(o, key)
			}
		}(keys[i%len(keys)])
	}
	wg.Wait()
}

func TestReleaseWithoutHoldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("releasing a slot that is not held should panic")
		}
	}()
	ls := New(8)
	ls.Release(ls.NewOwner(), "key")
}

func TestSameKeySameSlot(t *testing.T) {
	ls := New(4)
	a := ls.NewOwner()
	b := ls.NewOwner()

	// Deterministic mapping: the same key always selects the same slot, so
	// an exclusive hold by one owner blocks the other on that key.
	ls.Acquire(a, "stable-key", true)
	if ls.AcquireTimeout(b, "stable-key", true, 0) {
		t.Error("same key must map to the same slot on every call")
	}
	ls.Release(a, "stable-key")
}
