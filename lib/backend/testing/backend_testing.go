package testing

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cachekit/stripekv/lib/store"
	"github.com/cachekit/stripekv/lib/store/lockstore"
)

// RunBackendTests runs a comprehensive test suite for a store.Backend
// implementation. The backend is exercised through the lockstore controller,
// so the suite verifies the full contract a backend has to uphold: keyed
// operations, aggregate operations, the expired-entry policy and snapshot
// round-trips.
func RunBackendTests(t *testing.T, name string, factory store.BackendFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Store&Load", func(t *testing.T) {
			testStoreLoad(t, newStore(t, factory))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, newStore(t, factory))
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, newStore(t, factory))
		})

		t.Run("LoadAll&LoadN", func(t *testing.T) {
			testLoadAllLoadN(t, newStore(t, factory))
		})

		t.Run("LoadKeys", func(t *testing.T) {
			testLoadKeys(t, newStore(t, factory))
		})

		t.Run("Expiry", func(t *testing.T) {
			testExpiry(t, newStore(t, factory))
		})

		t.Run("Snapshot", func(t *testing.T) {
			testSnapshot(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, newStore(t, factory))
		})

		t.Run("ConcurrentStores", func(t *testing.T) {
			testConcurrentStores(t, newStore(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newStore(t testing.TB, factory store.BackendFactory) store.IStore {
	t.Helper()
	s, err := lockstore.New(store.DefaultConfig(), factory())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func mustStore(t testing.TB, s store.IStore, key, value string) {
	t.Helper()
	if err := s.Store(store.Entry{Key: key, Value: []byte(value)}); err != nil {
		t.Fatalf("store %s failed: %v", key, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testStoreLoad(t *testing.T, s store.IStore) {
	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if err := s.Store(store.Entry{Key: testKey, Value: testValue1}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	e, found, err := s.Load(testKey)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !found {
		t.Errorf("Expected key %s to exist after Store", testKey)
	}
	if !bytes.Equal(e.Value, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, e.Value)
	}

	// Overwrite
	if err := s.Store(store.Entry{Key: testKey, Value: testValue2}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	e, found, _ = s.Load(testKey)
	if !found || !bytes.Equal(e.Value, testValue2) {
		t.Errorf("Expected overwritten value %s, got %s (found=%t)", testValue2, e.Value, found)
	}

	if _, found, _ := s.Load("nonexistent-key"); found {
		t.Errorf("Expected nonexistent key to return found=false")
	}
}

func testRemove(t *testing.T, s store.IStore) {
	mustStore(t, s, "k", "v")

	existed, err := s.Remove("k")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !existed {
		t.Errorf("Expected remove of existing key to report existed=true")
	}

	if _, found, _ := s.Load("k"); found {
		t.Errorf("Expected key to be gone after Remove")
	}

	existed, err = s.Remove("k")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if existed {
		t.Errorf("Expected remove of absent key to report existed=false")
	}
}

func testClear(t *testing.T, s store.IStore) {
	for i := 0; i < 10; i++ {
		mustStore(t, s, fmt.Sprintf("key-%d", i), "v")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	entries, err := s.LoadAll()
	if err != nil {
		t.Fatalf("loadAll failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries after Clear, got %d", len(entries))
	}
}

func testLoadAllLoadN(t *testing.T, s store.IStore) {
	for i := 0; i < 10; i++ {
		mustStore(t, s, fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
	}

	entries, err := s.LoadAll()
	if err != nil {
		t.Fatalf("loadAll failed: %v", err)
	}
	if len(entries) != 10 {
		t.Errorf("Expected 10 entries, got %d", len(entries))
	}

	bounded, err := s.LoadN(3)
	if err != nil {
		t.Fatalf("loadN failed: %v", err)
	}
	if len(bounded) != 3 {
		t.Errorf("Expected 3 entries from LoadN(3), got %d", len(bounded))
	}

	// A negative bound means no bound
	unbounded, err := s.LoadN(-1)
	if err != nil {
		t.Fatalf("loadN(-1) failed: %v", err)
	}
	if len(unbounded) != 10 {
		t.Errorf("Expected 10 entries from LoadN(-1), got %d", len(unbounded))
	}

	none, err := s.LoadN(0)
	if err != nil {
		t.Fatalf("loadN(0) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected 0 entries from LoadN(0), got %d", len(none))
	}

	// A bound far above the entry count must not be used for allocation
	huge, err := s.LoadN(math.MaxInt)
	if err != nil {
		t.Fatalf("loadN(MaxInt) failed: %v", err)
	}
	if len(huge) != 10 {
		t.Errorf("Expected 10 entries from LoadN(MaxInt), got %d", len(huge))
	}
}

func testLoadKeys(t *testing.T, s store.IStore) {
	for _, k := range []string{"a", "b", "c", "d"} {
		mustStore(t, s, k, "v")
	}

	keys, err := s.LoadKeys(nil)
	if err != nil {
		t.Fatalf("loadKeys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 4 {
		t.Errorf("Expected 4 keys, got %v", keys)
	}

	keys, err = s.LoadKeys(map[string]struct{}{"b": {}, "d": {}})
	if err != nil {
		t.Fatalf("loadKeys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("Expected [a c], got %v", keys)
	}
}

func testExpiry(t *testing.T, s store.IStore) {
	now := time.Now().UnixMilli()

	// A live entry with a future expiry is stored and loadable
	future := store.Entry{Key: "future", Value: []byte("v"), ExpiresAt: now + time.Hour.Milliseconds()}
	if err := s.Store(future); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if _, found, _ := s.Load("future"); !found {
		t.Errorf("Expected entry with future expiry to be loadable")
	}

	// Storing an already expired entry over an existing one removes it
	mustStore(t, s, "stale", "v")
	expired := store.Entry{Key: "stale", Value: []byte("v"), ExpiresAt: now - 1000}
	if err := s.Store(expired); err != nil {
		t.Fatalf("storing expired entry failed: %v", err)
	}
	if _, found, _ := s.Load("stale"); found {
		t.Errorf("Expected key to be gone after storing an expired entry over it")
	}

	// Storing an expired entry for an absent key stays a no-op
	expired.Key = "never-existed"
	if err := s.Store(expired); err != nil {
		t.Fatalf("storing expired entry failed: %v", err)
	}
	if _, found, _ := s.Load("never-existed"); found {
		t.Errorf("Expected expired entry to never appear in the store")
	}
}

func testSnapshot(t *testing.T, factory store.BackendFactory) {
	src := newStore(t, factory)
	now := time.Now().UnixMilli()

	mustStore(t, src, "a", "value-a")
	mustStore(t, src, "b", "value-b")
	if err := src.Store(store.Entry{Key: "ttl", Value: []byte("v"), ExpiresAt: now + time.Hour.Milliseconds()}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	var buf bytes.Buffer
	if err := src.ExportSnapshot(&buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	// Import into a fresh store holding unrelated data, the snapshot
	// replaces the contents
	dst := newStore(t, factory)
	mustStore(t, dst, "leftover", "v")
	if err := dst.ImportSnapshot(&buf); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if _, found, _ := dst.Load("leftover"); found {
		t.Errorf("Expected import to replace existing contents")
	}
	keys, err := dst.LoadKeys(nil)
	if err != nil {
		t.Fatalf("loadKeys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("Expected 3 keys after import, got %v", keys)
	}
	e, found, _ := dst.Load("a")
	if !found || !bytes.Equal(e.Value, []byte("value-a")) {
		t.Errorf("Expected value-a after import, got %s (found=%t)", e.Value, found)
	}
	e, found, _ = dst.Load("ttl")
	if !found || e.ExpiresAt != now+time.Hour.Milliseconds() {
		t.Errorf("Expected expiry to survive the round-trip, got %d (found=%t)", e.ExpiresAt, found)
	}
}

func testEdgeCases(t *testing.T, s store.IStore) {
	// Empty value
	if err := s.Store(store.Entry{Key: "empty", Value: []byte{}}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	e, found, _ := s.Load("empty")
	if !found {
		t.Errorf("Expected key with empty value to exist")
	}
	if len(e.Value) != 0 {
		t.Errorf("Expected empty value, got %v", e.Value)
	}

	// Binary value
	binary := []byte{0, 1, 2, 3, 254, 255}
	if err := s.Store(store.Entry{Key: "binary", Value: binary}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	e, _, _ = s.Load("binary")
	if !bytes.Equal(e.Value, binary) {
		t.Errorf("Expected binary value to survive, got %v", e.Value)
	}

	// Unicode key
	mustStore(t, s, "你好世界", "unicode")
	if _, found, _ := s.Load("你好世界"); !found {
		t.Errorf("Expected unicode key to be loadable")
	}

	// Large value
	large := bytes.Repeat([]byte("x"), 1<<20)
	if err := s.Store(store.Entry{Key: "large", Value: large}); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	e, _, _ = s.Load("large")
	if !bytes.Equal(e.Value, large) {
		t.Errorf("Expected 1 MB value to survive")
	}
}

func testConcurrentStores(t *testing.T, s store.IStore) {
	const (
		goroutines = 8
		perRoutine = 50
	)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perRoutine; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i)
				if err := s.Store(store.Entry{Key: key, Value: []byte(key)}); err != nil {
					t.Errorf("store %s failed: %v", key, err)
				}
			}
		}(g)
	}
	wg.Wait()

	entries, err := s.LoadAll()
	if err != nil {
		t.Fatalf("loadAll failed: %v", err)
	}
	if len(entries) != goroutines*perRoutine {
		t.Errorf("Expected %d entries, got %d", goroutines*perRoutine, len(entries))
	}
	for _, e := range entries {
		if !bytes.Equal(e.Value, []byte(e.Key)) {
			t.Errorf("Entry %s has wrong value %s", e.Key, e.Value)
		}
	}
}
