package lockstore

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cachekit/stripekv/lib/store"
	"github.com/zeebo/xxh3"
)

// --------------------------------------------------------------------------
// Fake Backend
// --------------------------------------------------------------------------

// fakeBackend is an in-memory store.Backend for controller tests. The
// on* hooks run inside the corresponding *Locked method, i.e. while the
// controller holds the lock for that call.
type fakeBackend struct {
	mu   sync.Mutex
	data map[string]store.Entry

	onStore func(e store.Entry)
	onClear func()

	errStore error
	errLoad  error

	removeCount atomic.Int32
	storeCount  atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string]store.Entry)}
}

func (f *fakeBackend) LockKey(key string) (string, error) { return key, nil }

func (f *fakeBackend) LoadLocked(key, _ string) (store.Entry, bool, error) {
	if f.errLoad != nil {
		return store.Entry{}, false, f.errLoad
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	return e, ok, nil
}

func (f *fakeBackend) StoreLocked(e store.Entry, _ string) error {
	if f.errStore != nil {
		return f.errStore
	}
	if f.onStore != nil {
		f.onStore(e)
	}
	f.storeCount.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[e.Key] = e
	return nil
}

func (f *fakeBackend) RemoveLocked(key, _ string) (bool, error) {
	f.removeCount.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	delete(f.data, key)
	return ok, nil
}

func (f *fakeBackend) ClearLocked() error {
	if f.onClear != nil {
		f.onClear()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = make(map[string]store.Entry)
	return nil
}

func (f *fakeBackend) LoadAllLocked() ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Entry, 0, len(f.data))
	for _, e := range f.data {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeBackend) LoadNLocked(maxEntries int) ([]store.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Entry, 0, maxEntries)
	for _, e := range f.data {
		if len(out) >= maxEntries {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeBackend) LoadKeysLocked(exclude map[string]struct{}) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if _, skip := exclude[k]; !skip {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeBackend) ExportLocked(w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.data {
		if _, err := w.Write([]byte(k + "\n")); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) ImportLocked(r io.Reader) error {
	_, err := io.ReadAll(r)
	return err
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newTestStore(t *testing.T, backend store.Backend, cfg store.Config) store.IStore {
	t.Helper()
	s, err := New(cfg, backend)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func testConfig() store.Config {
	return store.Config{Concurrency: 16, GlobalLockTimeout: 5 * time.Second}
}

// stripeOf mirrors the lock set's slot selection so tests can pick keys
// that collide or do not collide on a stripe.
func stripeOf(key string, concurrency int) uint64 {
	return xxh3.HashString(key) % uint64(concurrency)
}

// keysOnStripes returns one key pair mapping to different stripes and one
// pair of distinct keys mapping to the same stripe.
func keysOnStripes(concurrency int) (diff [2]string, same [2]string) {
	candidates := []string{
		"apple", "banana", "cherry", "durian", "elder", "fig", "grape",
		"honeydew", "iceberg", "jackfruit", "kiwi", "lemon", "mango",
		"nectarine", "olive", "papaya", "quince", "raspberry", "satsuma",
		"tomato", "ugli", "vanilla", "walnut", "xigua", "yam", "zucchini",
	}
	foundDiff, foundSame := false, false
	for i := 0; i < len(candidates) && !(foundDiff && foundSame); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			if !foundDiff && stripeOf(a, concurrency) != stripeOf(b, concurrency) {
				diff = [2]string{a, b}
				foundDiff = true
			}
			if !foundSame && stripeOf(a, concurrency) == stripeOf(b, concurrency) {
				same = [2]string{a, b}
				foundSame = true
			}
		}
	}
	return diff, same
}

// --------------------------------------------------------------------------
// Initialization
// --------------------------------------------------------------------------

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(testConfig(), nil); err == nil {
		t.Error("expected an error for a nil backend")
	}
	if _, err := New(store.Config{}, newFakeBackend()); err == nil {
		t.Error("expected an error for a zero config")
	}
	if _, err := New(store.Config{Concurrency: 8}, newFakeBackend()); err == nil {
		t.Error("expected an error for a missing global lock timeout")
	}
	if _, err := New(testConfig(), newFakeBackend()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestTotalLockCount(t *testing.T) {
	s := newTestStore(t, newFakeBackend(), testConfig())
	if n := s.TotalLockCount(); n != 16 {
		t.Errorf("expected 16 stripes, got %d", n)
	}
}

// --------------------------------------------------------------------------
// Basic Operations
// --------------------------------------------------------------------------

func TestLoadStoreRemove(t *testing.T) {
	s := newTestStore(t, newFakeBackend(), testConfig())

	if err := s.Store(store.Entry{Key: "k1", Value: []byte("v1")}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	e, found, err := s.Load("k1")
	if err != nil || !found {
		t.Fatalf("expected to find k1, found=%t err=%v", found, err)
	}
	if !bytes.Equal(e.Value, []byte("v1")) {
		t.Errorf("expected value v1, got %s", e.Value)
	}

	existed, err := s.Remove("k1")
	if err != nil || !existed {
		t.Fatalf("expected remove to report an existing entry, existed=%t err=%v", existed, err)
	}
	if _, found, _ := s.Load("k1"); found {
		t.Error("entry still loadable after remove")
	}
	if existed, _ := s.Remove("k1"); existed {
		t.Error("second remove should report no entry")
	}
}

func TestLoadNNegativeDelegatesToLoadAll(t *testing.T) {
	s := newTestStore(t, newFakeBackend(), testConfig())
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Store(store.Entry{Key: k, Value: []byte(k)}); err != nil {
			t.Fatalf("store failed: %v", err)
		}
	}

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("loadAll failed: %v", err)
	}
	n, err := s.LoadN(-1)
	if err != nil {
		t.Fatalf("loadN(-1) failed: %v", err)
	}
	if len(all) != 3 || len(n) != len(all) {
		t.Errorf("loadN(-1) returned %d entries, loadAll returned %d", len(n), len(all))
	}

	bounded, err := s.LoadN(2)
	if err != nil {
		t.Fatalf("loadN(2) failed: %v", err)
	}
	if len(bounded) != 2 {
		t.Errorf("expected 2 entries from loadN(2), got %d", len(bounded))
	}
}

func TestLoadNCountedSeparately(t *testing.T) {
	s := newTestStore(t, newFakeBackend(), testConfig())

	nBefore, allBefore := loadNCalls.Get(), loadAllCalls.Get()

	if _, err := s.LoadN(1); err != nil {
		t.Fatalf("loadN(1) failed: %v", err)
	}
	if got := loadNCalls.Get(); got != nBefore+1 {
		t.Errorf("expected load_n counter %d, got %d", nBefore+1, got)
	}
	if got := loadAllCalls.Get(); got != allBefore {
		t.Errorf("bounded loadN must not count as load_all, counter went %d -> %d", allBefore, got)
	}

	// An unbounded request delegates to LoadAll and counts there
	if _, err := s.LoadN(-1); err != nil {
		t.Fatalf("loadN(-1) failed: %v", err)
	}
	if got := loadAllCalls.Get(); got != allBefore+1 {
		t.Errorf("expected load_all counter %d, got %d", allBefore+1, got)
	}
}

func TestLoadKeysExcluding(t *testing.T) {
	s := newTestStore(t, newFakeBackend(), testConfig())
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Store(store.Entry{Key: k, Value: []byte(k)}); err != nil {
			t.Fatalf("store failed: %v", err)
		}
	}

	keys, err := s.LoadKeys(map[string]struct{}{"b": {}})
	if err != nil {
		t.Fatalf("loadKeys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("expected [a c], got %v", keys)
	}
}

// --------------------------------------------------------------------------
// Expired-Entry Store Policy
// --------------------------------------------------------------------------

func TestStoreExpiredRemovesExisting(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, testConfig())

	if err := s.Store(store.Entry{Key: "k", Value: []byte("live")}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	expired := store.Entry{Key: "k", Value: []byte("dead"), ExpiresAt: time.Now().UnixMilli() - 1000}
	if err := s.Store(expired); err != nil {
		t.Fatalf("storing an expired entry failed: %v", err)
	}

	if _, found, _ := s.Load("k"); found {
		t.Error("key should be absent after storing an expired entry over it")
	}
	if n := backend.removeCount.Load(); n != 1 {
		t.Errorf("expected exactly one backend remove, got %d", n)
	}
}

func TestStoreExpiredWithoutExistingIsNoop(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, testConfig())

	expired := store.Entry{Key: "k", Value: []byte("dead"), ExpiresAt: time.Now().UnixMilli() - 1000}
	if err := s.Store(expired); err != nil {
		t.Fatalf("storing an expired entry failed: %v", err)
	}

	if n := backend.storeCount.Load(); n != 0 {
		t.Errorf("expired entry must never reach StoreLocked, got %d calls", n)
	}
	if n := backend.removeCount.Load(); n != 0 {
		t.Errorf("no remove expected when no entry exists, got %d calls", n)
	}
}

func TestStoreFutureExpiryIsPersisted(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(t, backend, testConfig())

	e := store.Entry{Key: "k", Value: []byte("v"), ExpiresAt: time.Now().UnixMilli() + time.Hour.Milliseconds()}
	if err := s.Store(e); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if _, found, _ := s.Load("k"); !found {
		t.Error("entry with a future expiry should be persisted")
	}
}

// --------------------------------------------------------------------------
// Error Propagation
// --------------------------------------------------------------------------

func TestBackendErrorPropagatesUnchangedAndReleasesLock(t *testing.T) {
	backend := newFakeBackend()
	sentinel := errors.New("disk on fire")
	backend.errStore = sentinel
	s := newTestStore(t, backend, testConfig())

	if err := s.Store(store.Entry{Key: "k", Value: []byte("v")}); !errors.Is(err, sentinel) {
		t.Fatalf("expected the backend error unchanged, got %v", err)
	}

	// The stripe must have been released on the error path.
	backend.errStore = nil
	done := make(chan error, 1)
	go func() { done <- s.Store(store.Entry{Key: "k", Value: []byte("v")}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("store after failed store errored: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("store after failed store blocked; stripe lock leaked")
	}
}

// --------------------------------------------------------------------------
// Concurrency Properties
// --------------------------------------------------------------------------

// Stores on keys mapping to different stripes must be able to run their
// critical sections at the same time.
func TestDifferentStripesRunConcurrently(t *testing.T) {
	cfg := testConfig()
	diff, _ := keysOnStripes(cfg.Concurrency)

	backend := newFakeBackend()
	var arrivals atomic.Int32
	barrier := make(chan struct{})
	var timedOut atomic.Bool
	backend.onStore = func(store.Entry) {
		if arrivals.Add(1) == 2 {
			close(barrier)
		}
		select {
		case <-barrier:
		case <-time.After(5 * time.Second):
			timedOut.Store(true)
		}
	}
	s := newTestStore(t, backend, cfg)

	var wg sync.WaitGroup
	for _, k := range diff {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if err := s.Store(store.Entry{Key: key, Value: []byte("v")}); err != nil {
				t.Errorf("store %s failed: %v", key, err)
			}
		}(k)
	}
	wg.Wait()

	if timedOut.Load() {
		t.Fatal("stores on different stripes blocked each other")
	}
	for _, k := range diff {
		if _, found, _ := s.Load(k); !found {
			t.Errorf("value for %s not loadable after concurrent store", k)
		}
	}
}

// Stores on keys mapping to the same stripe are serialized: the write
// critical sections never overlap.
func TestSameStripeSerialized(t *testing.T) {
	cfg := testConfig()
	_, same := keysOnStripes(cfg.Concurrency)

	backend := newFakeBackend()
	var inCritical atomic.Int32
	var overlapped atomic.Bool
	backend.onStore = func(store.Entry) {
		if inCritical.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond)
		inCritical.Add(-1)
	}
	s := newTestStore(t, backend, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(key string, n int) {
			defer wg.Done()
			if err := s.Store(store.Entry{Key: key, Value: []byte{byte(n)}}); err != nil {
				t.Errorf("store failed: %v", err)
			}
		}(same[i%2], i)
	}
	wg.Wait()

	if overlapped.Load() {
		t.Error("write critical sections on the same stripe overlapped")
	}
}

// Clear is all-or-nothing relative to concurrent per-key writes: a store
// issued while clear holds the global lock must wait for it.
func TestClearExcludesConcurrentStore(t *testing.T) {
	backend := newFakeBackend()
	clearEntered := make(chan struct{})
	releaseClear := make(chan struct{})
	backend.onClear = func() {
		close(clearEntered)
		<-releaseClear
	}
	s := newTestStore(t, backend, testConfig())

	if err := s.Store(store.Entry{Key: "pre", Value: []byte("v")}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	clearDone := make(chan error, 1)
	go func() { clearDone <- s.Clear() }()
	<-clearEntered

	storeDone := make(chan error, 1)
	go func() { storeDone <- s.Store(store.Entry{Key: "during", Value: []byte("v")}) }()

	select {
	case <-storeDone:
		t.Fatal("store completed while clear held the global lock")
	case <-time.After(100 * time.Millisecond):
		// Expected: the store is waiting on its stripe.
	}

	close(releaseClear)
	if err := <-clearDone; err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := <-storeDone; err != nil {
		t.Fatalf("store after clear failed: %v", err)
	}

	// The pre-clear entry is gone, the post-clear entry is present.
	if _, found, _ := s.Load("pre"); found {
		t.Error("entry stored before clear survived it")
	}
	if _, found, _ := s.Load("during"); !found {
		t.Error("entry stored after clear is missing")
	}
}

// A second aggregate operation must fail with an unavailable error no
// later than roughly the configured timeout while the global lock is held
// exclusively.
func TestGlobalLockTimeoutBounded(t *testing.T) {
	cfg := store.Config{Concurrency: 4, GlobalLockTimeout: 100 * time.Millisecond}
	backend := newFakeBackend()
	clearEntered := make(chan struct{})
	releaseClear := make(chan struct{})
	backend.onClear = func() {
		close(clearEntered)
		<-releaseClear
	}
	s := newTestStore(t, backend, cfg)

	clearDone := make(chan error, 1)
	go func() { clearDone <- s.Clear() }()
	<-clearEntered

	start := time.Now()
	_, err := s.LoadAll()
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("loadAll should fail while clear holds the global lock")
	}
	if !store.IsUnavailable(err) {
		t.Errorf("expected an unavailable error, got %v", err)
	}
	// Per-slot timeout, so the bound is timeout per stripe plus slack.
	if limit := time.Duration(cfg.Concurrency)*cfg.GlobalLockTimeout + time.Second; elapsed > limit {
		t.Errorf("loadAll took %v, expected a bounded wait under %v", elapsed, limit)
	}

	close(releaseClear)
	if err := <-clearDone; err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	// The store is usable again afterwards.
	if _, err := s.LoadAll(); err != nil {
		t.Errorf("loadAll after clear failed: %v", err)
	}
}
