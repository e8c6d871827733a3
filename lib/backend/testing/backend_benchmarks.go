package testing

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/cachekit/stripekv/lib/store"
)

// RunBackendBenchmarks runs all benchmarks for a store.Backend implementation.
// Like the test suite, the backend is driven through the lockstore controller
// so the numbers include the cost of lock striping.
func RunBackendBenchmarks(b *testing.B, name string, factory store.BackendFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Store", func(b *testing.B) {
			benchmarkStore(b, newBenchStore(b, factory))
		})

		b.Run("StoreExisting", func(b *testing.B) {
			benchmarkStoreExisting(b, newBenchStore(b, factory))
		})

		b.Run("Load", func(b *testing.B) {
			benchmarkLoad(b, newBenchStore(b, factory))
		})

		b.Run("Remove", func(b *testing.B) {
			benchmarkRemove(b, newBenchStore(b, factory))
		})

		b.Run("Snapshot", func(b *testing.B) {
			benchmarkSnapshot(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, newBenchStore(b, factory))
		})
	})
}

func newBenchStore(b *testing.B, factory store.BackendFactory) store.IStore {
	return newStore(b, factory)
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Store operation with fresh keys
func benchmarkStore(b *testing.B, s store.IStore) {
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			if err := s.Store(store.Entry{Key: key, Value: value}); err != nil {
				b.Error(err)
			}
			counter++
		}
	})
}

// Benchmark for Store operation with existing keys
func benchmarkStoreExisting(b *testing.B, s store.IStore) {
	// Prepare data
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		if err := s.Store(store.Entry{Key: key, Value: []byte(key)}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			if err := s.Store(store.Entry{Key: key, Value: value}); err != nil {
				b.Error(err)
			}
			counter++
		}
	})
}

// Parallel benchmarking for Load operation
func benchmarkLoad(b *testing.B, s store.IStore) {
	// Prepare data
	numKeys := 10000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		if err := s.Store(store.Entry{Key: key, Value: []byte(key)}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			if _, _, err := s.Load(key); err != nil {
				b.Error(err)
			}
			counter++
		}
	})
}

// Parallel benchmarking for Remove operation
func benchmarkRemove(b *testing.B, s store.IStore) {
	numKeys := 100000
	if b.N < numKeys {
		numKeys = b.N
	}

	// Prepare data
	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		if err := s.Store(store.Entry{Key: keys[i], Value: []byte(keys[i])}); err != nil {
			b.Fatal(err)
		}
	}

	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys
			if _, err := s.Remove(keys[idx]); err != nil {
				b.Error(err)
			}
		}
	})
}

// Benchmark for snapshot export and import.
// Parallelization is not meaningful here since both hold the global lock.
func benchmarkSnapshot(b *testing.B, factory store.BackendFactory) {
	s := newBenchStore(b, factory)

	// Create a store with some data
	numEntries := 10000
	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		if err := s.Store(store.Entry{Key: key, Value: []byte(key)}); err != nil {
			b.Fatal(err)
		}
	}

	b.Run("Export", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			if err := s.ExportSnapshot(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	// Prepare a data buffer for the import benchmark
	var buf bytes.Buffer
	if err := s.ExportSnapshot(&buf); err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()

	b.Run("Import", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			dst := newBenchStore(b, factory)
			if err := dst.ImportSnapshot(bytes.NewReader(data)); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// Benchmark for mixed usage patterns
func benchmarkMixedUsage(b *testing.B, s store.IStore) {
	// Number of pre-populated keys
	numKeys := 100000
	if b.N < numKeys {
		numKeys = b.N
	}

	// Prepare initial data
	keys := make([]string, numKeys)
	for i := 0; i < numKeys; i++ {
		keys[i] = fmt.Sprintf("test-key-%d", i)
		if err := s.Store(store.Entry{Key: keys[i], Value: []byte(keys[i])}); err != nil {
			b.Fatal(err)
		}
	}

	var counter int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		localCounter := 0

		for pb.Next() {
			idx := int(atomic.AddInt64(&counter, 1)-1) % numKeys

			// For every 10th operation, use a completely new key
			var key string
			if localCounter%10 == 0 {
				key = fmt.Sprintf("new-key-%d", localCounter)
			} else {
				key = keys[idx]
			}

			// 60% Load, 30% Store, 10% Remove
			switch localCounter % 10 {
			case 0, 1, 2, 3, 4, 5:
				if _, _, err := s.Load(key); err != nil {
					b.Error(err)
				}
			case 6, 7, 8:
				value := []byte(fmt.Sprintf("mixed-value-%d", localCounter))
				if err := s.Store(store.Entry{Key: key, Value: value}); err != nil {
					b.Error(err)
				}
			case 9:
				if _, err := s.Remove(key); err != nil {
					b.Error(err)
				}
			}

			localCounter++
		}
	})
}
