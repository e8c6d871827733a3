package memory

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cachekit/stripekv/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for the snapshot file format
const (
	magicNum        = "SKVSNAP\x00" // File format identifier
	snapshotVersion = 1             // Snapshot format version
)

// --------------------------------------------------------------------------
// Core Backend Structure
// --------------------------------------------------------------------------

// memoryImpl is an in-memory store.Backend backed by a concurrent map.
// It performs no locking of its own. The lockstore controller serializes
// all access per stripe, the concurrent map only guards against snapshot
// iteration racing with entry writes on disjoint stripes.
type memoryImpl struct {
	data *xsync.MapOf[string, store.Entry]
	now  func() int64
}

// New creates a new in-memory backend.
func New() store.Backend {
	return &memoryImpl{
		data: xsync.NewMapOf[string, store.Entry](),
		now:  func() int64 { return time.Now().UnixMilli() },
	}
}

// --------------------------------------------------------------------------
// Backend Interface Methods - Keyed Operations
// --------------------------------------------------------------------------

// LockKey returns the key itself. In-memory entries have no grouping that
// would require multiple keys to share a stripe.
func (m *memoryImpl) LockKey(key string) (string, error) {
	return key, nil
}

// LoadLocked retrieves an entry. Entries past their expiry are reported
// as absent even if the map still holds them.
func (m *memoryImpl) LoadLocked(key, _ string) (store.Entry, bool, error) {
	e, ok := m.data.Load(key)
	if !ok || e.Expired(m.now()) {
		return store.Entry{}, false, nil
	}
	return e, true, nil
}

// StoreLocked inserts or updates an entry. The value is copied so the
// caller may reuse its buffer.
func (m *memoryImpl) StoreLocked(e store.Entry, _ string) error {
	valueCopy := make([]byte, len(e.Value))
	copy(valueCopy, e.Value)
	e.Value = valueCopy
	m.data.Store(e.Key, e)
	return nil
}

// RemoveLocked removes an entry and reports whether one existed. An entry
// that is still in the map but expired counts as absent.
func (m *memoryImpl) RemoveLocked(key, _ string) (bool, error) {
	e, existed := m.data.LoadAndDelete(key)
	return existed && !e.Expired(m.now()), nil
}

// --------------------------------------------------------------------------
// Backend Interface Methods - Aggregate Operations
// --------------------------------------------------------------------------

// ClearLocked removes all entries.
func (m *memoryImpl) ClearLocked() error {
	m.data.Clear()
	return nil
}

// LoadAllLocked returns all live entries.
func (m *memoryImpl) LoadAllLocked() ([]store.Entry, error) {
	now := m.now()
	out := make([]store.Entry, 0, m.data.Size())
	m.data.Range(func(_ string, e store.Entry) bool {
		if !e.Expired(now) {
			out = append(out, e)
		}
		return true
	})
	return out, nil
}

// LoadNLocked returns up to maxEntries live entries.
func (m *memoryImpl) LoadNLocked(maxEntries int) ([]store.Entry, error) {
	now := m.now()
	out := make([]store.Entry, 0, min(maxEntries, m.data.Size()))
	m.data.Range(func(_ string, e store.Entry) bool {
		if len(out) >= maxEntries {
			return false
		}
		if !e.Expired(now) {
			out = append(out, e)
		}
		return len(out) < maxEntries
	})
	return out, nil
}

// LoadKeysLocked returns the keys of all live entries minus the exclusion set.
func (m *memoryImpl) LoadKeysLocked(exclude map[string]struct{}) ([]string, error) {
	now := m.now()
	var keys []string
	m.data.Range(func(k string, e store.Entry) bool {
		if e.Expired(now) {
			return true
		}
		if _, skip := exclude[k]; !skip {
			keys = append(keys, k)
		}
		return true
	})
	return keys, nil
}

// --------------------------------------------------------------------------
// Snapshot Operations
// --------------------------------------------------------------------------

// ExportLocked writes all live entries to the writer. Expired entries are
// skipped, a snapshot never resurrects dead data.
//
// Format: magic number, 1 byte version, 8 bytes entry count, then per entry
// 8 bytes expiresAt, 4 bytes key length, key bytes, 4 bytes value length,
// value bytes (all integers little endian).
func (m *memoryImpl) ExportLocked(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Collect live entries first so the count can be written up front
	now := m.now()
	var entries []store.Entry
	m.data.Range(func(_ string, e store.Entry) bool {
		if !e.Expired(now) {
			entries = append(entries, e)
		}
		return true
	})

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	// Write entries
	for _, e := range entries {
		if err := binary.Write(bw, binary.LittleEndian, e.ExpiresAt); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(e.Key); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Value))); err != nil {
			return err
		}
		if _, err := bw.Write(e.Value); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// ImportLocked replaces the backend contents with the entries from the reader.
func (m *memoryImpl) ImportLocked(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid snapshot format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, snapshotVersion)
	}

	// Read entry count
	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	// The snapshot replaces the contents, not merges into them
	m.data.Clear()

	// Read entries
	for i := uint64(0); i < count; i++ {
		var expiresAt int64
		if err := binary.Read(br, binary.LittleEndian, &expiresAt); err != nil {
			return err
		}

		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		m.data.Store(string(key), store.Entry{
			Key:       string(key),
			Value:     value,
			ExpiresAt: expiresAt,
		})
	}

	return nil
}
