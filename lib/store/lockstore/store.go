package lockstore

import (
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cachekit/stripekv/lib/store"
	"github.com/cachekit/stripekv/lib/striped"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockstore")

// Operation counters. The unavailable counter only tracks global-lock
// timeouts; per-key acquisitions block without a deadline.
var (
	loadCalls     = metrics.NewCounter(`stripekv_store_ops_total{op="load"}`)
	loadAllCalls  = metrics.NewCounter(`stripekv_store_ops_total{op="load_all"}`)
	loadNCalls    = metrics.NewCounter(`stripekv_store_ops_total{op="load_n"}`)
	loadKeysCalls = metrics.NewCounter(`stripekv_store_ops_total{op="load_keys"}`)
	storeCalls    = metrics.NewCounter(`stripekv_store_ops_total{op="store"}`)
	removeCalls   = metrics.NewCounter(`stripekv_store_ops_total{op="remove"}`)
	clearCalls    = metrics.NewCounter(`stripekv_store_ops_total{op="clear"}`)
	exportCalls   = metrics.NewCounter(`stripekv_store_ops_total{op="export"}`)
	importCalls   = metrics.NewCounter(`stripekv_store_ops_total{op="import"}`)
	lockTimeouts  = metrics.NewCounter(`stripekv_store_global_lock_timeouts_total`)
)

// storeImpl is the locking implementation of store.IStore.
type storeImpl struct {
	backend store.Backend
	locks   *striped.LockSet
	timeout time.Duration
	// now returns the current wall clock time in unix milliseconds.
	// Overridable in tests.
	now func() int64
}

// New creates a locking store over the given backend. The configuration is
// validated here; an invalid or missing configuration is a fatal
// initialization error and the store never becomes usable.
func New(cfg store.Config, backend store.Backend) (store.IStore, error) {
	if backend == nil {
		return nil, store.NewError(store.RetCInvalidConfig, "no backend configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Infof("creating locking store: %d stripes, global lock timeout %v", cfg.Concurrency, cfg.GlobalLockTimeout)
	return &storeImpl{
		backend: backend,
		locks:   striped.New(cfg.Concurrency),
		timeout: cfg.GlobalLockTimeout,
		now:     func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// --------------------------------------------------------------------------
// Lock Helpers
// --------------------------------------------------------------------------

// acquireGlobal takes a global lock in the requested mode, bounded by the
// configured timeout.
func (s *storeImpl) acquireGlobal(o striped.Owner, exclusive bool) bool {
	if !s.locks.AcquireGlobal(o, exclusive, s.timeout) {
		lockTimeouts.Inc()
		return false
	}
	return true
}

func errGlobalLock() error {
	return store.NewError(store.RetCUnavailable, "unable to acquire global lock")
}

// --------------------------------------------------------------------------
// Interface Methods - Per-Key Operations (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Load(key string) (store.Entry, bool, error) {
	loadCalls.Inc()
	lockKey, err := s.backend.LockKey(key)
	if err != nil {
		return store.Entry{}, false, err
	}

	o := s.locks.NewOwner()
	s.locks.Acquire(o, lockKey, false)
	defer s.locks.Release(o, lockKey)

	return s.backend.LoadLocked(key, lockKey)
}

func (s *storeImpl) Store(e store.Entry) error {
	storeCalls.Inc()

	// An entry that is already expired is never persisted as live. Any
	// existing entry for its key is removed instead, through a separate,
	// independently locked remove.
	if e.CanExpire() && e.Expired(s.now()) {
		_, found, err := s.Load(e.Key)
		if err != nil {
			return err
		}
		if !found {
			log.Debugf("entry %s is expired, nothing to do", e.Key)
			return nil
		}
		log.Debugf("entry %s is expired, removing", e.Key)
		_, err = s.Remove(e.Key)
		return err
	}

	lockKey, err := s.backend.LockKey(e.Key)
	if err != nil {
		return err
	}

	o := s.locks.NewOwner()
	s.locks.Acquire(o, lockKey, true)
	defer s.locks.Release(o, lockKey)

	return s.backend.StoreLocked(e, lockKey)
}

func (s *storeImpl) Remove(key string) (bool, error) {
	removeCalls.Inc()
	lockKey, err := s.backend.LockKey(key)
	if err != nil {
		return false, err
	}

	o := s.locks.NewOwner()
	s.locks.Acquire(o, lockKey, true)
	defer s.locks.Release(o, lockKey)

	return s.backend.RemoveLocked(key, lockKey)
}

// --------------------------------------------------------------------------
// Interface Methods - Aggregate Operations
// --------------------------------------------------------------------------

func (s *storeImpl) LoadAll() ([]store.Entry, error) {
	loadAllCalls.Inc()
	o := s.locks.NewOwner()
	if !s.acquireGlobal(o, false) {
		return nil, errGlobalLock()
	}
	defer s.locks.ReleaseGlobal(o)

	return s.backend.LoadAllLocked()
}

func (s *storeImpl) LoadN(maxEntries int) ([]store.Entry, error) {
	if maxEntries < 0 {
		return s.LoadAll()
	}
	loadNCalls.Inc()
	o := s.locks.NewOwner()
	if !s.acquireGlobal(o, false) {
		return nil, errGlobalLock()
	}
	defer s.locks.ReleaseGlobal(o)

	return s.backend.LoadNLocked(maxEntries)
}

func (s *storeImpl) LoadKeys(exclude map[string]struct{}) ([]string, error) {
	loadKeysCalls.Inc()
	o := s.locks.NewOwner()
	if !s.acquireGlobal(o, false) {
		return nil, errGlobalLock()
	}
	defer s.locks.ReleaseGlobal(o)

	return s.backend.LoadKeysLocked(exclude)
}

func (s *storeImpl) Clear() error {
	clearCalls.Inc()
	log.Debugf("clearing store")
	o := s.locks.NewOwner()
	if !s.acquireGlobal(o, true) {
		return errGlobalLock()
	}
	defer s.locks.ReleaseGlobal(o)

	return s.backend.ClearLocked()
}

func (s *storeImpl) ExportSnapshot(w io.Writer) error {
	exportCalls.Inc()
	o := s.locks.NewOwner()
	if !s.acquireGlobal(o, false) {
		return errGlobalLock()
	}
	defer s.locks.ReleaseGlobal(o)

	return s.backend.ExportLocked(w)
}

func (s *storeImpl) ImportSnapshot(r io.Reader) error {
	importCalls.Inc()
	o := s.locks.NewOwner()
	if !s.acquireGlobal(o, true) {
		return errGlobalLock()
	}
	defer s.locks.ReleaseGlobal(o)

	return s.backend.ImportLocked(r)
}

func (s *storeImpl) TotalLockCount() int {
	return s.locks.TotalLockCount()
}
