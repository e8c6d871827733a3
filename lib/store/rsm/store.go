package rsm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cachekit/stripekv/lib/store"
	"github.com/cachekit/stripekv/lib/store/rsm/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var (
	retries = 5
	log     = logger.GetLogger("rsm")
)

// storeImpl is the concrete implementation of the store.IStore interface backed
// by a RAFT cluster. It encapsulates a Dragonboat NodeHost which is used to
// communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewReplicatedStore creates a new replicated store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
func NewReplicatedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose.
// It returns the state machine result and a *store.Error if an error occurs.
func (s *storeImpl) write(cmd internal.Command) (sm.Result, error) {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return sm.Result{}, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return res, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return res, nil
	}
	return sm.Result{}, store.NewError(store.RetCInternalError, "timeout")
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
//
// It returns the response of type R and an error (nil on success).
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var serr *store.Error
			if errors.As(err, &serr) {
				return zero, serr
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Load(key string) (store.Entry, bool, error) {
	res, err := read[internal.LoadResult](s, internal.Query{
		Type: internal.QueryTLoad,
		Key:  key,
	}, false)
	if err != nil {
		return store.Entry{}, false, err
	}
	return res.Entry, res.Found, nil
}

func (s *storeImpl) LoadAll() ([]store.Entry, error) {
	return read[[]store.Entry](s, internal.Query{
		Type: internal.QueryTLoadAll,
	}, false)
}

func (s *storeImpl) LoadN(maxEntries int) ([]store.Entry, error) {
	return read[[]store.Entry](s, internal.Query{
		Type:       internal.QueryTLoadN,
		MaxEntries: maxEntries,
	}, false)
}

func (s *storeImpl) LoadKeys(exclude map[string]struct{}) ([]string, error) {
	return read[[]string](s, internal.Query{
		Type:    internal.QueryTLoadKeys,
		Exclude: exclude,
	}, false)
}

func (s *storeImpl) Store(e store.Entry) error {
	_, err := s.write(internal.Command{
		Type:      internal.CommandTStore,
		Key:       e.Key,
		Value:     e.Value,
		ExpiresAt: e.ExpiresAt,
	})
	return err
}

func (s *storeImpl) Remove(key string) (bool, error) {
	res, err := s.write(internal.Command{
		Type: internal.CommandTRemove,
		Key:  key,
	})
	if err != nil {
		return false, err
	}
	return len(res.Data) == 1 && res.Data[0] == 1, nil
}

func (s *storeImpl) Clear() error {
	_, err := s.write(internal.Command{
		Type: internal.CommandTClear,
	})
	return err
}

// ExportSnapshot is not available on the replicated client. Snapshots of the
// replicated state are created and installed by the raft layer itself.
func (s *storeImpl) ExportSnapshot(io.Writer) error {
	return store.NewError(store.RetCInvalidOperation, "snapshots are managed by the raft layer")
}

// ImportSnapshot is not available on the replicated client, see ExportSnapshot.
func (s *storeImpl) ImportSnapshot(io.Reader) error {
	return store.NewError(store.RetCInvalidOperation, "snapshots are managed by the raft layer")
}

func (s *storeImpl) TotalLockCount() int {
	res, err := read[internal.InfoResult](
		s,
		internal.Query{
			Type: internal.QueryTInfo,
		},
		true, // Note: allow for stale reads
	)
	if err != nil {
		log.Warningf("failed to query store info: %v", err)
		return 0
	}
	return res.TotalLockCount
}
