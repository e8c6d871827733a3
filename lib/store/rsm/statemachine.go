package rsm

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cachekit/stripekv/lib/store"
	"github.com/cachekit/stripekv/lib/store/rsm/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// StoreStateMachine is a state machine implementation for Dragonboat RAFT.
// Every replica applies the same command sequence to its own locking store,
// so the stores converge to the same contents.
type StoreStateMachine struct {
	replicaID uint64
	shardID   uint64
	store     store.IStore // the actual dataStorage
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// The factory pattern is used to enable the caller to pass an interchangeable store factory.
func CreateStateMachineFactory(storeFactory func() store.IStore) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &StoreStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			store:     storeFactory(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding store method.
func (fsm *StoreStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	// Handle different Query types
	switch q.Type {
	case internal.QueryTLoad:
		e, found, err := fsm.store.Load(q.Key)
		if err != nil {
			return nil, err
		}
		return internal.LoadResult{
			Entry: e,
			Found: found,
		}, nil
	case internal.QueryTLoadAll:
		return fsm.store.LoadAll()
	case internal.QueryTLoadN:
		return fsm.store.LoadN(q.MaxEntries)
	case internal.QueryTLoadKeys:
		return fsm.store.LoadKeys(q.Exclude)
	case internal.QueryTInfo:
		return internal.InfoResult{TotalLockCount: fsm.store.TotalLockCount()}, nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update handles write commands on the store instance.
// All write operations are serialized into []byte and are accessible via the entries struct.
func (fsm *StoreStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		// Handle each entry
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}
		// Deserialize the command
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		switch cmd.Type {
		case internal.CommandTStore:
			err := fsm.store.Store(store.Entry{
				Key:       cmd.Key,
				Value:     cmd.Value,
				ExpiresAt: cmd.ExpiresAt,
			})
			entries[idx].Result = resultFor(err, fmt.Sprintf("store: key=%s", cmd.Key))
		case internal.CommandTRemove:
			existed, err := fsm.store.Remove(cmd.Key)
			if err != nil {
				entries[idx].Result = errResult(err)
				continue
			}
			// Data carries a single byte telling the client whether the entry existed.
			data := []byte{0}
			if existed {
				data[0] = 1
			}
			entries[idx].Result = sm.Result{Value: uint64(store.RetCSuccess), Data: data}
		case internal.CommandTClear:
			entries[idx].Result = resultFor(fsm.store.Clear(), "clear")
		default:
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInvalidOperation),
				Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
			}
		}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// resultFor maps a store error to an sm.Result, using msg on success.
func resultFor(err error, msg string) sm.Result {
	if err != nil {
		return errResult(err)
	}
	return sm.Result{Value: uint64(store.RetCSuccess), Data: []byte(msg)}
}

func errResult(err error) sm.Result {
	var serr *store.Error
	if errors.As(err, &serr) {
		return sm.Result{Value: uint64(serr.Code), Data: []byte(serr.Msg)}
	}
	return sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(err.Error())}
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *StoreStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy store snapshot to the writer
func (fsm *StoreStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.store.ExportSnapshot(writer)
}

// RecoverFromSnapshot replaces the store contents with the snapshot data.
func (fsm *StoreStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.store.ImportSnapshot(r)
}

// Close performs any necessary cleanup.
func (fsm *StoreStateMachine) Close() error {
	return nil
}
