// Package rsm replicates a locking store across multiple nodes using the
// Dragonboat RAFT consensus library. It provides a strongly consistent
// implementation of the store.IStore interface that can operate across
// multiple nodes while maintaining linearizable consistency.
//
// Architecture:
//
// The rsm implementation consists of three main components:
//
//   - Store Client: Implements the store.IStore interface and communicates with
//     the RAFT cluster. It serializes operations into commands, sends them to the
//     consensus layer, and processes responses.
//
//   - State Machine: A Dragonboat IConcurrentStateMachine implementation that
//     processes commands and queries on each node. The state machine contains a
//     full store.IStore instance (the lockstore controller with its backend) and
//     applies operations to it.
//
//   - Communication Protocol: Defined in the internal package, this consists of
//     Command and Query structures with serialization logic for transmitting
//     operations across the network.
//
// Write Operations:
//
//	All write operations (Store, Remove, Clear) follow this flow:
//
//	1. The operation is serialized into a Command structure
//	2. The Command is proposed to the RAFT cluster via SyncPropose
//	3. The leader node replicates the command to a majority of followers
//	4. Once committed, the command is executed on the state machine on each node
//	   (Update method in statemachine.go)
//	5. The result is returned to the client
//
// Read Operations:
//
// Read operations (Load, LoadAll, LoadN, LoadKeys) use SyncRead, which ensures
// that the node processing the read has applied all committed log entries
// locally before processing the request. The store info query uses the faster
// StaleRead since slightly outdated metadata is acceptable.
//
// Snapshotting and Recovery:
//
// The state machine maps Dragonboat's snapshotting interface directly onto the
// store's ExportSnapshot and ImportSnapshot operations. Both run under the
// store's global lock, so a snapshot is a consistent view of the store and a
// recovery replaces the contents atomically with respect to concurrent
// operations on that node. Because the raft layer owns snapshot creation and
// installation, the replicated client rejects ExportSnapshot and
// ImportSnapshot calls.
//
// Usage:
//
//	Setting up and using rsm requires several steps:
//
//	1. Initialize Dragonboat NodeHost (RAFT client)
//	2. Create a store.IStore factory function
//	3. Start a RAFT replica with the state machine factory
//	4. Create the replicated store with appropriate timeout
//	5. Begin operations once the shard is ready
//
//	Example:
//
//	  // Create NodeHost (RAFT client)
//	  nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	  if err != nil { ... }
//
//	  // Store factory: each replica gets its own lockstore over a fresh backend
//	  storeFactory := func() store.IStore {
//	      s, _ := lockstore.New(store.DefaultConfig(), memory.New())
//	      return s
//	  }
//
//	  // Create and start shard (RAFT server)
//	  err := nh.StartConcurrentReplica(
//	      clusterMembers,
//	      false,
//	      rsm.CreateStateMachineFactory(storeFactory),
//	      shardConfig)
//	  if err != nil { ... }
//
//	  // Create store with appropriate timeout
//	  timeout := time.Duration(5) * time.Second
//	  store := rsm.NewReplicatedStore(nh, shardID, timeout)
//
// For scenarios where distributed consensus is not required, use the lockstore
// package directly over a backend.
package rsm
