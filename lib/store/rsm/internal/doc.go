// Package internal provides the communication protocol structures and serialization
// logic for the rsm package. It defines the wire format used to transmit operations
// between a store client and the replicated state machine.
//
// This package is intended for internal use by the rsm implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: Defines write operations (Store, Remove, Clear) that modify
//     the state of the store. Commands are serialized and proposed to the RAFT
//     cluster, executed on the state machine, and produce results that are returned
//     to the client. The Command structure includes efficient binary serialization.
//
//   - Query System: Defines read operations (Load, LoadAll, LoadN, LoadKeys) that
//     retrieve data from the store without modifying its state. Queries are executed
//     locally on the state machine and therefore do not require serialization.
//
// Command Format:
//
//	Commands are serialized into a binary format with the following structure:
//
//	- 1 byte: Command type (Store, Remove, Clear)
//	- 8 bytes: ExpiresAt value in unix milliseconds (big endian, 0 means no expiry)
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Key data (string as byte array)
//	- M bytes: Value data (optional, only present for Store operations)
//
//	This format ensures efficient storage in the RAFT log while providing all
//	necessary information for the operation.
//
// Thread Safety:
//
//	The types in this package are not thread-safe and should not be shared
//	across goroutines without external synchronization. However, this is not
//	typically an issue as the RAFT protocol ensures sequential processing of
//	commands on the state machine.
package internal
