package internal

import (
	"encoding/binary"
	"fmt"
)

// CommandType defines the possible write operations for the state machine.
type CommandType uint8

const (
	CommandTStore  CommandType = iota // Insert or update an entry.
	CommandTRemove                    // Remove an entry.
	CommandTClear                     // Remove all entries.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTStore:
		return "Store"
	case CommandTRemove:
		return "Remove"
	case CommandTClear:
		return "Clear"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type      CommandType
	Key       string
	ExpiresAt int64 // unix milliseconds, 0 means the entry never expires
	Value     []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	size := 1 + 8 + 4 + len(command.Key) // Type + ExpiresAt + KeyLen + Key
	if command.Value != nil {
		size += len(command.Value)
	}
	return size
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for expiresAt (big endian),
// 4 bytes for key length (big endian),
// N bytes for key data,
// M bytes for value data (optional)
func (command *Command) Serialize() []byte {
	totalSize := command.SizeBytes()

	result := make([]byte, totalSize)

	// Set operation type
	result[0] = byte(command.Type)

	// Set expiresAt
	binary.BigEndian.PutUint64(result[1:9], uint64(command.ExpiresAt))

	// Set key length (4 bytes, big endian)
	binary.BigEndian.PutUint32(result[9:13], uint32(len(command.Key)))

	// Copy key bytes
	keyBytes := []byte(command.Key)
	copy(result[13:13+len(keyBytes)], keyBytes)

	// Copy value if present
	if command.Value != nil {
		copy(result[13+len(keyBytes):], command.Value)
	}

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	// Minimum size: 1 (Type) + 8 (ExpiresAt) + 4 (KeyLen) = 13 bytes
	if len(data) < 13 {
		return fmt.Errorf("data too short for command")
	}

	// Extract operation type
	command.Type = CommandType(data[0])

	// Extract expiresAt
	command.ExpiresAt = int64(binary.BigEndian.Uint64(data[1:9]))

	// Extract key length
	keyLen := binary.BigEndian.Uint32(data[9:13])

	// Validate key length
	if len(data) < 13+int(keyLen) {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}

	// Extract key
	command.Key = string(data[13 : 13+keyLen])

	// Extract value if present
	if len(data) > 13+int(keyLen) {
		valueLen := len(data) - (13 + int(keyLen))
		// Reuse existing buffer if possible to reduce allocations
		if command.Value == nil || cap(command.Value) < valueLen {
			command.Value = make([]byte, valueLen)
		} else {
			command.Value = command.Value[:valueLen]
		}
		copy(command.Value, data[13+int(keyLen):])
	} else {
		command.Value = nil
	}

	return nil
}
