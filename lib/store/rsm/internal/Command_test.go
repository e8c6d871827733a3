package internal

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Store command with value",
			command: Command{
				Type:      CommandTStore,
				Key:       "testkey",
				ExpiresAt: 1700000000000,
				Value:     []byte("testvalue"),
			},
		},
		{
			name: "Remove command without value",
			command: Command{
				Type:  CommandTRemove,
				Key:   "testkey",
				Value: nil,
			},
		},
		{
			name: "Clear command with empty key",
			command: Command{
				Type: CommandTClear,
			},
		},
		{
			name: "Command with binary value",
			command: Command{
				Type:      CommandTStore,
				Key:       "binary",
				ExpiresAt: 42,
				Value:     []byte{0, 1, 2, 3, 254, 255},
			},
		},
		{
			name: "Command with Unicode key",
			command: Command{
				Type:  CommandTStore,
				Key:   "你好世界",
				Value: []byte("unicode test"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var newCommand Command
			if err := newCommand.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if newCommand.Key != tt.command.Key {
				t.Errorf("Key mismatch: got %q, want %q", newCommand.Key, tt.command.Key)
			}
			if newCommand.ExpiresAt != tt.command.ExpiresAt {
				t.Errorf("ExpiresAt mismatch: got %v, want %v", newCommand.ExpiresAt, tt.command.ExpiresAt)
			}

			// Value comparison handling nil case
			if tt.command.Value == nil {
				if len(newCommand.Value) != 0 {
					t.Errorf("Value should be nil or empty, got %v", newCommand.Value)
				}
			} else if !bytes.Equal(newCommand.Value, tt.command.Value) {
				t.Errorf("Value mismatch: got %v, want %v", newCommand.Value, tt.command.Value)
			}

			// Verify that SizeBytes matches the serialized data length
			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d",
					tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, 13) // Just the header
				data[0] = byte(CommandTStore)
				binary.BigEndian.PutUint32(data[9:13], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)

			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:      CommandTStore,
		Key:       "testkey",
		ExpiresAt: 12345,
		Value:     []byte("testvalue"),
	}

	expected := make([]byte, cmd.SizeBytes())
	expected[0] = byte(CommandTStore)
	binary.BigEndian.PutUint64(expected[1:9], 12345)
	binary.BigEndian.PutUint32(expected[9:13], 7) // "testkey" length
	copy(expected[13:20], []byte("testkey"))
	copy(expected[20:], []byte("testvalue"))

	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestBufferReuse tests that Deserialize reuses the value buffer when possible
func TestBufferReuse(t *testing.T) {
	cmd := Command{
		Type:  CommandTStore,
		Key:   "key",
		Value: []byte("original value"),
	}

	cmd2 := Command{
		Type:  CommandTStore,
		Key:   "key",
		Value: []byte("changed value"),
	}
	if err := cmd.Deserialize(cmd2.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if !bytes.Equal(cmd.Value, []byte("changed value")) {
		t.Errorf("Value not correctly deserialized: got %q", string(cmd.Value))
	}

	// A larger value must grow the buffer.
	cmd3 := Command{
		Type:  CommandTStore,
		Key:   "key",
		Value: []byte("this is a much longer value that won't fit in the original buffer"),
	}
	beforeCap := cap(cmd.Value)
	if err := cmd.Deserialize(cmd3.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if cap(cmd.Value) <= beforeCap {
		t.Errorf("Buffer capacity did not increase for larger value: still %d", cap(cmd.Value))
	}
	if !bytes.Equal(cmd.Value, cmd3.Value) {
		t.Errorf("Value not correctly deserialized")
	}
}
