package instruction

import (
	"encoding/binary"
	"fmt"
)

// Bytecode is persisted inside documents as a binary string pairing two
// big-endian bytes into each 16-bit instruction word. Instruction address 1
// corresponds to the first word.

// ToBytes flattens a bytecode sequence into big-endian byte pairs.
func ToBytes(bytecode []Word) []byte {
	bytes := make([]byte, 2*len(bytecode))
	for i, w := range bytecode {
		binary.BigEndian.PutUint16(bytes[2*i:], uint16(w))
	}
	return bytes
}

// FromBytes reassembles instruction words from big-endian byte pairs.
// The byte string must have even length.
func FromBytes(bytes []byte) ([]Word, error) {
	if len(bytes)%2 != 0 {
		return nil, fmt.Errorf("instruction: bytecode has odd length %d", len(bytes))
	}
	bytecode := make([]Word, len(bytes)/2)
	for i := range bytecode {
		bytecode[i] = Word(binary.BigEndian.Uint16(bytes[2*i:]))
	}
	return bytecode, nil
}
