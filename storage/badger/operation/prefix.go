package operation

import (
	"encoding/binary"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

// key prefixes; values are part of the on-disk format and must not change
const (
	codeEvent          = 1
	codeCommitmentRoot = 2
	codeMerkleProof    = 3
	codeQuarantine     = 4
)

// makePrefix returns the single-byte key prefix for a code.
func makePrefix(code byte) []byte {
	return []byte{code}
}

// eventKey orders events by epoch first so prune and range scans are
// sequential reads: prefix | epoch (big endian) | event ID.
func eventKey(epoch uint64, eventID keep.Identifier) []byte {
	key := make([]byte, 0, 1+8+keep.IdentifierLen)
	key = append(key, codeEvent)
	key = binary.BigEndian.AppendUint64(key, epoch)
	key = append(key, eventID[:]...)
	return key
}

// eventKeyEpoch extracts the epoch from an event key.
func eventKeyEpoch(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[1 : 1+8])
}

// eventKeyID extracts the event ID from an event key.
func eventKeyID(key []byte) keep.Identifier {
	var id keep.Identifier
	copy(id[:], key[1+8:])
	return id
}

// idKey builds prefix | identifier keys for the entity stores.
func idKey(code byte, id keep.Identifier) []byte {
	key := make([]byte, 0, 1+keep.IdentifierLen)
	key = append(key, code)
	key = append(key, id[:]...)
	return key
}
