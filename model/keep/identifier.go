package keep

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v4"
	"golang.org/x/crypto/sha3"
)

// IdentifierLen is the byte length of an Identifier.
const IdentifierLen = 32

// Identifier is a 32-byte content hash used to reference devices, events,
// sessions and commitment roots.
type Identifier [IdentifierLen]byte

// DeviceID identifies a device by the hash of its public identity key.
type DeviceID = Identifier

// SessionID identifies a protocol session.
type SessionID = Identifier

// ZeroID is the zero value of an Identifier, used as a placeholder for
// absent references (e.g. the parent of the first event in a log).
var ZeroID = Identifier{}

// String returns the hex string representation of the identifier.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns whether the identifier equals the zero value.
func (id Identifier) IsZero() bool {
	return id == ZeroID
}

// MarshalText implements encoding.TextMarshaler so identifiers render as hex
// in JSON and log output.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := HexStringToIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// HexStringToIdentifier parses a hex string into an Identifier.
func HexStringToIdentifier(hexString string) (Identifier, error) {
	var id Identifier
	raw, err := hex.DecodeString(hexString)
	if err != nil {
		return id, fmt.Errorf("could not decode hex string: %w", err)
	}
	if len(raw) != IdentifierLen {
		return id, fmt.Errorf("malformed identifier, expected %d bytes, got %d", IdentifierLen, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// HashToID hashes arbitrary bytes into an Identifier using SHA3-256.
func HashToID(data []byte) Identifier {
	return Identifier(sha3.Sum256(data))
}

// MakeID canonically encodes the given entity and hashes the encoding into
// an Identifier. Entities must be deterministic under msgpack encoding
// (no maps in hashed fields).
func MakeID(entity interface{}) Identifier {
	data, err := msgpack.Marshal(entity)
	if err != nil {
		// encoding a value we fully control should never fail
		panic(fmt.Sprintf("could not fingerprint entity: %v", err))
	}
	return HashToID(data)
}

// ConcatHash hashes the concatenation of the given identifiers. Used for
// lottery tickets and other order-sensitive derived hashes.
func ConcatHash(ids ...Identifier) Identifier {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.Write(id[:])
	}
	return HashToID(buf.Bytes())
}

// IdentifierList is a sortable slice of identifiers.
type IdentifierList []Identifier

func (l IdentifierList) Len() int           { return len(l) }
func (l IdentifierList) Less(i, j int) bool { return bytes.Compare(l[i][:], l[j][:]) < 0 }
func (l IdentifierList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// Contains returns whether the list contains the given identifier.
func (l IdentifierList) Contains(target Identifier) bool {
	for _, id := range l {
		if id == target {
			return true
		}
	}
	return false
}
