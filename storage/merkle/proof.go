package merkle

import (
	"bytes"

	"github.com/fxamacker/cbor/v2"
)

// Proof captures all data needed to prove inclusion of a single leaf under
// a published root hash without revealing the rest of the tree. Each
// participant holds the proof for its own contribution.
type Proof struct {
	// LeafHash is the hash of the proven leaf value.
	LeafHash []byte
	// SiblingPath lists the sibling hash at every level, leaf level first.
	SiblingPath [][]byte
	// LeafIndex is the leaf's position in the tree's canonical leaf order.
	LeafIndex uint64
}

// Verify reconstructs the root hash bottom-up and cross-checks it against
// the expected one. It returns nil for a valid proof, a MalformedProofError
// if the proof structure is broken, and an InvalidProofError if the
// reconstructed root does not match.
func (p *Proof) Verify(expectedRoot []byte) error {
	if len(p.LeafHash) == 0 {
		return NewMalformedProofErrorf("empty leaf hash")
	}

	current := p.LeafHash
	pos := p.LeafIndex
	for _, sibling := range p.SiblingPath {
		if len(sibling) != len(p.LeafHash) {
			return NewMalformedProofErrorf("sibling hash has wrong length %d", len(sibling))
		}
		if pos&1 == 0 {
			current = computeNodeHash(current, sibling)
		} else {
			current = computeNodeHash(sibling, current)
		}
		pos >>= 1
	}
	if pos != 0 {
		return NewMalformedProofErrorf("leaf index %d exceeds tree height %d", p.LeafIndex, len(p.SiblingPath))
	}

	if !bytes.Equal(current, expectedRoot) {
		return NewInvalidProofErrorf("root hash not matched")
	}
	return nil
}

// Encode serializes the proof for embedding in event payloads.
func (p *Proof) Encode() ([]byte, error) {
	return cbor.Marshal(p)
}

// DecodeProof deserializes a proof previously produced by Encode.
func DecodeProof(data []byte) (*Proof, error) {
	var proof Proof
	err := cbor.Unmarshal(data, &proof)
	if err != nil {
		return nil, NewMalformedProofErrorf("could not decode proof: %v", err)
	}
	return &proof, nil
}
