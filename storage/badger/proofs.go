package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/storage"
	"github.com/quorumkeep/quorumkeep/storage/badger/operation"
)

// MerkleProofs persists this device's own inclusion proofs. After a
// compaction prunes the underlying events, these proofs are the device's
// only way to demonstrate its past contributions against a commitment
// root.
type MerkleProofs struct {
	db *badger.DB
}

var _ storage.MerkleProofs = (*MerkleProofs)(nil)

func NewMerkleProofs(db *badger.DB) *MerkleProofs {
	return &MerkleProofs{db: db}
}

func (m *MerkleProofs) Store(sessionID keep.SessionID, proof []byte) error {
	err := m.db.Update(operation.UpsertMerkleProof(sessionID, proof))
	if err != nil {
		return fmt.Errorf("could not store merkle proof: %w", err)
	}
	return nil
}

func (m *MerkleProofs) BySession(sessionID keep.SessionID) ([]byte, error) {
	var proof []byte
	err := m.db.View(operation.RetrieveMerkleProof(sessionID, &proof))
	if err != nil {
		return nil, err
	}
	return proof, nil
}

func (m *MerkleProofs) Sessions() (keep.IdentifierList, error) {
	var sessions keep.IdentifierList
	err := m.db.View(operation.IterateMerkleProofSessions(func(sessionID keep.SessionID) (bool, error) {
		sessions = append(sessions, sessionID)
		return true, nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not iterate proofs: %w", err)
	}
	return sessions, nil
}
