package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

// InsertCommitmentRoot stores a commitment root. Roots are permanent; there
// is deliberately no removal operation.
func InsertCommitmentRoot(root keep.CommitmentRoot) func(*badger.Txn) error {
	return insert(idKey(codeCommitmentRoot, root.SessionID), root)
}

// RetrieveCommitmentRoot loads the root finalized by the given session.
func RetrieveCommitmentRoot(sessionID keep.SessionID, root *keep.CommitmentRoot) func(*badger.Txn) error {
	return retrieve(idKey(codeCommitmentRoot, sessionID), root)
}

// IterateCommitmentRoots visits every stored commitment root.
func IterateCommitmentRoots(visit func(root keep.CommitmentRoot) (bool, error)) func(*badger.Txn) error {
	return iterate(makePrefix(codeCommitmentRoot), func(_ []byte, val []byte) (bool, error) {
		var root keep.CommitmentRoot
		err := json.Unmarshal(val, &root)
		if err != nil {
			return false, err
		}
		return visit(root)
	})
}

// UpsertMerkleProof stores this device's own inclusion proof for a session.
func UpsertMerkleProof(sessionID keep.SessionID, proof []byte) func(*badger.Txn) error {
	return upsert(idKey(codeMerkleProof, sessionID), proof)
}

// RetrieveMerkleProof loads the stored proof for a session.
func RetrieveMerkleProof(sessionID keep.SessionID, proof *[]byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		var raw []byte
		err := retrieveRaw(idKey(codeMerkleProof, sessionID), &raw)(tx)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, proof)
	}
}

// IterateMerkleProofSessions visits the session ID of every stored proof.
func IterateMerkleProofSessions(visit func(sessionID keep.SessionID) (bool, error)) func(*badger.Txn) error {
	return iterate(makePrefix(codeMerkleProof), func(key []byte, _ []byte) (bool, error) {
		var id keep.Identifier
		copy(id[:], key[1:])
		return visit(id)
	})
}

// UpsertQuarantine stores or updates a quarantine record.
func UpsertQuarantine(record keep.QuarantineRecord) func(*badger.Txn) error {
	return upsert(idKey(codeQuarantine, record.Participant), record)
}

// RetrieveQuarantine loads the quarantine record of a device.
func RetrieveQuarantine(device keep.DeviceID, record *keep.QuarantineRecord) func(*badger.Txn) error {
	return retrieve(idKey(codeQuarantine, device), record)
}

// RemoveQuarantine deletes the quarantine record of a device, e.g. after
// successful reinstatement.
func RemoveQuarantine(device keep.DeviceID) func(*badger.Txn) error {
	return remove(idKey(codeQuarantine, device))
}

// IterateQuarantine visits every stored quarantine record.
func IterateQuarantine(visit func(record keep.QuarantineRecord) (bool, error)) func(*badger.Txn) error {
	return iterate(makePrefix(codeQuarantine), func(_ []byte, val []byte) (bool, error) {
		var record keep.QuarantineRecord
		err := json.Unmarshal(val, &record)
		if err != nil {
			return false, err
		}
		return visit(record)
	})
}
