// Package storage defines the persistence interfaces of the substrate and
// their shared error sentinels. Implementations live in storage/badger.
package storage

import (
	"github.com/quorumkeep/quorumkeep/model/keep"
)

// Events persists the replica's journal so that it survives restarts.
type Events interface {
	// Store persists an event. Storing the same event twice is a no-op.
	Store(event *keep.Event) error

	// ByID retrieves the event with the given ID. Returns ErrNotFound if
	// it is not present.
	ByID(eventID keep.Identifier) (*keep.Event, error)

	// All returns every persisted event.
	All() ([]*keep.Event, error)

	// PruneBefore removes events with epoch_at_write < epoch, keeping any
	// event whose ID is listed in preserve. It returns the number of
	// removed events.
	PruneBefore(epoch uint64, preserve map[keep.Identifier]struct{}) (int, error)
}

// CommitmentRoots persists finalized commitment roots. Roots are permanent
// and must never be removed.
type CommitmentRoots interface {
	Store(root keep.CommitmentRoot) error
	BySession(sessionID keep.SessionID) (keep.CommitmentRoot, error)
	All() ([]keep.CommitmentRoot, error)
}

// MerkleProofs persists this device's own inclusion proofs, which it must
// be able to present after history is compacted away.
type MerkleProofs interface {
	Store(sessionID keep.SessionID, proof []byte) error
	BySession(sessionID keep.SessionID) ([]byte, error)
	Sessions() (keep.IdentifierList, error)
}

// QuarantineRecords persists quarantine records for audit across restarts.
type QuarantineRecords interface {
	Upsert(record keep.QuarantineRecord) error
	ByParticipant(device keep.DeviceID) (keep.QuarantineRecord, error)
	Remove(device keep.DeviceID) error
	All() ([]keep.QuarantineRecord, error)
}
