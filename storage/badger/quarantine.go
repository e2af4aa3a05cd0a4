package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/storage"
	"github.com/quorumkeep/quorumkeep/storage/badger/operation"
)

// QuarantineRecords persists quarantine records so that the audit trail of
// blamed devices survives restarts and compaction.
type QuarantineRecords struct {
	db *badger.DB
}

var _ storage.QuarantineRecords = (*QuarantineRecords)(nil)

func NewQuarantineRecords(db *badger.DB) *QuarantineRecords {
	return &QuarantineRecords{db: db}
}

func (q *QuarantineRecords) Upsert(record keep.QuarantineRecord) error {
	err := q.db.Update(operation.UpsertQuarantine(record))
	if err != nil {
		return fmt.Errorf("could not store quarantine record: %w", err)
	}
	return nil
}

func (q *QuarantineRecords) ByParticipant(device keep.DeviceID) (keep.QuarantineRecord, error) {
	var record keep.QuarantineRecord
	err := q.db.View(operation.RetrieveQuarantine(device, &record))
	if err != nil {
		return keep.QuarantineRecord{}, err
	}
	return record, nil
}

func (q *QuarantineRecords) Remove(device keep.DeviceID) error {
	err := q.db.Update(operation.RemoveQuarantine(device))
	if err != nil {
		return fmt.Errorf("could not remove quarantine record: %w", err)
	}
	return nil
}

func (q *QuarantineRecords) All() ([]keep.QuarantineRecord, error) {
	var records []keep.QuarantineRecord
	err := q.db.View(operation.IterateQuarantine(func(record keep.QuarantineRecord) (bool, error) {
		records = append(records, record)
		return true, nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not iterate quarantine records: %w", err)
	}
	return records, nil
}
