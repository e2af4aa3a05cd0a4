// Package badger implements the storage interfaces on a badger key-value
// store.
package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/network/codec"
	"github.com/quorumkeep/quorumkeep/storage"
	"github.com/quorumkeep/quorumkeep/storage/badger/operation"
)

// Events persists journal events, keyed by epoch so pruning and replay are
// sequential scans. Events are stored in their wire encoding.
type Events struct {
	db    *badger.DB
	codec codec.Codec
	index map[keep.Identifier]uint64
}

var _ storage.Events = (*Events)(nil)

// NewEvents creates the event store and loads the in-memory epoch index.
func NewEvents(db *badger.DB, eventCodec codec.Codec) (*Events, error) {
	e := &Events{
		db:    db,
		codec: eventCodec,
		index: make(map[keep.Identifier]uint64),
	}
	err := db.View(operation.IterateEvents(func(eventID keep.Identifier, encoded []byte) (bool, error) {
		event, err := eventCodec.Decode(encoded)
		if err != nil {
			return false, err
		}
		e.index[eventID] = event.EpochAtWrite
		return true, nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not build event index: %w", err)
	}
	return e, nil
}

// Store persists an event. Storing the same event twice is a no-op.
func (e *Events) Store(event *keep.Event) error {
	eventID := event.ID()
	if _, ok := e.index[eventID]; ok {
		return nil
	}
	encoded, err := e.codec.Encode(event)
	if err != nil {
		return fmt.Errorf("could not encode event: %w", err)
	}
	err = e.db.Update(operation.InsertEvent(event.EpochAtWrite, eventID, encoded))
	if err != nil {
		return fmt.Errorf("could not store event: %w", err)
	}
	e.index[eventID] = event.EpochAtWrite
	return nil
}

// ByID retrieves the event with the given ID.
func (e *Events) ByID(eventID keep.Identifier) (*keep.Event, error) {
	epoch, ok := e.index[eventID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var encoded []byte
	err := e.db.View(operation.RetrieveEvent(epoch, eventID, &encoded))
	if err != nil {
		return nil, err
	}
	event, err := e.codec.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("could not decode event: %w", err)
	}
	return event, nil
}

// All returns every persisted event in epoch order.
func (e *Events) All() ([]*keep.Event, error) {
	var events []*keep.Event
	err := e.db.View(operation.IterateEvents(func(_ keep.Identifier, encoded []byte) (bool, error) {
		event, err := e.codec.Decode(encoded)
		if err != nil {
			return false, err
		}
		events = append(events, event)
		return true, nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not iterate events: %w", err)
	}
	return events, nil
}

// PruneBefore removes events with epoch_at_write < epoch, keeping events
// whose ID is listed in preserve.
func (e *Events) PruneBefore(epoch uint64, preserve map[keep.Identifier]struct{}) (int, error) {
	var keys [][]byte
	err := e.db.View(operation.EventKeysBefore(epoch, preserve, &keys))
	if err != nil {
		return 0, fmt.Errorf("could not collect prunable events: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	err = e.db.Update(operation.RemoveKeys(keys))
	if err != nil {
		return 0, fmt.Errorf("could not remove events: %w", err)
	}
	for id, at := range e.index {
		if at < epoch {
			if _, keepIt := preserve[id]; !keepIt {
				delete(e.index, id)
			}
		}
	}
	return len(keys), nil
}
