package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

// InsertEvent stores an already-encoded event under its epoch-ordered key.
func InsertEvent(epoch uint64, eventID keep.Identifier, encoded []byte) func(*badger.Txn) error {
	return insertRaw(eventKey(epoch, eventID), encoded)
}

// RetrieveEvent loads the encoded bytes of the event stored under the
// given epoch and ID.
func RetrieveEvent(epoch uint64, eventID keep.Identifier, encoded *[]byte) func(*badger.Txn) error {
	return retrieveRaw(eventKey(epoch, eventID), encoded)
}

// IterateEvents visits every stored event's encoded bytes in epoch order.
func IterateEvents(visit func(eventID keep.Identifier, encoded []byte) (bool, error)) func(*badger.Txn) error {
	return iterate(makePrefix(codeEvent), func(key []byte, val []byte) (bool, error) {
		return visit(eventKeyID(key), val)
	})
}

// EventKeysBefore collects the keys of all events with epoch < before,
// excluding the given IDs.
func EventKeysBefore(before uint64, exclude map[keep.Identifier]struct{}, keys *[][]byte) func(*badger.Txn) error {
	return iterate(makePrefix(codeEvent), func(key []byte, _ []byte) (bool, error) {
		if eventKeyEpoch(key) >= before {
			// keys are epoch-ordered, nothing further qualifies
			return false, nil
		}
		if _, preserved := exclude[eventKeyID(key)]; preserved {
			return true, nil
		}
		*keys = append(*keys, key)
		return true, nil
	})
}

// RemoveKeys deletes all given keys.
func RemoveKeys(keys [][]byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		for _, key := range keys {
			err := remove(key)(tx)
			if err != nil {
				return err
			}
		}
		return nil
	}
}
