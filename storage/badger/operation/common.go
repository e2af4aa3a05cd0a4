package operation

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	jsoniter "github.com/json-iterator/go"

	"github.com/quorumkeep/quorumkeep/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// insert will encode the given entity using JSON and will insert the
// resulting binary data in the badger DB under the provided key. It will
// error if the key already exists.
func insert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {

		_, err := tx.Get(key)
		if err == nil {
			return storage.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("could not check key: %w", err)
		}

		val, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}

		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}

		return nil
	}
}

// upsert encodes the entity and writes it under the key, overwriting any
// previous value.
func upsert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		val, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}
		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// insertRaw stores pre-encoded bytes under the key, erroring if the key
// already exists.
func insertRaw(key []byte, val []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if err == nil {
			return storage.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("could not check key: %w", err)
		}
		err = tx.Set(key, val)
		if err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// retrieve will retrieve and JSON-decode the binary data under the given
// key into the given entity. Returns storage.ErrNotFound if the key does
// not exist.
func retrieve(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {

		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}

		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, entity)
		})
		if err != nil {
			return fmt.Errorf("could not decode entity: %w", err)
		}

		return nil
	}
}

// retrieveRaw retrieves the raw bytes under the given key.
func retrieveRaw(key []byte, val *[]byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}
		*val, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("could not copy value: %w", err)
		}
		return nil
	}
}

// remove deletes the entry under the given key. Missing keys are not an
// error, so removal is idempotent.
func remove(key []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		err := tx.Delete(key)
		if err != nil {
			return fmt.Errorf("could not delete key: %w", err)
		}
		return nil
	}
}

// iterate visits the raw value of every key with the given prefix, in key
// order. The visitor may return false to stop the iteration.
func iterate(prefix []byte, visit func(key []byte, val []byte) (bool, error)) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("could not copy value: %w", err)
			}
			cont, err := visit(item.KeyCopy(nil), val)
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	}
}
