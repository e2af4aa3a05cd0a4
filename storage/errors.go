package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned when a key is not present in persistent
	// storage. Note: badger.ErrKeyNotFound is the error returned by the
	// badger API; modules in storage/badger and storage/badger/operation
	// translate it to ErrNotFound.
	ErrNotFound = errors.New("key not found")

	ErrAlreadyExists = errors.New("key already exists")
	ErrDataMismatch  = errors.New("data for key is different")
)
