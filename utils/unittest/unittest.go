package unittest

import (
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/require"
)

// TempDir creates a temporary directory that is removed when the test
// finishes.
func TempDir(t testing.TB) string {
	dir, err := os.MkdirTemp("", "quorumkeep-testing-")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}

// BadgerDB opens a badger database in the given directory.
func BadgerDB(t testing.TB, dir string) *badger.DB {
	opts := badger.
		DefaultOptions(dir).
		WithKeepL0InMemory(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	return db
}

// RunWithBadgerDB runs the test body against a fresh badger database and
// tears it down afterwards.
func RunWithBadgerDB(t testing.TB, f func(*badger.DB)) {
	dir := TempDir(t)
	db := BadgerDB(t, dir)
	defer func() {
		require.NoError(t, db.Close())
	}()
	f(db)
}

// RequireReturnsBefore requires that the given function returns before the
// duration expires.
func RequireReturnsBefore(t testing.TB, f func(), duration time.Duration) {
	done := make(chan struct{})

	go func() {
		f()
		close(done)
	}()

	select {
	case <-time.After(duration):
		require.Fail(t, "function did not return in time")
	case <-done:
		return
	}
}
