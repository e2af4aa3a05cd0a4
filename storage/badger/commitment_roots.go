package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/storage"
	"github.com/quorumkeep/quorumkeep/storage/badger/operation"
)

// CommitmentRoots persists finalized commitment roots. Roots are permanent
// account state; the store offers no removal and compaction never touches
// this prefix.
type CommitmentRoots struct {
	db *badger.DB
}

var _ storage.CommitmentRoots = (*CommitmentRoots)(nil)

func NewCommitmentRoots(db *badger.DB) *CommitmentRoots {
	return &CommitmentRoots{db: db}
}

// Store persists a root. Storing an identical root twice is a no-op;
// storing a different root for the same session is a data mismatch.
func (c *CommitmentRoots) Store(root keep.CommitmentRoot) error {
	err := c.db.Update(operation.InsertCommitmentRoot(root))
	if errors.Is(err, storage.ErrAlreadyExists) {
		existing, lookupErr := c.BySession(root.SessionID)
		if lookupErr != nil {
			return lookupErr
		}
		if existing != root {
			return fmt.Errorf("root for session %s: %w", root.SessionID, storage.ErrDataMismatch)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not store commitment root: %w", err)
	}
	return nil
}

func (c *CommitmentRoots) BySession(sessionID keep.SessionID) (keep.CommitmentRoot, error) {
	var root keep.CommitmentRoot
	err := c.db.View(operation.RetrieveCommitmentRoot(sessionID, &root))
	if err != nil {
		return keep.CommitmentRoot{}, err
	}
	return root, nil
}

func (c *CommitmentRoots) All() ([]keep.CommitmentRoot, error) {
	var roots []keep.CommitmentRoot
	err := c.db.View(operation.IterateCommitmentRoots(func(root keep.CommitmentRoot) (bool, error) {
		roots = append(roots, root)
		return true, nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not iterate commitment roots: %w", err)
	}
	return roots, nil
}
