package lock

import (
	"errors"
	"fmt"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

var (
	ErrNoRequests      = errors.New("no lock requests for scope")
	ErrNotHolder       = errors.New("device does not hold the lock")
	ErrNoLock          = errors.New("no lock exists for scope")
	ErrInvalidGrantSig = errors.New("invalid grant threshold signature")
	ErrStaleGrant      = errors.New("grant TTL lapsed before it was applied")
	ErrWrongWinner     = errors.New("grant names a device other than the lottery winner")
)

// LockHeldError rejects a request for a scope whose lock is still live.
type LockHeldError struct {
	Scope       keep.LockScope
	Holder      keep.DeviceID
	ExpiresAt   uint64
	RequestedBy keep.DeviceID
}

func (e LockHeldError) Error() string {
	return fmt.Sprintf("scope %s is locked by %s until epoch %d (requested by %s)",
		e.Scope, e.Holder, e.ExpiresAt, e.RequestedBy)
}

// IsLockHeldError returns whether the error is a LockHeldError.
func IsLockHeldError(err error) bool {
	var target LockHeldError
	return errors.As(err, &target)
}
