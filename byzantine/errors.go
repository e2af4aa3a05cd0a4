package byzantine

import (
	"errors"
	"fmt"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

var (
	ErrDuplicateCommitment = errors.New("duplicate commitment")
	ErrDuplicateReveal     = errors.New("duplicate reveal")
	ErrNoCommitment        = errors.New("reveal without prior commitment")
	ErrNotQuarantined      = errors.New("device is not quarantined")
)

// CommitmentMismatchError reports a reveal whose hash does not match the
// participant's earlier commitment. The offending reveal is still recorded
// in the journal as auditable evidence.
type CommitmentMismatchError struct {
	SessionID   keep.SessionID
	Participant keep.DeviceID
	Committed   keep.Identifier
	Revealed    keep.Identifier
}

func (e CommitmentMismatchError) Error() string {
	return fmt.Sprintf("participant %s revealed %s but committed %s in session %s",
		e.Participant, e.Revealed, e.Committed, e.SessionID)
}

// IsCommitmentMismatchError returns whether the error is a
// CommitmentMismatchError.
func IsCommitmentMismatchError(err error) bool {
	var target CommitmentMismatchError
	return errors.As(err, &target)
}

// CooldownActiveError rejects reinstatement requests made before the
// quarantine cooldown elapsed.
type CooldownActiveError struct {
	Participant   keep.DeviceID
	CooldownUntil uint64
}

func (e CooldownActiveError) Error() string {
	return fmt.Sprintf("device %s is in cooldown until epoch %d", e.Participant, e.CooldownUntil)
}

// IsCooldownActiveError returns whether the error is a CooldownActiveError.
func IsCooldownActiveError(err error) bool {
	var target CooldownActiveError
	return errors.As(err, &target)
}
