package compaction

import (
	"errors"
	"fmt"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

var (
	ErrRoundNotFound       = errors.New("compaction round not found")
	ErrRoundCommitted      = errors.New("compaction round already committed")
	ErrDuplicateRound      = errors.New("compaction round already proposed")
	ErrWatermarkRegress    = errors.New("compaction watermark would regress")
	ErrMissingRoot         = errors.New("no commitment root for listed session")
	ErrRootNotPreserved    = errors.New("pruned session's root is not preserved")
	ErrInvalidCommitQuorum = errors.New("invalid compaction commit signature")
)

// NotTerminalError rejects compaction proposals listing a session that has
// not reached a final status.
type NotTerminalError struct {
	SessionID keep.SessionID
	Status    keep.SessionStatus
}

func (e NotTerminalError) Error() string {
	return fmt.Sprintf("session %s is %s, only terminal sessions compact", e.SessionID, e.Status)
}

// IsNotTerminalError returns whether the error is a NotTerminalError.
func IsNotTerminalError(err error) bool {
	var target NotTerminalError
	return errors.As(err, &target)
}

// NotReadyError signals that a compaction round has not yet gathered a
// quorum of positive acknowledgments. It is a liveness condition to retry,
// not a failure.
type NotReadyError struct {
	CompactionID keep.Identifier
	Positive     uint32
	Threshold    uint32
}

func (e NotReadyError) Error() string {
	return fmt.Sprintf("compaction %s has %d of %d positive acks", e.CompactionID, e.Positive, e.Threshold)
}

// IsNotReadyError returns whether the error is a NotReadyError.
func IsNotReadyError(err error) bool {
	var target NotReadyError
	return errors.As(err, &target)
}
