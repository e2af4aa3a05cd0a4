package session

import (
	"errors"
	"fmt"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrNoParticipants   = errors.New("session has no participants")
	ErrNotParticipant   = errors.New("device is not a session participant")
	ErrNotExpired       = errors.New("session has not expired")
	ErrInvalidQuorum    = errors.New("invalid quorum proof")
)

// DuplicateSessionError rejects a later initiation of an existing session.
// It carries the ID of the event that won the initiation race as proof.
type DuplicateSessionError struct {
	SessionID    keep.SessionID
	FirstEventID keep.Identifier
}

func (e DuplicateSessionError) Error() string {
	return fmt.Sprintf("session %s already initiated by event %s", e.SessionID, e.FirstEventID)
}

// IsDuplicateSessionError returns whether the error is a
// DuplicateSessionError.
func IsDuplicateSessionError(err error) bool {
	var target DuplicateSessionError
	return errors.As(err, &target)
}

// TerminalSessionError rejects operations on sessions that already reached
// a final status.
type TerminalSessionError struct {
	SessionID keep.SessionID
	Status    keep.SessionStatus
}

func (e TerminalSessionError) Error() string {
	return fmt.Sprintf("session %s is terminal (%s)", e.SessionID, e.Status)
}

// IsTerminalSessionError returns whether the error is a
// TerminalSessionError.
func IsTerminalSessionError(err error) bool {
	var target TerminalSessionError
	return errors.As(err, &target)
}

// QuarantinedParticipantError rejects initiations that include a device
// still under quarantine.
type QuarantinedParticipantError struct {
	Participant   keep.DeviceID
	CooldownUntil uint64
}

func (e QuarantinedParticipantError) Error() string {
	return fmt.Sprintf("participant %s is quarantined until epoch %d", e.Participant, e.CooldownUntil)
}

// IsQuarantinedParticipantError returns whether the error is a
// QuarantinedParticipantError.
func IsQuarantinedParticipantError(err error) bool {
	var target QuarantinedParticipantError
	return errors.As(err, &target)
}
