package keep

import (
	"fmt"
)

// SessionStatus is the lifecycle state of a protocol session. Transitions
// are monotone: Initializing -> Active -> one of the terminal states.
// Terminal states never transition.
type SessionStatus uint8

const (
	SessionInitializing SessionStatus = iota
	SessionActive
	SessionCompleted
	SessionAborted
	SessionTimedOut
	SessionCancelled
)

func (s SessionStatus) String() string {
	switch s {
	case SessionInitializing:
		return "Initializing"
	case SessionActive:
		return "Active"
	case SessionCompleted:
		return "Completed"
	case SessionAborted:
		return "Aborted"
	case SessionTimedOut:
		return "TimedOut"
	case SessionCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("SessionStatus(%d)", s)
	}
}

// Terminal returns whether the status is final.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionAborted, SessionTimedOut, SessionCancelled:
		return true
	default:
		return false
	}
}

// ValidTransition returns whether the lifecycle permits moving from s to
// next.
func (s SessionStatus) ValidTransition(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case SessionInitializing:
		return next == SessionActive || next.Terminal()
	case SessionActive:
		return next.Terminal()
	default:
		return false
	}
}

// ProtocolKind tags the protocol a session belongs to. The session
// lifecycle is shared across all kinds; only the phase payload routing
// differs.
type ProtocolKind uint8

const (
	ProtocolDkd ProtocolKind = iota + 1
	ProtocolResharing
	ProtocolRecovery
	ProtocolCompaction
	ProtocolLockAcquisition
	ProtocolReinstatement
)

func (k ProtocolKind) String() string {
	switch k {
	case ProtocolDkd:
		return "dkd"
	case ProtocolResharing:
		return "resharing"
	case ProtocolRecovery:
		return "recovery"
	case ProtocolCompaction:
		return "compaction"
	case ProtocolLockAcquisition:
		return "lock_acquisition"
	case ProtocolReinstatement:
		return "reinstatement"
	default:
		return fmt.Sprintf("ProtocolKind(%d)", k)
	}
}

// PhaseData accumulates protocol-specific contributions. The substrate
// routes contributions into these collections without interpreting their
// cryptographic meaning.
type PhaseData struct {
	// Commitments maps participant to its recorded commitment
	// (commit/reveal protocols).
	Commitments map[DeviceID]Identifier
	// Reveals maps participant to its revealed value.
	Reveals map[DeviceID][]byte
	// SubShares tracks resharing sub-share delivery: sender -> receivers
	// acknowledged.
	SubShares map[DeviceID]IdentifierList
	// SubShareAcks tracks acknowledged deliveries keyed by sender, listing
	// receivers that confirmed.
	SubShareAcks map[DeviceID]IdentifierList
	// Approvals maps guardian to approval outcome (recovery).
	Approvals map[DeviceID]bool
	// RecoveryShares counts guardians whose encrypted shares arrived.
	RecoveryShares map[DeviceID]struct{}
}

// NewPhaseData returns empty phase collections.
func NewPhaseData() PhaseData {
	return PhaseData{
		Commitments:    make(map[DeviceID]Identifier),
		Reveals:        make(map[DeviceID][]byte),
		SubShares:      make(map[DeviceID]IdentifierList),
		SubShareAcks:   make(map[DeviceID]IdentifierList),
		Approvals:      make(map[DeviceID]bool),
		RecoveryShares: make(map[DeviceID]struct{}),
	}
}

// Copy returns a deep copy of the phase collections.
func (p PhaseData) Copy() PhaseData {
	out := NewPhaseData()
	for device, commitment := range p.Commitments {
		out.Commitments[device] = commitment
	}
	for device, value := range p.Reveals {
		out.Reveals[device] = append([]byte(nil), value...)
	}
	for sender, receivers := range p.SubShares {
		out.SubShares[sender] = append(IdentifierList(nil), receivers...)
	}
	for sender, receivers := range p.SubShareAcks {
		out.SubShareAcks[sender] = append(IdentifierList(nil), receivers...)
	}
	for guardian, approved := range p.Approvals {
		out.Approvals[guardian] = approved
	}
	for guardian := range p.RecoveryShares {
		out.RecoveryShares[guardian] = struct{}{}
	}
	return out
}

// ProtocolSession is the shared envelope for every multi-party protocol
// run. It is part of materialized account state and is never mutated
// outside the materializer's fold.
type ProtocolSession struct {
	SessionID    SessionID
	Protocol     ProtocolKind
	Initiator    DeviceID
	Participants IdentifierList
	Threshold    uint32
	StartEpoch   uint64
	TTLInEpochs  uint64
	Status       SessionStatus
	Reason       AbortReason
	// InitiatedBy is the ID of the event that won the initiation race,
	// serving as proof against later duplicate initiations.
	InitiatedBy Identifier
	Phase       PhaseData
}

// Copy returns a deep copy of the session, detached from the original's
// participant list and phase collections.
func (s *ProtocolSession) Copy() *ProtocolSession {
	out := *s
	out.Participants = append(IdentifierList(nil), s.Participants...)
	out.Phase = s.Phase.Copy()
	return &out
}

// HasParticipant returns whether the device takes part in the session.
func (s *ProtocolSession) HasParticipant(device DeviceID) bool {
	return s.Participants.Contains(device)
}

// Expired returns whether the session's TTL has lapsed at the given epoch.
func (s *ProtocolSession) Expired(currentEpoch uint64) bool {
	return currentEpoch > s.StartEpoch+s.TTLInEpochs
}

// CommitmentQuorum returns whether at least Threshold commitments have been
// recorded.
func (s *ProtocolSession) CommitmentQuorum() bool {
	return uint32(len(s.Phase.Commitments)) >= s.Threshold
}

// RevealQuorum returns whether at least Threshold reveals have been
// recorded.
func (s *ProtocolSession) RevealQuorum() bool {
	return uint32(len(s.Phase.Reveals)) >= s.Threshold
}
