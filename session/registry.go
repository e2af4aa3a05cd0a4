// Package session implements the generic lifecycle manager shared by every
// multi-party protocol: key derivation, participant-set change, guardian
// recovery, reinstatement and compaction all run through the same
// Initializing -> Active -> terminal state machine, differing only in
// which phase payloads they route.
package session

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/module"
	"github.com/quorumkeep/quorumkeep/state"
)

// Registry validates session operations against materialized state and
// produces the events that drive them. It holds no state of its own; the
// journal is the single source of truth.
type Registry struct {
	log      zerolog.Logger
	verifier module.ThresholdVerifier
}

// NewRegistry creates a session registry.
func NewRegistry(log zerolog.Logger, verifier module.ThresholdVerifier) *Registry {
	return &Registry{
		log:      log.With().Str("component", "session_registry").Logger(),
		verifier: verifier,
	}
}

// Initiate validates and builds the initiation payload for a new session.
// The first valid initiation for a session ID wins; later duplicates are
// rejected with proof of the first.
func (r *Registry) Initiate(
	st *state.AccountState,
	sessionID keep.SessionID,
	protocol keep.ProtocolKind,
	participants keep.IdentifierList,
	threshold uint32,
	ttlInEpochs uint64,
) (keep.InitiateSession, error) {

	if existing, ok := st.Session(sessionID); ok {
		return keep.InitiateSession{}, DuplicateSessionError{
			SessionID:    sessionID,
			FirstEventID: existing.InitiatedBy,
		}
	}
	if len(participants) == 0 {
		return keep.InitiateSession{}, ErrNoParticipants
	}
	if threshold == 0 || threshold > uint32(len(participants)) {
		return keep.InitiateSession{}, fmt.Errorf("threshold %d for %d participants: %w",
			threshold, len(participants), ErrInvalidThreshold)
	}
	if protocol != keep.ProtocolReinstatement {
		for _, participant := range participants {
			if record, ok := st.Quarantine[participant]; ok && record.Active(st.LogicalEpoch) {
				return keep.InitiateSession{}, QuarantinedParticipantError{
					Participant:   participant,
					CooldownUntil: record.CooldownUntilEpoch,
				}
			}
		}
	}

	r.log.Info().
		Hex("session", sessionID[:]).
		Str("protocol", protocol.String()).
		Int("participants", len(participants)).
		Uint32("threshold", threshold).
		Msg("initiating session")

	return keep.InitiateSession{
		SessionID:    sessionID,
		Protocol:     protocol,
		Participants: participants,
		Threshold:    threshold,
		StartEpoch:   st.LogicalEpoch,
		TTLInEpochs:  ttlInEpochs,
	}, nil
}

// AdvancePhase validates that a protocol-specific contribution may be
// routed into the session's phase data. The contribution's cryptographic
// meaning is not interpreted here; that is the business of the byzantine
// validator and the consumed crypto library.
func (r *Registry) AdvancePhase(st *state.AccountState, author keep.DeviceID, contribution keep.SessionPayload) error {
	session, ok := st.Session(contribution.Session())
	if !ok {
		return fmt.Errorf("session %s: %w", contribution.Session(), ErrSessionNotFound)
	}
	if session.Status.Terminal() {
		return TerminalSessionError{SessionID: session.SessionID, Status: session.Status}
	}
	if !session.HasParticipant(author) && author != session.Initiator {
		return fmt.Errorf("device %s in session %s: %w", author, session.SessionID, ErrNotParticipant)
	}
	if !phaseKindAllowed(session.Protocol, contribution.Kind()) {
		return fmt.Errorf("payload %s not valid for %s session", contribution.Kind(), session.Protocol)
	}
	return nil
}

// phaseKindAllowed routes payload kinds to the protocols that use them.
func phaseKindAllowed(protocol keep.ProtocolKind, kind keep.PayloadKind) bool {
	switch kind {
	case keep.KindRecordCommitment, keep.KindRevealValue:
		return protocol == keep.ProtocolDkd || protocol == keep.ProtocolReinstatement
	case keep.KindDistributeSubShare, keep.KindAcknowledgeSubShare:
		return protocol == keep.ProtocolResharing
	case keep.KindGuardianApproval, keep.KindSubmitRecoveryShare:
		return protocol == keep.ProtocolRecovery
	case keep.KindFinalizeSession:
		return protocol == keep.ProtocolResharing || protocol == keep.ProtocolRecovery
	case keep.KindReinstateResult:
		return protocol == keep.ProtocolReinstatement
	default:
		return false
	}
}

// CheckTimeout builds the timeout transition for a session whose TTL has
// lapsed. Any device may propose the transition; the materializer verifies
// the expiry independently on every replica.
func (r *Registry) CheckTimeout(st *state.AccountState, sessionID keep.SessionID, currentEpoch uint64) (keep.TimeoutSession, error) {
	session, ok := st.Session(sessionID)
	if !ok {
		return keep.TimeoutSession{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if session.Status.Terminal() {
		return keep.TimeoutSession{}, TerminalSessionError{SessionID: sessionID, Status: session.Status}
	}
	if !session.Expired(currentEpoch) {
		return keep.TimeoutSession{}, fmt.Errorf("deadline is epoch %d, current %d: %w",
			session.StartEpoch+session.TTLInEpochs, currentEpoch, ErrNotExpired)
	}
	return keep.TimeoutSession{SessionID: sessionID, ObservedAtEpoch: currentEpoch}, nil
}

// CheckTimeouts sweeps all non-terminal sessions and returns the timeout
// transitions due at the given epoch. Per-session validation failures are
// aggregated, not fatal.
func (r *Registry) CheckTimeouts(st *state.AccountState, currentEpoch uint64) ([]keep.TimeoutSession, error) {
	var timeouts []keep.TimeoutSession
	var errs *multierror.Error
	for _, session := range st.ActiveSessions() {
		if !session.Expired(currentEpoch) {
			continue
		}
		timeout, err := r.CheckTimeout(st, session.SessionID, currentEpoch)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		timeouts = append(timeouts, timeout)
	}
	return timeouts, errs.ErrorOrNil()
}

// Abort builds an abort transition. It is only valid with a threshold
// signature from the session's current (pre-change) participant set.
func (r *Registry) Abort(
	st *state.AccountState,
	sessionID keep.SessionID,
	reason keep.AbortReason,
	blamed keep.DeviceID,
	quorumProof []byte,
) (keep.AbortSession, error) {

	session, ok := st.Session(sessionID)
	if !ok {
		return keep.AbortSession{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if session.Status.Terminal() {
		return keep.AbortSession{}, TerminalSessionError{SessionID: sessionID, Status: session.Status}
	}

	abort := keep.AbortSession{
		SessionID:   sessionID,
		Reason:      reason,
		Blamed:      blamed,
		QuorumProof: quorumProof,
	}
	if !r.verifier.VerifyThreshold(abort.QuorumMessage(), quorumProof) {
		return keep.AbortSession{}, ErrInvalidQuorum
	}
	return abort, nil
}

// GarbageCollectible returns the sessions eligible for pruning: any
// terminal session.
func (r *Registry) GarbageCollectible(st *state.AccountState) keep.IdentifierList {
	var eligible keep.IdentifierList
	for _, session := range st.TerminalSessions() {
		eligible = append(eligible, session.SessionID)
	}
	return eligible
}
