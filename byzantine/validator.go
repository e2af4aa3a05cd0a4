// Package byzantine implements the commit/reveal validator. It checks
// contributions before they are journaled and detects equivocation: a reveal
// that fails to open its commitment quarantines the author, and the
// offending reveal is journaled anyway as evidence.
package byzantine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/module"
	"github.com/quorumkeep/quorumkeep/state"
)

// Validator checks commit/reveal contributions against materialized state.
// Like the session registry it is stateless; every decision is a pure
// function of the account state and the contribution.
type Validator struct {
	log    zerolog.Logger
	hasher module.Hasher
}

// NewValidator creates a commit/reveal validator.
func NewValidator(log zerolog.Logger, hasher module.Hasher) *Validator {
	return &Validator{
		log:    log.With().Str("component", "byzantine_validator").Logger(),
		hasher: hasher,
	}
}

// RecordCommitment builds the commitment payload for a participant. Each
// participant commits at most once per session.
func (v *Validator) RecordCommitment(
	st *state.AccountState,
	sessionID keep.SessionID,
	participant keep.DeviceID,
	commitment keep.Identifier,
) (keep.RecordCommitment, error) {

	session, err := liveSession(st, sessionID)
	if err != nil {
		return keep.RecordCommitment{}, err
	}
	if !session.HasParticipant(participant) {
		return keep.RecordCommitment{}, fmt.Errorf("device %s in session %s: not a participant", participant, sessionID)
	}
	if _, ok := session.Phase.Commitments[participant]; ok {
		return keep.RecordCommitment{}, fmt.Errorf("participant %s in session %s: %w",
			participant, sessionID, ErrDuplicateCommitment)
	}

	return keep.RecordCommitment{
		SessionID:   sessionID,
		Participant: participant,
		Commitment:  commitment,
	}, nil
}

// RecordReveal builds the reveal payload for a participant. On a commitment
// mismatch it returns the payload together with a CommitmentMismatchError:
// the caller must still journal the reveal so every replica derives the
// quarantine from the same evidence.
func (v *Validator) RecordReveal(
	st *state.AccountState,
	sessionID keep.SessionID,
	participant keep.DeviceID,
	value []byte,
) (keep.RevealValue, error) {

	session, err := liveSession(st, sessionID)
	if err != nil {
		return keep.RevealValue{}, err
	}
	committed, ok := session.Phase.Commitments[participant]
	if !ok {
		return keep.RevealValue{}, fmt.Errorf("participant %s in session %s: %w",
			participant, sessionID, ErrNoCommitment)
	}
	if _, ok := session.Phase.Reveals[participant]; ok {
		return keep.RevealValue{}, fmt.Errorf("participant %s in session %s: %w",
			participant, sessionID, ErrDuplicateReveal)
	}

	reveal := keep.RevealValue{
		SessionID:   sessionID,
		Participant: participant,
		Value:       value,
	}

	revealed := v.hasher.Hash(value)
	if revealed != committed {
		v.log.Warn().
			Hex("session", sessionID[:]).
			Hex("participant", participant[:]).
			Msg("reveal does not open commitment")
		return reveal, CommitmentMismatchError{
			SessionID:   sessionID,
			Participant: participant,
			Committed:   committed,
			Revealed:    revealed,
		}
	}
	return reveal, nil
}

// CheckEligible returns an error if the device is currently excluded from
// new sessions by an active quarantine.
func (v *Validator) CheckEligible(st *state.AccountState, device keep.DeviceID, currentEpoch uint64) error {
	record, ok := st.Quarantine[device]
	if !ok || !record.Active(currentEpoch) {
		return nil
	}
	return CooldownActiveError{
		Participant:   device,
		CooldownUntil: record.CooldownUntilEpoch,
	}
}

// RequestReinstatement builds the reinstatement request for a quarantined
// device whose cooldown has elapsed. The request opens a no-op
// threshold-signing session; its outcome is attested by ReinstateResult.
func (v *Validator) RequestReinstatement(
	st *state.AccountState,
	sessionID keep.SessionID,
	device keep.DeviceID,
	currentEpoch uint64,
) (keep.ReinstateRequest, error) {

	record, ok := st.Quarantine[device]
	if !ok {
		return keep.ReinstateRequest{}, fmt.Errorf("device %s: %w", device, ErrNotQuarantined)
	}
	if record.Active(currentEpoch) {
		return keep.ReinstateRequest{}, CooldownActiveError{
			Participant:   device,
			CooldownUntil: record.CooldownUntilEpoch,
		}
	}

	v.log.Info().
		Hex("device", device[:]).
		Uint32("offenses", record.OffenseCount).
		Msg("requesting reinstatement")

	return keep.ReinstateRequest{
		SessionID: sessionID,
		Device:    device,
	}, nil
}

// liveSession fetches a session that exists and is not terminal.
func liveSession(st *state.AccountState, sessionID keep.SessionID) (*keep.ProtocolSession, error) {
	session, ok := st.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("session %s is terminal (%s)", sessionID, session.Status)
	}
	return session, nil
}
