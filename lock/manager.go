// Package lock implements distributed mutual exclusion over the event
// journal. Devices enter a deterministic lottery by anchoring a request to
// the log head they observed; any replica can compute the winner, but a lock
// only takes effect through a threshold-signed grant.
package lock

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/module"
	"github.com/quorumkeep/quorumkeep/state"
)

// DefaultGrantWindowEpochs is how long a lottery round may run without a
// grant before candidates re-request against a fresh anchor.
const DefaultGrantWindowEpochs uint64 = 20

// Manager validates lock operations and assembles grants. It holds no lock
// state itself; the materialized account state is authoritative.
type Manager struct {
	log         zerolog.Logger
	aggregator  module.ThresholdAggregator
	verifier    module.ThresholdVerifier
	grantWindow uint64
}

// NewManager creates a lock manager.
func NewManager(log zerolog.Logger, aggregator module.ThresholdAggregator, verifier module.ThresholdVerifier) *Manager {
	return &Manager{
		log:         log.With().Str("component", "lock_manager").Logger(),
		aggregator:  aggregator,
		verifier:    verifier,
		grantWindow: DefaultGrantWindowEpochs,
	}
}

// WithGrantWindow overrides the epoch window a lottery round may stay
// pending before it counts as lapsed.
func (m *Manager) WithGrantWindow(epochs uint64) *Manager {
	m.grantWindow = epochs
	return m
}

// Request builds a lottery entry for the scope, anchored to the requester's
// current log head. A live lock on the scope rejects the request; an expired
// or released one does not.
func (m *Manager) Request(
	st *state.AccountState,
	scope keep.LockScope,
	device keep.DeviceID,
	sessionID keep.SessionID,
	ttlInEpochs uint64,
) (keep.RequestOperationLock, error) {

	if live, ok := st.LiveLock(scope, st.LogicalEpoch); ok {
		return keep.RequestOperationLock{}, LockHeldError{
			Scope:       scope,
			Holder:      live.Holder,
			ExpiresAt:   live.AcquiredAtEpoch + live.TTLInEpochs,
			RequestedBy: device,
		}
	}

	anchor := st.HeadEventID
	return keep.RequestOperationLock{
		Scope:       scope,
		SessionID:   sessionID,
		Device:      device,
		Ticket:      keep.ComputeTicket(device, anchor),
		AnchorHash:  anchor,
		TTLInEpochs: ttlInEpochs,
	}, nil
}

// RoundLapsed reports whether the pending lottery round for the scope has
// gone without a grant past the grant window. Candidates observing a lapsed
// round re-request against the current head; the fresh requests supersede
// their old entries in the fold, opening a new lottery.
func (m *Manager) RoundLapsed(st *state.AccountState, scope keep.LockScope) bool {
	requests := st.LockRequests[scope]
	if len(requests) == 0 {
		return false
	}
	if _, held := st.LiveLock(scope, st.LogicalEpoch); held {
		return false
	}
	oldest := requests[0].RequestedEpoch
	for _, request := range requests[1:] {
		if request.RequestedEpoch < oldest {
			oldest = request.RequestedEpoch
		}
	}
	return st.LogicalEpoch > oldest+m.grantWindow
}

// Winner computes the lottery winner among the pending requests for the
// scope that are anchored to the given log head.
func (m *Manager) Winner(st *state.AccountState, scope keep.LockScope, anchor keep.Identifier) (keep.DeviceID, error) {
	winner, found := keep.LotteryWinner(st.LockRequests[scope], anchor)
	if !found {
		return keep.DeviceID{}, fmt.Errorf("scope %s anchored at %s: %w", scope, anchor, ErrNoRequests)
	}
	return winner, nil
}

// BuildGrant names the lottery winner and assembles the threshold signature
// over the grant message from the given signature shares. The TTL is taken
// from the winning request.
func (m *Manager) BuildGrant(
	st *state.AccountState,
	scope keep.LockScope,
	anchor keep.Identifier,
	grantedAtEpoch uint64,
	shares map[keep.DeviceID][]byte,
	threshold uint32,
) (keep.GrantOperationLock, error) {

	winner, err := m.Winner(st, scope, anchor)
	if err != nil {
		return keep.GrantOperationLock{}, err
	}

	var winning *keep.LockRequestRecord
	for _, req := range st.LockRequests[scope] {
		if req.Device == winner && req.AnchorHash == anchor {
			winning = req
			break
		}
	}
	if winning == nil {
		return keep.GrantOperationLock{}, fmt.Errorf("scope %s anchored at %s: %w", scope, anchor, ErrNoRequests)
	}

	grant := keep.GrantOperationLock{
		Scope:          scope,
		SessionID:      winning.SessionID,
		Winner:         winner,
		AnchorHash:     anchor,
		GrantedAtEpoch: grantedAtEpoch,
		TTLInEpochs:    winning.TTLInEpochs,
	}
	sig, err := m.aggregator.Aggregate(grant.GrantMessage(), shares, threshold)
	if err != nil {
		return keep.GrantOperationLock{}, fmt.Errorf("could not aggregate grant signature: %w", err)
	}
	grant.ThresholdSig = sig

	m.log.Info().
		Str("scope", scope.String()).
		Hex("winner", winner[:]).
		Uint64("granted_at", grantedAtEpoch).
		Uint64("ttl", grant.TTLInEpochs).
		Msg("lock granted")

	return grant, nil
}

// VerifyGrant checks a grant the way the materializer will: threshold
// signature over the grant message, winner matching the deterministic
// lottery, and TTL not already lapsed at the observing epoch.
func (m *Manager) VerifyGrant(st *state.AccountState, grant keep.GrantOperationLock, observedAtEpoch uint64) error {
	if observedAtEpoch > grant.GrantedAtEpoch+grant.TTLInEpochs {
		return fmt.Errorf("granted at %d with ttl %d, observed at %d: %w",
			grant.GrantedAtEpoch, grant.TTLInEpochs, observedAtEpoch, ErrStaleGrant)
	}
	if !m.verifier.VerifyThreshold(grant.GrantMessage(), grant.ThresholdSig) {
		return ErrInvalidGrantSig
	}
	winner, found := keep.LotteryWinner(st.LockRequests[grant.Scope], grant.AnchorHash)
	if !found || winner != grant.Winner {
		return fmt.Errorf("scope %s: %w", grant.Scope, ErrWrongWinner)
	}
	return nil
}

// Release builds the release payload. Only the current holder may release.
func (m *Manager) Release(st *state.AccountState, scope keep.LockScope, device keep.DeviceID) (keep.ReleaseOperationLock, error) {
	lock, ok := st.Locks[scope]
	if !ok {
		return keep.ReleaseOperationLock{}, fmt.Errorf("scope %s: %w", scope, ErrNoLock)
	}
	if lock.Holder != device {
		return keep.ReleaseOperationLock{}, fmt.Errorf("scope %s held by %s, released by %s: %w",
			scope, lock.Holder, device, ErrNotHolder)
	}
	return keep.ReleaseOperationLock{
		Scope:     scope,
		SessionID: lock.SessionID,
		Device:    device,
	}, nil
}
