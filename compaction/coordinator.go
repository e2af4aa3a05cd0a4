// Package compaction coordinates the three-phase pruning of journal
// history: propose, acknowledge, commit. Commitment roots are exempt from
// pruning forever, so merkle proofs held by individual devices remain
// verifiable against state that no longer carries the underlying events.
package compaction

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/module"
	"github.com/quorumkeep/quorumkeep/state"
	"github.com/quorumkeep/quorumkeep/storage"
)

// Coordinator validates compaction rounds and executes committed prunes.
type Coordinator struct {
	log        zerolog.Logger
	proofs     storage.MerkleProofs
	aggregator module.ThresholdAggregator
	verifier   module.ThresholdVerifier
}

// NewCoordinator creates a compaction coordinator. The proofs store holds
// this device's own inclusion proofs, which it checks before acknowledging.
func NewCoordinator(
	log zerolog.Logger,
	proofs storage.MerkleProofs,
	aggregator module.ThresholdAggregator,
	verifier module.ThresholdVerifier,
) *Coordinator {
	return &Coordinator{
		log:        log.With().Str("component", "compaction_coordinator").Logger(),
		proofs:     proofs,
		aggregator: aggregator,
		verifier:   verifier,
	}
}

// Propose builds a compaction proposal pruning all events below the
// watermark. Every listed session must be terminal, and every pruned session
// that produced a commitment root must have that root listed for
// preservation.
func (c *Coordinator) Propose(
	st *state.AccountState,
	compactionID keep.Identifier,
	proposer keep.DeviceID,
	beforeEpoch uint64,
	pruneSessions keep.IdentifierList,
) (keep.ProposeCompaction, error) {

	if _, ok := st.Compactions[compactionID]; ok {
		return keep.ProposeCompaction{}, fmt.Errorf("compaction %s: %w", compactionID, ErrDuplicateRound)
	}
	if beforeEpoch <= st.CompactedBeforeEpoch {
		return keep.ProposeCompaction{}, fmt.Errorf("watermark %d at or below committed %d: %w",
			beforeEpoch, st.CompactedBeforeEpoch, ErrWatermarkRegress)
	}

	var preserveRoots keep.IdentifierList
	for _, sessionID := range pruneSessions {
		session, ok := st.Session(sessionID)
		if !ok {
			return keep.ProposeCompaction{}, fmt.Errorf("session %s: unknown session in proposal", sessionID)
		}
		if !session.Status.Terminal() {
			return keep.ProposeCompaction{}, NotTerminalError{SessionID: sessionID, Status: session.Status}
		}
		if _, ok := st.CommitmentRoots[sessionID]; ok {
			preserveRoots = append(preserveRoots, sessionID)
		}
	}

	c.log.Info().
		Hex("compaction", compactionID[:]).
		Uint64("before_epoch", beforeEpoch).
		Int("sessions", len(pruneSessions)).
		Int("preserved_roots", len(preserveRoots)).
		Msg("proposing compaction")

	return keep.ProposeCompaction{
		CompactionID:  compactionID,
		Proposer:      proposer,
		BeforeEpoch:   beforeEpoch,
		PruneSessions: pruneSessions,
		PreserveRoots: preserveRoots,
	}, nil
}

// Acknowledge builds this device's acknowledgment of a proposed round. The
// device checks that it holds the merkle proofs it personally needs for
// every preserved root; missing proofs produce a negative acknowledgment
// listing them, which blocks the quorum until the proofs are re-fetched.
func (c *Coordinator) Acknowledge(
	st *state.AccountState,
	compactionID keep.Identifier,
	local module.Local,
) (keep.AcknowledgeCompaction, error) {

	round, ok := st.Compactions[compactionID]
	if !ok {
		return keep.AcknowledgeCompaction{}, fmt.Errorf("compaction %s: %w", compactionID, ErrRoundNotFound)
	}
	if round.Status == keep.CompactionCommitted {
		return keep.AcknowledgeCompaction{}, fmt.Errorf("compaction %s: %w", compactionID, ErrRoundCommitted)
	}

	var missing keep.IdentifierList
	for _, sessionID := range round.PreserveRoots {
		_, err := c.proofs.BySession(sessionID)
		if err != nil {
			missing = append(missing, sessionID)
		}
	}

	sig, err := local.Sign(keep.AckMessage(compactionID, round.BeforeEpoch))
	if err != nil {
		return keep.AcknowledgeCompaction{}, fmt.Errorf("could not sign acknowledgment: %w", err)
	}

	if len(missing) > 0 {
		c.log.Warn().
			Hex("compaction", compactionID[:]).
			Int("missing_proofs", len(missing)).
			Msg("acknowledging negatively, proofs missing")
	}

	return keep.AcknowledgeCompaction{
		CompactionID:  compactionID,
		Device:        local.DeviceID(),
		AckSig:        sig,
		MissingProofs: missing,
	}, nil
}

// Commit assembles the threshold-signed commit for a round that gathered a
// quorum of positive acknowledgments. A short quorum returns NotReadyError.
func (c *Coordinator) Commit(
	st *state.AccountState,
	compactionID keep.Identifier,
	shares map[keep.DeviceID][]byte,
	threshold uint32,
) (keep.CommitCompaction, error) {

	round, ok := st.Compactions[compactionID]
	if !ok {
		return keep.CommitCompaction{}, fmt.Errorf("compaction %s: %w", compactionID, ErrRoundNotFound)
	}
	if round.Status == keep.CompactionCommitted {
		return keep.CommitCompaction{}, fmt.Errorf("compaction %s: %w", compactionID, ErrRoundCommitted)
	}
	if !round.AckQuorum(threshold) {
		var positive uint32
		for _, ok := range round.Acks {
			if ok {
				positive++
			}
		}
		return keep.CommitCompaction{}, NotReadyError{
			CompactionID: compactionID,
			Positive:     positive,
			Threshold:    threshold,
		}
	}

	commit := keep.CommitCompaction{
		CompactionID:  compactionID,
		BeforeEpoch:   round.BeforeEpoch,
		PreserveRoots: round.PreserveRoots,
	}
	sig, err := c.aggregator.Aggregate(commit.CommitMessage(), shares, threshold)
	if err != nil {
		return keep.CommitCompaction{}, fmt.Errorf("could not aggregate commit signature: %w", err)
	}
	commit.ThresholdSig = sig
	return commit, nil
}

// Prune executes a committed round against the journal and the persistent
// event store. Events of non-terminal sessions are kept regardless of their
// epoch, so an in-flight protocol never loses its own history. A nil event
// store skips the persistent side, for memory-only replicas.
func (c *Coordinator) Prune(
	st *state.AccountState,
	journal module.Journal,
	events storage.Events,
	commit keep.CommitCompaction,
) (int, error) {

	if !c.verifier.VerifyThreshold(commit.CommitMessage(), commit.ThresholdSig) {
		return 0, ErrInvalidCommitQuorum
	}

	keepLive := func(event *keep.Event) bool {
		addressed, ok := event.Payload.(keep.SessionPayload)
		if !ok {
			return false
		}
		session, ok := st.Session(addressed.Session())
		return ok && !session.Status.Terminal()
	}

	preserve := make(map[keep.Identifier]struct{})
	for _, event := range journal.All() {
		if event.EpochAtWrite < commit.BeforeEpoch && keepLive(event) {
			preserve[event.ID()] = struct{}{}
		}
	}

	pruned, err := journal.PruneBefore(commit.BeforeEpoch, keepLive)
	if err != nil {
		return 0, fmt.Errorf("could not prune journal: %w", err)
	}
	if events != nil {
		if _, err := events.PruneBefore(commit.BeforeEpoch, preserve); err != nil {
			return pruned, fmt.Errorf("could not prune event store: %w", err)
		}
	}

	c.log.Info().
		Hex("compaction", commit.CompactionID[:]).
		Uint64("before_epoch", commit.BeforeEpoch).
		Int("pruned", pruned).
		Msg("compaction executed")

	return pruned, nil
}
