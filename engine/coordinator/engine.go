// Package coordinator exposes the operation surface of the substrate: one
// engine owning the clock, the journal and the protocol components. Every
// operation validates against materialized state, appends zero or more
// events and returns the fresh state view.
package coordinator

import (
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/quorumkeep/quorumkeep/byzantine"
	"github.com/quorumkeep/quorumkeep/clock"
	"github.com/quorumkeep/quorumkeep/compaction"
	"github.com/quorumkeep/quorumkeep/lock"
	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/module"
	"github.com/quorumkeep/quorumkeep/session"
	"github.com/quorumkeep/quorumkeep/state"
	"github.com/quorumkeep/quorumkeep/storage"
)

// notifyWorkers bounds the concurrency of waiter notification fan-out.
const notifyWorkers = 4

// Engine drives the coordination substrate for one device. All operations
// are safe for concurrent use; the journal remains the single source of
// truth and the engine never mutates state directly.
type Engine struct {
	log          zerolog.Logger
	local        module.Local
	clock        *clock.Clock
	journal      module.Journal
	materializer *state.Materializer
	registry     *session.Registry
	validator    *byzantine.Validator
	locks        *lock.Manager
	compactor    *compaction.Coordinator

	// optional persistence; nil means memory-only operation
	events storage.Events
	roots  storage.CommitmentRoots

	mu      sync.Mutex
	waiters []*waiter
	pool    *workerpool.WorkerPool
}

// New creates the coordinator engine.
func New(
	log zerolog.Logger,
	local module.Local,
	clk *clock.Clock,
	journal module.Journal,
	materializer *state.Materializer,
	registry *session.Registry,
	validator *byzantine.Validator,
	locks *lock.Manager,
	compactor *compaction.Coordinator,
	events storage.Events,
	roots storage.CommitmentRoots,
) *Engine {
	return &Engine{
		log:          log.With().Str("engine", "coordinator").Logger(),
		local:        local,
		clock:        clk,
		journal:      journal,
		materializer: materializer,
		registry:     registry,
		validator:    validator,
		locks:        locks,
		compactor:    compactor,
		events:       events,
		roots:        roots,
		pool:         workerpool.New(notifyWorkers),
	}
}

// Stop waits for pending waiter notifications to drain.
func (e *Engine) Stop() {
	e.pool.StopWait()
}

// State folds the journal into the current account state. Commitment roots
// persisted before a compaction are overlaid, so they outlive the events
// that produced them.
func (e *Engine) State() *state.AccountState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state()
}

func (e *Engine) state() *state.AccountState {
	st := e.materializer.Fold(e.journal.All())
	if e.roots != nil {
		persisted, err := e.roots.All()
		if err != nil {
			e.log.Error().Err(err).Msg("could not overlay persisted commitment roots")
			return st
		}
		// roots are permanent and never conflict, so the overlay is monotone
		for _, root := range persisted {
			if _, ok := st.CommitmentRoots[root.SessionID]; !ok {
				st.CommitmentRoots[root.SessionID] = root
			}
		}
	}
	return st
}

// emit stamps, signs, journals and persists one locally-authored event.
// Callers must hold the mutex and have validated the payload against st.
func (e *Engine) emit(st *state.AccountState, payload keep.Payload, epoch uint64) (*keep.Event, error) {
	event := &keep.Event{
		EpochAtWrite: epoch,
		Author:       e.local.DeviceID(),
		ParentHash:   e.journal.Head(),
		Payload:      payload,
	}
	id := event.ID()
	sig, err := e.local.Sign(id[:])
	if err != nil {
		return nil, fmt.Errorf("could not sign event: %w", err)
	}
	event.Signature = sig

	err = e.journal.Append(event)
	if err != nil {
		return nil, fmt.Errorf("could not journal event: %w", err)
	}
	if e.events != nil {
		err = e.events.Store(event)
		if err != nil {
			return nil, fmt.Errorf("could not persist event: %w", err)
		}
	}
	e.log.Debug().
		Uint64("epoch", epoch).
		Str("kind", payload.Kind().String()).
		Msg("event emitted")
	return event, nil
}

// stamp advances the local clock past the folded state and returns the
// epoch to write with.
func (e *Engine) stamp(st *state.AccountState) uint64 {
	e.clock.Observe(st.LogicalEpoch)
	return e.clock.Next()
}

// finish persists derived roots, re-folds and wakes matching waiters.
func (e *Engine) finish() *state.AccountState {
	st := e.state()
	if e.roots != nil {
		for _, root := range st.CommitmentRoots {
			if err := e.roots.Store(root); err != nil {
				e.log.Error().Err(err).Msg("could not persist commitment root")
			}
		}
	}
	e.notify(st)
	return st
}

// Deliver merges a batch of remote events, advances the local clock and
// wakes any waiters whose condition now holds. Committed compactions in the
// batch are executed against the local journal.
func (e *Engine) Deliver(events []*keep.Event) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// events carrying a bad author signature never enter the journal
	verified := make([]*keep.Event, 0, len(events))
	for _, event := range events {
		id := event.ID()
		if !e.local.Verify(event.Author, id[:], event.Signature) {
			e.log.Warn().Hex("event_id", id[:]).Msg("dropping event with invalid author signature")
			continue
		}
		verified = append(verified, event)
	}
	events = verified

	added, err := e.journal.Merge(events)
	if err != nil {
		return nil, fmt.Errorf("could not merge events: %w", err)
	}
	if e.events != nil {
		for _, event := range events {
			if err := e.events.Store(event); err != nil {
				return nil, fmt.Errorf("could not persist merged event: %w", err)
			}
		}
	}

	st := e.finish()
	e.clock.Observe(st.LogicalEpoch)

	for _, event := range events {
		commit, ok := event.Payload.(keep.CommitCompaction)
		if !ok {
			continue
		}
		if round, exists := st.Compactions[commit.CompactionID]; !exists || round.Status != keep.CompactionCommitted {
			continue
		}
		if _, err := e.compactor.Prune(st, e.journal, e.events, commit); err != nil {
			e.log.Warn().Err(err).Msg("could not execute delivered compaction")
		}
	}

	e.log.Debug().Int("added", added).Int("batch", len(events)).Msg("delivered remote events")
	return st, nil
}

// InitiateSession opens a new protocol session initiated by this device.
func (e *Engine) InitiateSession(
	sessionID keep.SessionID,
	protocol keep.ProtocolKind,
	participants keep.IdentifierList,
	threshold uint32,
	ttlInEpochs uint64,
) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	payload, err := e.registry.Initiate(st, sessionID, protocol, participants, threshold, ttlInEpochs)
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// AdvancePhase routes a protocol-specific contribution authored by this
// device into its session.
func (e *Engine) AdvancePhase(contribution keep.SessionPayload) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	err := e.registry.AdvancePhase(st, e.local.DeviceID(), contribution)
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, contribution, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// RecordCommitment records this device's commitment in a commit/reveal
// session.
func (e *Engine) RecordCommitment(sessionID keep.SessionID, commitment keep.Identifier) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	payload, err := e.validator.RecordCommitment(st, sessionID, e.local.DeviceID(), commitment)
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// RecordReveal reveals this device's committed value. A mismatching reveal
// is journaled regardless, as evidence every replica folds identically; the
// returned error reports the mismatch.
func (e *Engine) RecordReveal(sessionID keep.SessionID, value []byte) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	payload, mismatch := e.validator.RecordReveal(st, sessionID, e.local.DeviceID(), value)
	if mismatch != nil && !byzantine.IsCommitmentMismatchError(mismatch) {
		return nil, mismatch
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), mismatch
}

// CheckTimeouts sweeps for expired sessions and journals a timeout
// transition for each.
func (e *Engine) CheckTimeouts() (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	e.clock.Observe(st.LogicalEpoch)
	timeouts, err := e.registry.CheckTimeouts(st, e.clock.Current())
	if err != nil {
		return nil, err
	}
	for _, timeout := range timeouts {
		if _, err := e.emit(st, timeout, e.stamp(st)); err != nil {
			return nil, err
		}
		st = e.state()
	}
	return e.finish(), nil
}

// AbortSession aborts a session with a threshold-signed quorum proof.
func (e *Engine) AbortSession(
	sessionID keep.SessionID,
	reason keep.AbortReason,
	blamed keep.DeviceID,
	quorumProof []byte,
) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	payload, err := e.registry.Abort(st, sessionID, reason, blamed, quorumProof)
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// EmitTick advances the logical clock during an idle period.
func (e *Engine) EmitTick() (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	e.clock.Observe(st.LogicalEpoch)
	tick, err := e.clock.Tick(st)
	if err != nil {
		return nil, err
	}
	// the tick is stamped with the epoch it announces
	if _, err := e.emit(st, tick, tick.NewEpoch); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// RequestLock enters this device into the lottery for a scope.
func (e *Engine) RequestLock(scope keep.LockScope, sessionID keep.SessionID, ttlInEpochs uint64) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	payload, err := e.locks.Request(st, scope, e.local.DeviceID(), sessionID, ttlInEpochs)
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// GrantLock names the lottery winner for a scope, assembling the threshold
// signature from the given shares, and journals the grant.
func (e *Engine) GrantLock(
	scope keep.LockScope,
	anchor keep.Identifier,
	shares map[keep.DeviceID][]byte,
	threshold uint32,
) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	e.clock.Observe(st.LogicalEpoch)
	epoch := e.clock.Next()
	payload, err := e.locks.BuildGrant(st, scope, anchor, epoch, shares, threshold)
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, epoch); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// ReleaseLock releases a scope this device holds.
func (e *Engine) ReleaseLock(scope keep.LockScope) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	payload, err := e.locks.Release(st, scope, e.local.DeviceID())
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// ProposeCompaction opens a compaction round pruning history below the
// watermark. The round ID is derived from the proposing device and the log
// head it observed.
func (e *Engine) ProposeCompaction(beforeEpoch uint64, pruneSessions keep.IdentifierList) (keep.Identifier, *state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	compactionID := keep.ConcatHash(e.local.DeviceID(), st.HeadEventID)
	payload, err := e.compactor.Propose(st, compactionID, e.local.DeviceID(), beforeEpoch, pruneSessions)
	if err != nil {
		return keep.ZeroID, nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return keep.ZeroID, nil, err
	}
	return compactionID, e.finish(), nil
}

// AcknowledgeCompaction journals this device's acknowledgment of a proposed
// round, negative if it is missing merkle proofs.
func (e *Engine) AcknowledgeCompaction(compactionID keep.Identifier) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	payload, err := e.compactor.Acknowledge(st, compactionID, e.local)
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), nil
}

// CommitCompaction commits an acknowledged round and executes the prune
// locally. Remote replicas prune when the commit event reaches them.
func (e *Engine) CommitCompaction(
	compactionID keep.Identifier,
	shares map[keep.DeviceID][]byte,
	threshold uint32,
) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	payload, err := e.compactor.Commit(st, compactionID, shares, threshold)
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}

	st = e.state()
	if _, err := e.compactor.Prune(st, e.journal, e.events, payload); err != nil {
		return nil, fmt.Errorf("could not execute compaction: %w", err)
	}
	return e.finish(), nil
}

// RequestReinstatement asks for this device's reinstatement after its
// quarantine cooldown elapsed.
func (e *Engine) RequestReinstatement(sessionID keep.SessionID) (*state.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state()
	e.clock.Observe(st.LogicalEpoch)
	payload, err := e.validator.RequestReinstatement(st, sessionID, e.local.DeviceID(), e.clock.Current())
	if err != nil {
		return nil, err
	}
	if _, err := e.emit(st, payload, e.stamp(st)); err != nil {
		return nil, err
	}
	return e.finish(), nil
}
