package state

import (
	"sort"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

// AccountState is the materialized aggregate of a replica's journal. It is
// produced solely by folding events in canonical order and is never written
// to directly; components read it and emit new events.
type AccountState struct {
	// LogicalEpoch is the highest epoch_at_write observed in the folded
	// events.
	LogicalEpoch uint64

	// HeadEventID identifies the last folded event in canonical order.
	HeadEventID keep.Identifier

	// Sessions holds every known protocol session, terminal or not.
	Sessions map[keep.SessionID]*keep.ProtocolSession

	// Locks holds the lock per scope, live or expired. Expired locks are
	// superseded when the next grant for the scope applies.
	Locks map[keep.LockScope]*keep.OperationLock

	// LockRequests holds pending lottery entries per scope, cleared when a
	// grant for the scope applies.
	LockRequests map[keep.LockScope][]*keep.LockRequestRecord

	// CommitmentRoots are permanent and survive compaction.
	CommitmentRoots map[keep.SessionID]keep.CommitmentRoot

	// Quarantine maps misbehaving devices to their active or historical
	// quarantine record.
	Quarantine map[keep.DeviceID]*keep.QuarantineRecord

	// Compactions tracks compaction rounds by ID.
	Compactions map[keep.Identifier]*keep.CompactionRound

	// CompactedBeforeEpoch is the highest committed compaction watermark.
	CompactedBeforeEpoch uint64

	// LastWriteEpoch tracks the highest epoch_at_write per author, used to
	// enforce per-author strict monotonicity.
	LastWriteEpoch map[keep.DeviceID]uint64

	// LastTickEpoch tracks the epoch of each device's last accepted tick,
	// used for tick rate limiting. Enforced per device globally, not per
	// scope.
	LastTickEpoch map[keep.DeviceID]uint64
}

// NewAccountState returns an empty account state.
func NewAccountState() *AccountState {
	return &AccountState{
		Sessions:        make(map[keep.SessionID]*keep.ProtocolSession),
		Locks:           make(map[keep.LockScope]*keep.OperationLock),
		LockRequests:    make(map[keep.LockScope][]*keep.LockRequestRecord),
		CommitmentRoots: make(map[keep.SessionID]keep.CommitmentRoot),
		Quarantine:      make(map[keep.DeviceID]*keep.QuarantineRecord),
		Compactions:     make(map[keep.Identifier]*keep.CompactionRound),
		LastWriteEpoch:  make(map[keep.DeviceID]uint64),
		LastTickEpoch:   make(map[keep.DeviceID]uint64),
	}
}

// Copy returns a deep copy of the state, sharing nothing with the
// original. Fold hands out copies so callers may annotate their snapshot
// without touching the materializer's cache.
func (a *AccountState) Copy() *AccountState {
	out := &AccountState{
		LogicalEpoch:         a.LogicalEpoch,
		HeadEventID:          a.HeadEventID,
		Sessions:             make(map[keep.SessionID]*keep.ProtocolSession, len(a.Sessions)),
		Locks:                make(map[keep.LockScope]*keep.OperationLock, len(a.Locks)),
		LockRequests:         make(map[keep.LockScope][]*keep.LockRequestRecord, len(a.LockRequests)),
		CommitmentRoots:      make(map[keep.SessionID]keep.CommitmentRoot, len(a.CommitmentRoots)),
		Quarantine:           make(map[keep.DeviceID]*keep.QuarantineRecord, len(a.Quarantine)),
		Compactions:          make(map[keep.Identifier]*keep.CompactionRound, len(a.Compactions)),
		CompactedBeforeEpoch: a.CompactedBeforeEpoch,
		LastWriteEpoch:       make(map[keep.DeviceID]uint64, len(a.LastWriteEpoch)),
		LastTickEpoch:        make(map[keep.DeviceID]uint64, len(a.LastTickEpoch)),
	}
	for id, session := range a.Sessions {
		out.Sessions[id] = session.Copy()
	}
	for scope, lock := range a.Locks {
		copied := *lock
		out.Locks[scope] = &copied
	}
	for scope, requests := range a.LockRequests {
		copied := make([]*keep.LockRequestRecord, len(requests))
		for i, request := range requests {
			record := *request
			copied[i] = &record
		}
		out.LockRequests[scope] = copied
	}
	for id, root := range a.CommitmentRoots {
		out.CommitmentRoots[id] = root
	}
	for device, record := range a.Quarantine {
		copied := *record
		out.Quarantine[device] = &copied
	}
	for id, round := range a.Compactions {
		out.Compactions[id] = round.Copy()
	}
	for device, epoch := range a.LastWriteEpoch {
		out.LastWriteEpoch[device] = epoch
	}
	for device, epoch := range a.LastTickEpoch {
		out.LastTickEpoch[device] = epoch
	}
	return out
}

// Session returns the session with the given ID, if known.
func (a *AccountState) Session(sessionID keep.SessionID) (*keep.ProtocolSession, bool) {
	session, ok := a.Sessions[sessionID]
	return session, ok
}

// ActiveSessions returns all non-terminal sessions in canonical session ID
// order.
func (a *AccountState) ActiveSessions() []*keep.ProtocolSession {
	var out []*keep.ProtocolSession
	for _, id := range a.sortedSessionIDs() {
		if session := a.Sessions[id]; !session.Status.Terminal() {
			out = append(out, session)
		}
	}
	return out
}

// TerminalSessions returns all terminal sessions in canonical session ID
// order.
func (a *AccountState) TerminalSessions() []*keep.ProtocolSession {
	var out []*keep.ProtocolSession
	for _, id := range a.sortedSessionIDs() {
		if session := a.Sessions[id]; session.Status.Terminal() {
			out = append(out, session)
		}
	}
	return out
}

func (a *AccountState) sortedSessionIDs() keep.IdentifierList {
	ids := make(keep.IdentifierList, 0, len(a.Sessions))
	for id := range a.Sessions {
		ids = append(ids, id)
	}
	sort.Sort(ids)
	return ids
}

// LiveLock returns the unexpired, unreleased lock for the scope at the
// given epoch, if any.
func (a *AccountState) LiveLock(scope keep.LockScope, currentEpoch uint64) (*keep.OperationLock, bool) {
	lock, ok := a.Locks[scope]
	if !ok || lock.Expired(currentEpoch) {
		return nil, false
	}
	return lock, true
}

// QuarantineActive returns whether the device is excluded from new
// sessions at the given epoch.
func (a *AccountState) QuarantineActive(device keep.DeviceID, currentEpoch uint64) bool {
	record, ok := a.Quarantine[device]
	return ok && record.Active(currentEpoch)
}

// Hash returns a deterministic digest of the state. Since the state is a
// pure function of the folded events, the logical epoch plus the canonical
// head event fully determine it.
func (a *AccountState) Hash() keep.Identifier {
	return keep.MakeID(struct {
		LogicalEpoch uint64
		HeadEventID  keep.Identifier
	}{a.LogicalEpoch, a.HeadEventID})
}
