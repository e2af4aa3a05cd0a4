package coordinator

import (
	"context"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/state"
)

// WaitCondition is a predicate over materialized state. Conditions are
// level-triggered: they are evaluated against the state, not against
// individual events, so a waiter registered after the condition became true
// is released immediately.
type WaitCondition func(*state.AccountState) bool

// ThresholdOf waits until a session has gathered at least n contributions
// of the given phase kind.
func ThresholdOf(sessionID keep.SessionID, kind keep.PayloadKind, n uint32) WaitCondition {
	return func(st *state.AccountState) bool {
		session, ok := st.Session(sessionID)
		if !ok {
			return false
		}
		var count uint32
		switch kind {
		case keep.KindRecordCommitment:
			count = uint32(len(session.Phase.Commitments))
		case keep.KindRevealValue:
			count = uint32(len(session.Phase.Reveals))
		case keep.KindGuardianApproval:
			for _, approved := range session.Phase.Approvals {
				if approved {
					count++
				}
			}
		case keep.KindSubmitRecoveryShare:
			count = uint32(len(session.Phase.RecoveryShares))
		default:
			return false
		}
		return count >= n
	}
}

// EpochAtLeast waits until the logical epoch reaches n.
func EpochAtLeast(n uint64) WaitCondition {
	return func(st *state.AccountState) bool {
		return st.LogicalEpoch >= n
	}
}

// SessionInStatus waits until a session reaches the given status.
func SessionInStatus(sessionID keep.SessionID, status keep.SessionStatus) WaitCondition {
	return func(st *state.AccountState) bool {
		session, ok := st.Session(sessionID)
		return ok && session.Status == status
	}
}

// LockHeldBy waits until the scope's live lock is held by the device.
func LockHeldBy(scope keep.LockScope, device keep.DeviceID) WaitCondition {
	return func(st *state.AccountState) bool {
		lock, ok := st.LiveLock(scope, st.LogicalEpoch)
		return ok && lock.Holder == device
	}
}

type waiter struct {
	cond WaitCondition
	done chan *state.AccountState
}

// Wait blocks until the condition holds over materialized state or the
// context ends. The returned state is the one that satisfied the condition.
func (e *Engine) Wait(ctx context.Context, cond WaitCondition) (*state.AccountState, error) {
	e.mu.Lock()
	st := e.state()
	if cond(st) {
		e.mu.Unlock()
		return st, nil
	}
	w := &waiter{cond: cond, done: make(chan *state.AccountState, 1)}
	e.waiters = append(e.waiters, w)
	e.mu.Unlock()

	select {
	case st := <-w.done:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// notify releases the waiters whose condition holds over st. Callers must
// hold the mutex; delivery happens on the worker pool so a slow waiter
// never blocks an operation.
func (e *Engine) notify(st *state.AccountState) {
	remaining := e.waiters[:0]
	for _, w := range e.waiters {
		if w.cond(st) {
			released := w
			e.pool.Submit(func() {
				released.done <- st
			})
			continue
		}
		remaining = append(remaining, w)
	}
	e.waiters = remaining
}
