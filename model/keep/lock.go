package keep

import (
	"bytes"
	"fmt"
)

// LockScope names an exclusive logical operation. At most one live lock
// exists per scope across the whole account, regardless of which devices
// are online.
type LockScope uint8

const (
	ScopeResharing LockScope = iota + 1
	ScopeRecovery
	ScopeCompaction
	ScopeGuardianChange
)

func (s LockScope) String() string {
	switch s {
	case ScopeResharing:
		return "resharing"
	case ScopeRecovery:
		return "recovery"
	case ScopeCompaction:
		return "compaction"
	case ScopeGuardianChange:
		return "guardian_change"
	default:
		return fmt.Sprintf("LockScope(%d)", s)
	}
}

// OperationLock is a live mutual-exclusion grant over a scope. Validity is
// bounded by AcquiredAtEpoch + TTLInEpochs; a new request for the scope is
// only honored once the lock is released or expired.
type OperationLock struct {
	Scope           LockScope
	Holder          DeviceID
	SessionID       SessionID
	AcquiredAtEpoch uint64
	TTLInEpochs     uint64
}

// Expired returns whether the lock's TTL has lapsed at the given epoch.
func (l *OperationLock) Expired(currentEpoch uint64) bool {
	return currentEpoch > l.AcquiredAtEpoch+l.TTLInEpochs
}

// ComputeTicket derives the deterministic lottery ticket for a lock
// request: hash(device_id || anchor). The anchor is the requester's last
// seen event hash, so a ticket cannot be predicted before observing the
// log head, and all replicas compute identical tickets.
func ComputeTicket(device DeviceID, anchor Identifier) Identifier {
	return ConcatHash(device, anchor)
}

// RequestOperationLock enters a device into the lottery for a scope. All
// requests anchored to the same log head compete; the maximum ticket wins.
type RequestOperationLock struct {
	Scope       LockScope
	SessionID   SessionID
	Device      DeviceID
	Ticket      Identifier
	AnchorHash  Identifier
	TTLInEpochs uint64
}

func (RequestOperationLock) Kind() PayloadKind    { return KindRequestOperationLock }
func (p RequestOperationLock) Session() SessionID { return p.SessionID }

// GrantOperationLock names the lottery winner for a scope. It is only
// valid carrying a threshold signature assembled from a quorum of devices;
// log-merge order alone never grants a lock.
type GrantOperationLock struct {
	Scope          LockScope
	SessionID      SessionID
	Winner         DeviceID
	AnchorHash     Identifier
	GrantedAtEpoch uint64
	TTLInEpochs    uint64
	ThresholdSig   []byte
}

func (GrantOperationLock) Kind() PayloadKind    { return KindGrantOperationLock }
func (p GrantOperationLock) Session() SessionID { return p.SessionID }

// GrantMessage returns the canonical bytes co-signed by devices granting
// the lock.
func (p GrantOperationLock) GrantMessage() []byte {
	msg := MakeID(struct {
		Scope          LockScope
		SessionID      SessionID
		Winner         DeviceID
		AnchorHash     Identifier
		GrantedAtEpoch uint64
		TTLInEpochs    uint64
	}{p.Scope, p.SessionID, p.Winner, p.AnchorHash, p.GrantedAtEpoch, p.TTLInEpochs})
	return msg[:]
}

// ReleaseOperationLock releases a held lock after the critical operation
// completes.
type ReleaseOperationLock struct {
	Scope     LockScope
	SessionID SessionID
	Device    DeviceID
}

func (ReleaseOperationLock) Kind() PayloadKind    { return KindReleaseOperationLock }
func (p ReleaseOperationLock) Session() SessionID { return p.SessionID }

// LockRequestRecord is the materialized view of a pending lock request.
type LockRequestRecord struct {
	Scope          LockScope
	Device         DeviceID
	SessionID      SessionID
	Ticket         Identifier
	AnchorHash     Identifier
	RequestedEpoch uint64
	TTLInEpochs    uint64
}

// LotteryWinner computes the winner among the given requests anchored to
// the same log head: the maximum ticket wins, with the device ID breaking
// (astronomically unlikely) ticket ties. Requests carrying a different
// anchor do not compete. The computation is deterministic, so every honest
// replica names the same winner.
func LotteryWinner(requests []*LockRequestRecord, anchor Identifier) (DeviceID, bool) {
	var winner DeviceID
	var best Identifier
	found := false
	for _, req := range requests {
		if req.AnchorHash != anchor {
			continue
		}
		if !found ||
			bytes.Compare(best[:], req.Ticket[:]) < 0 ||
			(best == req.Ticket && bytes.Compare(winner[:], req.Device[:]) < 0) {
			winner = req.Device
			best = req.Ticket
			found = true
		}
	}
	return winner, found
}
