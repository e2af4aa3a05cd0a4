package unittest

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

var fixtureCounter = atomic.NewUint64(0)

// IdentifierFixture returns a unique identifier.
func IdentifierFixture() keep.Identifier {
	return keep.HashToID([]byte(fmt.Sprintf("identifier-fixture-%d", fixtureCounter.Inc())))
}

// DeviceIDFixture returns a unique device identifier.
func DeviceIDFixture() keep.DeviceID {
	return keep.HashToID([]byte(fmt.Sprintf("device-fixture-%d", fixtureCounter.Inc())))
}

// DeviceIDFixtures returns n unique device identifiers.
func DeviceIDFixtures(n int) keep.IdentifierList {
	ids := make(keep.IdentifierList, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, DeviceIDFixture())
	}
	return ids
}

// SessionIDFixture returns a unique session identifier.
func SessionIDFixture() keep.SessionID {
	return keep.HashToID([]byte(fmt.Sprintf("session-fixture-%d", fixtureCounter.Inc())))
}

// EventFixture builds an unsigned event with the given author, epoch and
// payload.
func EventFixture(author keep.DeviceID, epoch uint64, payload keep.Payload) *keep.Event {
	return &keep.Event{
		EpochAtWrite: epoch,
		Author:       author,
		ParentHash:   keep.ZeroID,
		Payload:      payload,
	}
}

// InitiateSessionFixture builds an initiation payload for the given
// participants, defaulting to threshold 2 and a 100-epoch TTL.
func InitiateSessionFixture(sessionID keep.SessionID, participants keep.IdentifierList, startEpoch uint64) keep.InitiateSession {
	return keep.InitiateSession{
		SessionID:    sessionID,
		Protocol:     keep.ProtocolDkd,
		Participants: participants,
		Threshold:    2,
		StartEpoch:   startEpoch,
		TTLInEpochs:  100,
	}
}
