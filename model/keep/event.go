package keep

import (
	"fmt"
)

// Event is the unit of replication. Devices author events locally, sign
// them, and merge them into every replica's journal. Events are immutable
// once appended; all account state is derived by folding them in canonical
// order.
type Event struct {
	// EpochAtWrite is the author's logical epoch at the time of writing.
	// Strictly increasing per author.
	EpochAtWrite uint64
	// Author is the device that created and signed the event.
	Author DeviceID
	// ParentHash is the ID of the latest event in the author's local log
	// when this event was created, anchoring the event causally. Zero for
	// the first event of a log.
	ParentHash Identifier
	// Payload is one of the closed set of domain payloads.
	Payload Payload
	// Signature is the author's signature over the event body.
	Signature []byte
}

// Body returns the signable portion of the event, i.e. everything except
// the signature itself.
func (e *Event) Body() EventBody {
	return EventBody{
		EpochAtWrite: e.EpochAtWrite,
		Author:       e.Author,
		ParentHash:   e.ParentHash,
		PayloadKind:  e.Payload.Kind(),
		PayloadID:    MakeID(e.Payload),
	}
}

// EventBody is the canonical signable form of an event.
type EventBody struct {
	EpochAtWrite uint64
	Author       DeviceID
	ParentHash   Identifier
	PayloadKind  PayloadKind
	PayloadID    Identifier
}

// ID returns a canonical identifier for the event, unique across replicas.
func (e *Event) ID() Identifier {
	return MakeID(e.Body())
}

// Checksum returns an identifier covering the full event including its
// signature.
func (e *Event) Checksum() Identifier {
	return MakeID(struct {
		Body EventBody
		Sig  []byte
	}{e.Body(), e.Signature})
}

func (e *Event) String() string {
	return fmt.Sprintf("%s@%d: %s", e.Payload.Kind(), e.EpochAtWrite, e.ID())
}

// EventList is an ordered sequence of events.
type EventList []*Event

// ByCanonicalOrder reports whether event i precedes event j in the
// canonical merged order: epoch first, then author, then event ID. Two
// causally concurrent events are therefore ordered identically on every
// replica.
func (l EventList) ByCanonicalOrder(i, j int) bool {
	a, b := l[i], l[j]
	if a.EpochAtWrite != b.EpochAtWrite {
		return a.EpochAtWrite < b.EpochAtWrite
	}
	if a.Author != b.Author {
		return IdentifierList{a.Author, b.Author}.Less(0, 1)
	}
	ai, bi := a.ID(), b.ID()
	return IdentifierList{ai, bi}.Less(0, 1)
}
