package module

import (
	"github.com/quorumkeep/quorumkeep/model/keep"
)

// Journal is one replica of the append-only, causally-merging event log.
// Merge is commutative, associative and idempotent: replicas that have
// exchanged all events hold identical logs regardless of delivery order.
type Journal interface {
	// Append adds a locally-authored event to the log.
	Append(event *keep.Event) error

	// Merge ingests a batch of remote events, skipping any already present.
	// It returns the number of events that were new to this replica.
	Merge(events []*keep.Event) (int, error)

	// Head returns the ID of the latest event in canonical order, or the
	// zero identifier for an empty log.
	Head() keep.Identifier

	// All returns every event in canonical merged order.
	All() []*keep.Event

	// EventsSince returns all events with epoch_at_write >= epoch in
	// canonical order.
	EventsSince(epoch uint64) ([]*keep.Event, error)

	// PruneBefore removes events with epoch_at_write < epoch, keeping any
	// event for which preserve returns true. It returns the number of
	// pruned events.
	PruneBefore(epoch uint64, preserve func(*keep.Event) bool) (int, error)
}
