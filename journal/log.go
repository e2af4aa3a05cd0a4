// Package journal holds the replicated append-only event log. Merge is a
// set union keyed by event ID, so it is commutative, associative and
// idempotent: two replicas that have exchanged all events hold identical
// logs regardless of delivery order.
package journal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ef-ds/deque"
	"github.com/rs/zerolog"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/storage"
)

// Log is the in-memory replica of the event log. It satisfies
// module.Journal.
type Log struct {
	mu      sync.RWMutex
	log     zerolog.Logger
	byID    map[keep.Identifier]*keep.Event
	ordered keep.EventList
	// fresh queues newly ingested events for Poll, which the coordinator
	// drains to re-evaluate wait conditions
	fresh *deque.Deque
}

// NewLog creates an empty journal replica.
func NewLog(log zerolog.Logger) *Log {
	return &Log{
		log:   log.With().Str("component", "journal").Logger(),
		byID:  make(map[keep.Identifier]*keep.Event),
		fresh: deque.New(),
	}
}

// Append adds a locally-authored event. Appending is always non-blocking;
// whether anyone may act on the event is decided by materialization, not
// by append order.
func (l *Log) Append(event *keep.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := event.ID()
	if _, ok := l.byID[id]; ok {
		return fmt.Errorf("event %s: %w", id, storage.ErrAlreadyExists)
	}
	l.insert(id, event)
	return nil
}

// Merge ingests a batch of remote events, skipping duplicates. It returns
// the number of events new to this replica.
func (l *Log) Merge(events []*keep.Event) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, event := range events {
		id := event.ID()
		if _, ok := l.byID[id]; ok {
			continue
		}
		l.insert(id, event)
		added++
	}
	if added > 0 {
		l.log.Debug().Int("added", added).Int("batch", len(events)).Msg("merged remote events")
	}
	return added, nil
}

// insert places the event into canonical order. Callers must hold the
// write lock.
func (l *Log) insert(id keep.Identifier, event *keep.Event) {
	l.byID[id] = event
	pos := sort.Search(len(l.ordered), func(i int) bool {
		probe := keep.EventList{event, l.ordered[i]}
		return probe.ByCanonicalOrder(0, 1)
	})
	l.ordered = append(l.ordered, nil)
	copy(l.ordered[pos+1:], l.ordered[pos:])
	l.ordered[pos] = event
	l.fresh.PushBack(event)
}

// Head returns the ID of the last event in canonical order, or the zero
// identifier for an empty log.
func (l *Log) Head() keep.Identifier {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.ordered) == 0 {
		return keep.ZeroID
	}
	return l.ordered[len(l.ordered)-1].ID()
}

// All returns every event in canonical merged order.
func (l *Log) All() []*keep.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*keep.Event, len(l.ordered))
	copy(out, l.ordered)
	return out
}

// EventsSince returns all events with epoch_at_write >= epoch in canonical
// order.
func (l *Log) EventsSince(epoch uint64) ([]*keep.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.ordered), func(i int) bool {
		return l.ordered[i].EpochAtWrite >= epoch
	})
	out := make([]*keep.Event, len(l.ordered)-start)
	copy(out, l.ordered[start:])
	return out, nil
}

// PruneBefore removes events with epoch_at_write < epoch, keeping any event
// for which preserve returns true. It returns the number of pruned events.
func (l *Log) PruneBefore(epoch uint64, preserve func(*keep.Event) bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.ordered[:0]
	pruned := 0
	for _, event := range l.ordered {
		if event.EpochAtWrite >= epoch || (preserve != nil && preserve(event)) {
			kept = append(kept, event)
			continue
		}
		delete(l.byID, event.ID())
		pruned++
	}
	l.ordered = kept
	if pruned > 0 {
		l.log.Info().Int("pruned", pruned).Uint64("before_epoch", epoch).Msg("pruned journal history")
	}
	return pruned, nil
}

// Poll drains and returns the events ingested since the previous Poll, in
// ingestion order.
func (l *Log) Poll() []*keep.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*keep.Event
	for {
		item, ok := l.fresh.PopFront()
		if !ok {
			break
		}
		out = append(out, item.(*keep.Event))
	}
	return out
}

// Size returns the number of events currently held.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ordered)
}
