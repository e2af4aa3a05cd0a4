// Package clock implements the logical clock: a monotonically increasing
// epoch counter derived from the journal, requiring no wall-clock
// synchronization between devices.
package clock

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/state"
)

// StaleEpochError is returned when an event's epoch does not advance past
// the replica's current epoch.
type StaleEpochError struct {
	Provided uint64
	Current  uint64
}

func (e StaleEpochError) Error() string {
	return fmt.Sprintf("stale epoch: provided %d, current %d", e.Provided, e.Current)
}

// IsStaleEpochError returns whether the error is a StaleEpochError.
func IsStaleEpochError(err error) bool {
	var target StaleEpochError
	return errors.As(err, &target)
}

// Clock tracks this device's local logical epoch. The local epoch is the
// maximum of the device's own counter and every epoch seen in ingested
// events; before authoring an event the device increments the counter and
// stamps the result as epoch_at_write.
type Clock struct {
	log   zerolog.Logger
	epoch *atomic.Uint64
}

// New creates a clock starting at epoch zero.
func New(log zerolog.Logger) *Clock {
	return &Clock{
		log:   log.With().Str("component", "logical_clock").Logger(),
		epoch: atomic.NewUint64(0),
	}
}

// Current returns the device's current logical epoch.
func (c *Clock) Current() uint64 {
	return c.epoch.Load()
}

// Observe folds an ingested epoch into the local clock:
// local = max(local, observed).
func (c *Clock) Observe(epoch uint64) {
	for {
		current := c.epoch.Load()
		if epoch <= current {
			return
		}
		if c.epoch.CompareAndSwap(current, epoch) {
			return
		}
	}
}

// Next increments the local epoch and returns the value to stamp as
// epoch_at_write on a new event.
func (c *Clock) Next() uint64 {
	return c.epoch.Inc()
}

// Validate checks a locally-created event against the replica's current
// epoch: epoch_at_write must exceed it. On success it returns the advanced
// epoch.
func (c *Clock) Validate(event *keep.Event, currentEpoch uint64) (uint64, error) {
	if event.EpochAtWrite <= currentEpoch {
		return currentEpoch, StaleEpochError{Provided: event.EpochAtWrite, Current: currentEpoch}
	}
	return event.EpochAtWrite, nil
}

// Tick builds a tick payload advancing the clock past the given state.
// Ticks keep epoch-based timeouts detectable during idle periods: the
// embedded evidence hash proves which state the device ticked from, and
// the materializer enforces the per-device rate limit.
func (c *Clock) Tick(st *state.AccountState) (keep.EpochTick, error) {
	previous := st.LogicalEpoch
	next := c.Next()
	if next <= previous {
		c.Observe(previous + 1)
		next = c.Next()
	}
	tick := keep.EpochTick{
		NewEpoch:      next,
		PreviousEpoch: previous,
		EvidenceHash:  st.Hash(),
	}
	c.log.Debug().Uint64("from", previous).Uint64("to", next).Msg("emitting epoch tick")
	return tick, nil
}
