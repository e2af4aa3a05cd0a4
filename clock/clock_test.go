package clock_test

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkeep/quorumkeep/clock"
	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/state"
)

func TestObserveNeverRegresses(t *testing.T) {
	c := clock.New(zerolog.Nop())
	c.Observe(10)
	assert.Equal(t, uint64(10), c.Current())

	c.Observe(5)
	assert.Equal(t, uint64(10), c.Current())

	assert.Equal(t, uint64(11), c.Next())
}

func TestNextIsStrictlyIncreasingUnderConcurrency(t *testing.T) {
	c := clock.New(zerolog.Nop())

	const writers = 8
	const perWriter = 100
	seen := make([][]uint64, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				seen[i] = append(seen[i], c.Next())
			}
		}(i)
	}
	wg.Wait()

	unique := make(map[uint64]struct{})
	for _, epochs := range seen {
		for k, epoch := range epochs {
			if k > 0 {
				assert.Greater(t, epoch, epochs[k-1])
			}
			unique[epoch] = struct{}{}
		}
	}
	assert.Len(t, unique, writers*perWriter)
}

func TestValidateRejectsStaleEpoch(t *testing.T) {
	c := clock.New(zerolog.Nop())
	c.Observe(20)

	event := &keep.Event{EpochAtWrite: 15}
	_, err := c.Validate(event, c.Current())
	require.Error(t, err)
	assert.True(t, clock.IsStaleEpochError(err))

	event.EpochAtWrite = 21
	epoch, err := c.Validate(event, c.Current())
	require.NoError(t, err)
	assert.Equal(t, uint64(21), epoch)
}

func TestTickCarriesStateEvidence(t *testing.T) {
	c := clock.New(zerolog.Nop())

	st := state.NewAccountState()
	st.LogicalEpoch = 42
	st.HeadEventID = keep.HashToID([]byte("head"))

	tick, err := c.Tick(st)
	require.NoError(t, err)

	assert.Equal(t, st.Hash(), tick.EvidenceHash)
	assert.Equal(t, uint64(42), tick.PreviousEpoch)
	assert.Greater(t, tick.NewEpoch, tick.PreviousEpoch)
}
