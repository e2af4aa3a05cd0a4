package lock

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/state"
	"github.com/quorumkeep/quorumkeep/utils/unittest"
)

type managerFixture struct {
	manager      *Manager
	materializer *state.Materializer
	scheme       *unittest.ThresholdScheme
	st           *state.AccountState
	devices      keep.IdentifierList
	anchor       keep.Identifier
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	scheme := unittest.NewThresholdScheme("lock-manager", 2)
	f := &managerFixture{
		manager:      NewManager(zerolog.Nop(), scheme, scheme),
		materializer: state.NewMaterializer(zerolog.Nop(), unittest.Hasher{}, scheme),
		scheme:       scheme,
		st:           state.NewAccountState(),
		devices:      unittest.DeviceIDFixtures(3),
	}
	// seed the log head the requests anchor to
	f.apply(t, f.devices[0], 1, keep.InitiateSession{
		SessionID:    unittest.SessionIDFixture(),
		Protocol:     keep.ProtocolResharing,
		Participants: f.devices,
		Threshold:    2,
		StartEpoch:   1,
		TTLInEpochs:  100,
	})
	f.anchor = f.st.HeadEventID
	return f
}

func (f *managerFixture) apply(t *testing.T, author keep.DeviceID, epoch uint64, payload keep.Payload) {
	t.Helper()
	require.NoError(t, f.materializer.Apply(f.st, unittest.EventFixture(author, epoch, payload)))
}

// enter builds requests for the given devices against the same pre-fold
// head before applying any of them, so the entries compete in one lottery
// round.
func (f *managerFixture) enter(t *testing.T, epoch uint64, devices ...keep.DeviceID) {
	t.Helper()
	anchor := f.st.HeadEventID
	requests := make([]keep.RequestOperationLock, 0, len(devices))
	for _, device := range devices {
		request, err := f.manager.Request(f.st, keep.ScopeResharing, device, unittest.SessionIDFixture(), 10)
		require.NoError(t, err)
		assert.Equal(t, anchor, request.AnchorHash)
		requests = append(requests, request)
	}
	for i, request := range requests {
		f.apply(t, devices[i], epoch, request)
	}
}

func (f *managerFixture) shares(t *testing.T, msg []byte) map[keep.DeviceID][]byte {
	t.Helper()
	shares := make(map[keep.DeviceID][]byte)
	for _, device := range f.devices[:2] {
		share, err := f.scheme.Local(device).SignShare(msg)
		require.NoError(t, err)
		shares[device] = share
	}
	return shares
}

// At most one device ever holds a scope: both competitors anchor to the same
// head, the deterministic lottery names one winner, and only a grant naming
// that winner folds.
func TestSingleWinnerPerScope(t *testing.T) {
	f := newManagerFixture(t)
	f.enter(t, 2, f.devices[0], f.devices[1])

	winner, err := f.manager.Winner(f.st, keep.ScopeResharing, f.anchor)
	require.NoError(t, err)
	assert.Contains(t, []keep.DeviceID{f.devices[0], f.devices[1]}, winner)

	grant, err := f.manager.BuildGrant(f.st, keep.ScopeResharing, f.anchor, 3, f.sharesForGrant(t), 2)
	require.NoError(t, err)
	assert.Equal(t, winner, grant.Winner)
	require.NoError(t, f.manager.VerifyGrant(f.st, grant, 3))

	f.apply(t, f.devices[2], 3, grant)
	lock, ok := f.st.LiveLock(keep.ScopeResharing, 3)
	require.True(t, ok)
	assert.Equal(t, winner, lock.Holder)

	// while the lock is live, further requests are refused outright
	_, err = f.manager.Request(f.st, keep.ScopeResharing, f.devices[2], unittest.SessionIDFixture(), 10)
	require.True(t, IsLockHeldError(err))
	var held LockHeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, winner, held.Holder)
}

// sharesForGrant signs the message BuildGrant will assemble, by recomputing
// the winning grant deterministically.
func (f *managerFixture) sharesForGrant(t *testing.T) map[keep.DeviceID][]byte {
	t.Helper()
	winner, err := f.manager.Winner(f.st, keep.ScopeResharing, f.anchor)
	require.NoError(t, err)
	var winning *keep.LockRequestRecord
	for _, req := range f.st.LockRequests[keep.ScopeResharing] {
		if req.Device == winner {
			winning = req
		}
	}
	require.NotNil(t, winning)
	grant := keep.GrantOperationLock{
		Scope:          keep.ScopeResharing,
		SessionID:      winning.SessionID,
		Winner:         winner,
		AnchorHash:     f.anchor,
		GrantedAtEpoch: 3,
		TTLInEpochs:    winning.TTLInEpochs,
	}
	return f.shares(t, grant.GrantMessage())
}

func TestRequestAfterExpiry(t *testing.T) {
	f := newManagerFixture(t)
	f.enter(t, 2, f.devices[0])

	grant, err := f.manager.BuildGrant(f.st, keep.ScopeResharing, f.anchor, 3, f.sharesForGrant(t), 2)
	require.NoError(t, err)
	f.apply(t, f.devices[2], 3, grant)

	// the holder goes silent; once the TTL lapses the scope opens again
	// without any release event
	_, ok := f.st.LiveLock(keep.ScopeResharing, grant.GrantedAtEpoch+grant.TTLInEpochs+1)
	assert.False(t, ok)

	f.st.LogicalEpoch = grant.GrantedAtEpoch + grant.TTLInEpochs + 1
	_, err = f.manager.Request(f.st, keep.ScopeResharing, f.devices[1], unittest.SessionIDFixture(), 10)
	assert.NoError(t, err, "an expired lock does not block new requests")
}

// A round that never reaches a grant lapses after the grant window; every
// candidate re-requests against the fresh head, superseding its old entry
// and opening a new lottery.
func TestRerequestAfterLapsedRound(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.WithGrantWindow(5)
	f.enter(t, 2, f.devices[0], f.devices[1])
	require.False(t, f.manager.RoundLapsed(f.st, keep.ScopeResharing))

	// no grant arrives; the clock moves past the window
	f.st.LogicalEpoch = 8
	require.True(t, f.manager.RoundLapsed(f.st, keep.ScopeResharing))

	// both candidates re-request against the fresh head
	fresh := f.st.HeadEventID
	require.NotEqual(t, f.anchor, fresh)
	f.enter(t, 9, f.devices[0], f.devices[1])

	// the re-requests superseded the stale entries instead of piling up
	requests := f.st.LockRequests[keep.ScopeResharing]
	require.Len(t, requests, 2)
	for _, request := range requests {
		assert.Equal(t, fresh, request.AnchorHash)
	}
	assert.False(t, f.manager.RoundLapsed(f.st, keep.ScopeResharing))

	// the old round is dead, the new one has a winner
	_, err := f.manager.Winner(f.st, keep.ScopeResharing, f.anchor)
	assert.ErrorIs(t, err, ErrNoRequests)
	_, err = f.manager.Winner(f.st, keep.ScopeResharing, fresh)
	assert.NoError(t, err)
}

func TestVerifyGrant(t *testing.T) {
	f := newManagerFixture(t)
	f.enter(t, 2, f.devices[0], f.devices[1])

	grant, err := f.manager.BuildGrant(f.st, keep.ScopeResharing, f.anchor, 3, f.sharesForGrant(t), 2)
	require.NoError(t, err)

	t.Run("stale grant", func(t *testing.T) {
		err := f.manager.VerifyGrant(f.st, grant, grant.GrantedAtEpoch+grant.TTLInEpochs+1)
		assert.ErrorIs(t, err, ErrStaleGrant)
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := grant
		tampered.ThresholdSig = []byte("forged")
		assert.ErrorIs(t, f.manager.VerifyGrant(f.st, tampered, 3), ErrInvalidGrantSig)
	})

	t.Run("wrong winner", func(t *testing.T) {
		loser := f.devices[0]
		if grant.Winner == loser {
			loser = f.devices[1]
		}
		renamed := grant
		renamed.Winner = loser
		sig, err := f.scheme.Aggregate(renamed.GrantMessage(), f.shares(t, renamed.GrantMessage()), 2)
		require.NoError(t, err)
		renamed.ThresholdSig = sig
		assert.ErrorIs(t, f.manager.VerifyGrant(f.st, renamed, 3), ErrWrongWinner)
	})
}

func TestRelease(t *testing.T) {
	f := newManagerFixture(t)
	f.enter(t, 2, f.devices[0])

	grant, err := f.manager.BuildGrant(f.st, keep.ScopeResharing, f.anchor, 3, f.sharesForGrant(t), 2)
	require.NoError(t, err)
	f.apply(t, f.devices[2], 3, grant)

	t.Run("non-holder cannot release", func(t *testing.T) {
		_, err := f.manager.Release(f.st, keep.ScopeResharing, f.devices[1])
		assert.ErrorIs(t, err, ErrNotHolder)
	})

	t.Run("unlocked scope has nothing to release", func(t *testing.T) {
		_, err := f.manager.Release(f.st, keep.ScopeRecovery, f.devices[0])
		assert.ErrorIs(t, err, ErrNoLock)
	})

	t.Run("holder releases and the scope reopens", func(t *testing.T) {
		release, err := f.manager.Release(f.st, keep.ScopeResharing, grant.Winner)
		require.NoError(t, err)
		f.apply(t, grant.Winner, 4, release)
		_, ok := f.st.LiveLock(keep.ScopeResharing, 4)
		assert.False(t, ok)
	})
}

func TestWinnerWithoutRequests(t *testing.T) {
	f := newManagerFixture(t)
	_, err := f.manager.Winner(f.st, keep.ScopeCompaction, f.anchor)
	assert.ErrorIs(t, err, ErrNoRequests)
}
