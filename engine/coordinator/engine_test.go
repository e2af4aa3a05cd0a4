package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkeep/quorumkeep/byzantine"
	"github.com/quorumkeep/quorumkeep/clock"
	"github.com/quorumkeep/quorumkeep/compaction"
	"github.com/quorumkeep/quorumkeep/journal"
	"github.com/quorumkeep/quorumkeep/lock"
	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/session"
	"github.com/quorumkeep/quorumkeep/state"
	"github.com/quorumkeep/quorumkeep/utils/unittest"
)

// replica is one device running the full engine over an in-memory journal.
type replica struct {
	device keep.DeviceID
	engine *Engine
	log    *journal.Log
}

func newReplica(t *testing.T, scheme *unittest.ThresholdScheme, device keep.DeviceID) *replica {
	t.Helper()
	nop := zerolog.Nop()
	jrnl := journal.NewLog(nop)
	engine := New(
		nop,
		scheme.Local(device),
		clock.New(nop),
		jrnl,
		state.NewMaterializer(nop, unittest.Hasher{}, scheme),
		session.NewRegistry(nop, scheme),
		byzantine.NewValidator(nop, unittest.Hasher{}),
		lock.NewManager(nop, scheme, scheme),
		compaction.NewCoordinator(nop, proofStub{}, scheme, scheme),
		nil,
		nil,
	)
	t.Cleanup(engine.Stop)
	return &replica{device: device, engine: engine, log: jrnl}
}

// proofStub satisfies the proofs store for engine tests that never reach the
// acknowledgment phase with preserved roots.
type proofStub struct{}

func (proofStub) Store(keep.SessionID, []byte) error       { return nil }
func (proofStub) BySession(keep.SessionID) ([]byte, error) { return []byte("proof"), nil }
func (proofStub) Sessions() (keep.IdentifierList, error)   { return nil, nil }

// sync ships every event from one replica to the other.
func (r *replica) sync(t *testing.T, to *replica) {
	t.Helper()
	_, err := to.engine.Deliver(r.log.All())
	require.NoError(t, err)
}

func TestDerivationAcrossReplicas(t *testing.T) {
	scheme := unittest.NewThresholdScheme("engine", 2)
	devices := unittest.DeviceIDFixtures(2)
	alpha := newReplica(t, scheme, devices[0])
	beta := newReplica(t, scheme, devices[1])

	sessionID := unittest.SessionIDFixture()
	_, err := alpha.engine.InitiateSession(sessionID, keep.ProtocolDkd, devices, 2, 100)
	require.NoError(t, err)
	alpha.sync(t, beta)

	// beta blocks on the commitment quorum before the contributions exist
	type waitResult struct {
		st  *state.AccountState
		err error
	}
	waited := make(chan waitResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := beta.engine.Wait(ctx, ThresholdOf(sessionID, keep.KindRecordCommitment, 2))
		waited <- waitResult{st, err}
	}()

	alphaValue := []byte("alpha-entropy")
	betaValue := []byte("beta-entropy")
	_, err = alpha.engine.RecordCommitment(sessionID, keep.HashToID(alphaValue))
	require.NoError(t, err)
	_, err = beta.engine.RecordCommitment(sessionID, keep.HashToID(betaValue))
	require.NoError(t, err)
	alpha.sync(t, beta)
	beta.sync(t, alpha)

	select {
	case result := <-waited:
		require.NoError(t, result.err)
		session, ok := result.st.Session(sessionID)
		require.True(t, ok)
		assert.Len(t, session.Phase.Commitments, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("threshold waiter never released")
	}

	_, err = alpha.engine.RecordReveal(sessionID, alphaValue)
	require.NoError(t, err)
	_, err = beta.engine.RecordReveal(sessionID, betaValue)
	require.NoError(t, err)
	alpha.sync(t, beta)
	beta.sync(t, alpha)

	// both replicas converge on a completed session with the same root
	alphaState := alpha.engine.State()
	betaState := beta.engine.State()
	for _, st := range []*state.AccountState{alphaState, betaState} {
		session, ok := st.Session(sessionID)
		require.True(t, ok)
		assert.Equal(t, keep.SessionCompleted, session.Status)
	}
	require.Contains(t, alphaState.CommitmentRoots, sessionID)
	assert.Equal(t,
		alphaState.CommitmentRoots[sessionID].MerkleRoot,
		betaState.CommitmentRoots[sessionID].MerkleRoot,
	)
}

func TestRevealMismatchIsJournaledAsEvidence(t *testing.T) {
	scheme := unittest.NewThresholdScheme("evidence", 2)
	devices := unittest.DeviceIDFixtures(2)
	alpha := newReplica(t, scheme, devices[0])
	beta := newReplica(t, scheme, devices[1])

	sessionID := unittest.SessionIDFixture()
	_, err := alpha.engine.InitiateSession(sessionID, keep.ProtocolDkd, devices, 2, 100)
	require.NoError(t, err)
	_, err = alpha.engine.RecordCommitment(sessionID, keep.HashToID([]byte("committed")))
	require.NoError(t, err)

	st, err := alpha.engine.RecordReveal(sessionID, []byte("swapped"))
	require.True(t, byzantine.IsCommitmentMismatchError(err))
	require.NotNil(t, st, "the evidence is journaled despite the error")

	// the other replica derives the same quarantine from the evidence
	alpha.sync(t, beta)
	betaState := beta.engine.State()
	assert.True(t, betaState.QuarantineActive(devices[0], betaState.LogicalEpoch))
	session, _ := betaState.Session(sessionID)
	assert.Equal(t, keep.SessionAborted, session.Status)
}

func TestTickRateLimitedInFold(t *testing.T) {
	scheme := unittest.NewThresholdScheme("ticking", 2)
	replica := newReplica(t, scheme, unittest.DeviceIDFixture())

	st, err := replica.engine.EmitTick()
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.LogicalEpoch)

	// the immediate follow-up tick journals but does not fold
	st, err = replica.engine.EmitTick()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.LogicalEpoch, "a tick below the rate limit is skipped by every replica")
}

// A replica built without persistent stores still runs the full compaction
// cycle; the committed prune applies to the in-memory journal alone.
func TestCompactionOnMemoryOnlyReplica(t *testing.T) {
	scheme := unittest.NewThresholdScheme("memory-compaction", 1)
	device := unittest.DeviceIDFixture()
	replica := newReplica(t, scheme, device)

	sessionID := unittest.SessionIDFixture()
	_, err := replica.engine.InitiateSession(sessionID, keep.ProtocolResharing, keep.IdentifierList{device}, 1, 100)
	require.NoError(t, err)

	// close the session so its history becomes prunable
	abort := keep.AbortSession{SessionID: sessionID, Reason: keep.AbortReasonOperatorRequest}
	share, err := scheme.Local(device).SignShare(abort.QuorumMessage())
	require.NoError(t, err)
	proof, err := scheme.Aggregate(abort.QuorumMessage(), map[keep.DeviceID][]byte{device: share}, 1)
	require.NoError(t, err)
	_, err = replica.engine.AbortSession(sessionID, keep.AbortReasonOperatorRequest, keep.DeviceID{}, proof)
	require.NoError(t, err)

	compactionID, _, err := replica.engine.ProposeCompaction(3, keep.IdentifierList{sessionID})
	require.NoError(t, err)
	_, err = replica.engine.AcknowledgeCompaction(compactionID)
	require.NoError(t, err)

	commit := keep.CommitCompaction{CompactionID: compactionID, BeforeEpoch: 3}
	commitShare, err := scheme.Local(device).SignShare(commit.CommitMessage())
	require.NoError(t, err)
	st, err := replica.engine.CommitCompaction(compactionID, map[keep.DeviceID][]byte{device: commitShare}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.CompactedBeforeEpoch)

	// the terminal session's initiation and abort fell below the watermark
	assert.Equal(t, 3, replica.log.Size())
	for _, event := range replica.log.All() {
		assert.GreaterOrEqual(t, event.EpochAtWrite, uint64(3))
	}
}

func TestLockFlowAcrossEngine(t *testing.T) {
	scheme := unittest.NewThresholdScheme("engine-locks", 2)
	devices := unittest.DeviceIDFixtures(2)
	alpha := newReplica(t, scheme, devices[0])
	beta := newReplica(t, scheme, devices[1])

	// seed a shared head so both requests anchor identically
	sessionID := unittest.SessionIDFixture()
	_, err := alpha.engine.InitiateSession(sessionID, keep.ProtocolResharing, devices, 2, 100)
	require.NoError(t, err)
	alpha.sync(t, beta)
	anchor := alpha.engine.State().HeadEventID

	_, err = alpha.engine.RequestLock(keep.ScopeResharing, sessionID, 20)
	require.NoError(t, err)
	_, err = beta.engine.RequestLock(keep.ScopeResharing, sessionID, 20)
	require.NoError(t, err)
	alpha.sync(t, beta)
	beta.sync(t, alpha)

	st := alpha.engine.State()
	winner, found := keep.LotteryWinner(st.LockRequests[keep.ScopeResharing], anchor)
	require.True(t, found)

	// assemble the grant on alpha and gossip it
	grantMsg := func() []byte {
		var winning *keep.LockRequestRecord
		for _, req := range st.LockRequests[keep.ScopeResharing] {
			if req.Device == winner {
				winning = req
			}
		}
		require.NotNil(t, winning)
		grant := keep.GrantOperationLock{
			Scope:          keep.ScopeResharing,
			SessionID:      winning.SessionID,
			Winner:         winner,
			AnchorHash:     anchor,
			GrantedAtEpoch: 3,
			TTLInEpochs:    winning.TTLInEpochs,
		}
		return grant.GrantMessage()
	}()
	shares := make(map[keep.DeviceID][]byte)
	for _, device := range devices {
		share, err := scheme.Local(device).SignShare(grantMsg)
		require.NoError(t, err)
		shares[device] = share
	}
	granted, err := alpha.engine.GrantLock(keep.ScopeResharing, anchor, shares, 2)
	require.NoError(t, err)
	held, ok := granted.LiveLock(keep.ScopeResharing, granted.LogicalEpoch)
	require.True(t, ok)
	assert.Equal(t, winner, held.Holder)

	alpha.sync(t, beta)
	_, ok = beta.engine.State().LiveLock(keep.ScopeResharing, granted.LogicalEpoch)
	assert.True(t, ok, "the grant folds identically on every replica")
}
