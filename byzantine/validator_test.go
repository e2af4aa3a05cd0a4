package byzantine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/state"
	"github.com/quorumkeep/quorumkeep/utils/unittest"
)

type validatorFixture struct {
	validator    *Validator
	materializer *state.Materializer
	st           *state.AccountState
	devices      keep.IdentifierList
	sessionID    keep.SessionID
}

func newValidatorFixture(t *testing.T) *validatorFixture {
	t.Helper()
	scheme := unittest.NewThresholdScheme("validator", 2)
	f := &validatorFixture{
		validator:    NewValidator(zerolog.Nop(), unittest.Hasher{}),
		materializer: state.NewMaterializer(zerolog.Nop(), unittest.Hasher{}, scheme),
		st:           state.NewAccountState(),
		devices:      unittest.DeviceIDFixtures(3),
		sessionID:    unittest.SessionIDFixture(),
	}
	f.apply(t, f.devices[0], 1, keep.InitiateSession{
		SessionID:    f.sessionID,
		Protocol:     keep.ProtocolDkd,
		Participants: f.devices,
		Threshold:    2,
		StartEpoch:   1,
		TTLInEpochs:  100,
	})
	return f
}

func (f *validatorFixture) apply(t *testing.T, author keep.DeviceID, epoch uint64, payload keep.Payload) {
	t.Helper()
	require.NoError(t, f.materializer.Apply(f.st, unittest.EventFixture(author, epoch, payload)))
}

func TestRecordCommitment(t *testing.T) {
	f := newValidatorFixture(t)
	commitment := keep.HashToID([]byte("secret"))

	payload, err := f.validator.RecordCommitment(f.st, f.sessionID, f.devices[0], commitment)
	require.NoError(t, err)
	f.apply(t, f.devices[0], 2, payload)

	t.Run("second commitment from the same participant is rejected", func(t *testing.T) {
		_, err := f.validator.RecordCommitment(f.st, f.sessionID, f.devices[0], commitment)
		assert.ErrorIs(t, err, ErrDuplicateCommitment)
	})

	t.Run("outsider is rejected", func(t *testing.T) {
		_, err := f.validator.RecordCommitment(f.st, f.sessionID, unittest.DeviceIDFixture(), commitment)
		assert.Error(t, err)
	})

	t.Run("unknown session is rejected", func(t *testing.T) {
		_, err := f.validator.RecordCommitment(f.st, unittest.SessionIDFixture(), f.devices[0], commitment)
		assert.Error(t, err)
	})
}

func TestRecordReveal(t *testing.T) {

	t.Run("matching reveal passes", func(t *testing.T) {
		f := newValidatorFixture(t)
		value := []byte("honest-value")
		commit, err := f.validator.RecordCommitment(f.st, f.sessionID, f.devices[0], keep.HashToID(value))
		require.NoError(t, err)
		f.apply(t, f.devices[0], 2, commit)

		reveal, err := f.validator.RecordReveal(f.st, f.sessionID, f.devices[0], value)
		require.NoError(t, err)
		assert.Equal(t, value, reveal.Value)
	})

	t.Run("reveal without commitment is rejected", func(t *testing.T) {
		f := newValidatorFixture(t)
		_, err := f.validator.RecordReveal(f.st, f.sessionID, f.devices[0], []byte("value"))
		assert.ErrorIs(t, err, ErrNoCommitment)
	})

	t.Run("mismatch returns the payload with the error", func(t *testing.T) {
		f := newValidatorFixture(t)
		commit, err := f.validator.RecordCommitment(f.st, f.sessionID, f.devices[0], keep.HashToID([]byte("committed")))
		require.NoError(t, err)
		f.apply(t, f.devices[0], 2, commit)

		reveal, err := f.validator.RecordReveal(f.st, f.sessionID, f.devices[0], []byte("swapped"))
		require.True(t, IsCommitmentMismatchError(err))

		var mismatch CommitmentMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, f.devices[0], mismatch.Participant)
		assert.Equal(t, keep.HashToID([]byte("committed")), mismatch.Committed)

		// the payload is still usable: the mismatching reveal must be
		// journaled as evidence, and folding it quarantines the author
		f.apply(t, f.devices[0], 3, reveal)
		assert.True(t, f.st.QuarantineActive(f.devices[0], 3))
		session, _ := f.st.Session(f.sessionID)
		assert.Equal(t, keep.SessionAborted, session.Status)
	})
}

func TestCheckEligible(t *testing.T) {
	f := newValidatorFixture(t)
	device := f.devices[1]

	assert.NoError(t, f.validator.CheckEligible(f.st, device, 10))

	f.st.Quarantine[device] = &keep.QuarantineRecord{
		Participant:        device,
		BlamedAtEpoch:      10,
		CooldownUntilEpoch: 110,
		OffenseCount:       1,
	}
	err := f.validator.CheckEligible(f.st, device, 50)
	assert.True(t, IsCooldownActiveError(err))
	assert.NoError(t, f.validator.CheckEligible(f.st, device, 110), "cooldown boundary is inclusive of reentry")
}

func TestRequestReinstatement(t *testing.T) {
	f := newValidatorFixture(t)
	device := f.devices[1]

	t.Run("unquarantined device has nothing to reinstate", func(t *testing.T) {
		_, err := f.validator.RequestReinstatement(f.st, unittest.SessionIDFixture(), device, 10)
		assert.ErrorIs(t, err, ErrNotQuarantined)
	})

	f.st.Quarantine[device] = &keep.QuarantineRecord{
		Participant:        device,
		BlamedAtEpoch:      10,
		CooldownUntilEpoch: 110,
		OffenseCount:       1,
	}

	t.Run("request during cooldown is rejected", func(t *testing.T) {
		_, err := f.validator.RequestReinstatement(f.st, unittest.SessionIDFixture(), device, 50)
		assert.True(t, IsCooldownActiveError(err))
	})

	t.Run("request after cooldown builds the payload", func(t *testing.T) {
		payload, err := f.validator.RequestReinstatement(f.st, unittest.SessionIDFixture(), device, 110)
		require.NoError(t, err)
		assert.Equal(t, device, payload.Device)
	})
}
