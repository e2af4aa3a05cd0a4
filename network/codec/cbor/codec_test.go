package cbor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/network/codec"
	"github.com/quorumkeep/quorumkeep/network/codec/cbor"
)

func TestEventRoundTripPreservesID(t *testing.T) {
	c := cbor.NewCodec()

	event := &keep.Event{
		EpochAtWrite: 12,
		Author:       keep.HashToID([]byte("device-a")),
		ParentHash:   keep.HashToID([]byte("parent")),
		Payload: keep.InitiateSession{
			SessionID:    keep.HashToID([]byte("session")),
			Protocol:     keep.ProtocolDkd,
			Participants: keep.IdentifierList{keep.HashToID([]byte("device-a")), keep.HashToID([]byte("device-b"))},
			Threshold:    2,
			StartEpoch:   12,
			TTLInEpochs:  100,
		},
		Signature: []byte("sig"),
	}

	data, err := c.Encode(event)
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, event.ID(), decoded.ID())
	assert.Equal(t, event.Payload, decoded.Payload)
	assert.Equal(t, event.Signature, decoded.Signature)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := cbor.NewCodec()

	_, err := c.Decode(nil)
	assert.ErrorIs(t, err, codec.ErrEmptyMessage)

	_, err = c.Decode([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
}

func TestGrantRoundTripKeepsThresholdSig(t *testing.T) {
	c := cbor.NewCodec()

	event := &keep.Event{
		EpochAtWrite: 30,
		Author:       keep.HashToID([]byte("device-b")),
		Payload: keep.GrantOperationLock{
			Scope:          keep.ScopeResharing,
			SessionID:      keep.HashToID([]byte("lock-session")),
			Winner:         keep.HashToID([]byte("device-a")),
			AnchorHash:     keep.HashToID([]byte("anchor")),
			GrantedAtEpoch: 30,
			TTLInEpochs:    20,
			ThresholdSig:   []byte("aggregate"),
		},
	}

	data, err := c.Encode(event)
	require.NoError(t, err)

	decoded, err := c.Decode(data)
	require.NoError(t, err)

	grant, ok := decoded.Payload.(keep.GrantOperationLock)
	require.True(t, ok)
	assert.Equal(t, []byte("aggregate"), grant.ThresholdSig)
	assert.Equal(t, event.Payload.(keep.GrantOperationLock).GrantMessage(), grant.GrantMessage())
}
