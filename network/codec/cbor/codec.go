// Package cbor implements the event codec with CBOR payload encoding. Each
// encoded event carries its payload kind as a leading code byte so decoders
// can instantiate the right payload type without reflection over the full
// envelope.
package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/network/codec"
)

// envelope is the wire form of an event. The payload is encoded separately
// so the code byte can select the concrete type on decode.
type envelope struct {
	EpochAtWrite uint64
	Author       keep.DeviceID
	ParentHash   keep.Identifier
	PayloadCode  uint8
	Payload      []byte
	Signature    []byte
}

// Codec implements codec.Codec using CBOR.
type Codec struct{}

// NewCodec creates a CBOR event codec.
func NewCodec() *Codec {
	return &Codec{}
}

var _ codec.Codec = (*Codec)(nil)

// Encode serializes the event including its payload kind code.
func (c *Codec) Encode(event *keep.Event) ([]byte, error) {
	payload, err := cbor.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("could not encode payload: %w", err)
	}
	data, err := cbor.Marshal(envelope{
		EpochAtWrite: event.EpochAtWrite,
		Author:       event.Author,
		ParentHash:   event.ParentHash,
		PayloadCode:  uint8(event.Payload.Kind()),
		Payload:      payload,
		Signature:    event.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode envelope: %w", err)
	}
	return data, nil
}

// Decode deserializes an event, instantiating the payload type named by the
// code byte.
func (c *Codec) Decode(data []byte) (*keep.Event, error) {
	if len(data) == 0 {
		return nil, codec.ErrEmptyMessage
	}
	var env envelope
	err := cbor.Unmarshal(data, &env)
	if err != nil {
		return nil, fmt.Errorf("could not decode envelope: %w", err)
	}

	payload, err := payloadForCode(env.PayloadCode)
	if err != nil {
		return nil, err
	}
	err = cbor.Unmarshal(env.Payload, payload)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s payload: %w", keep.PayloadKind(env.PayloadCode), err)
	}

	return &keep.Event{
		EpochAtWrite: env.EpochAtWrite,
		Author:       env.Author,
		ParentHash:   env.ParentHash,
		Payload:      deref(payload),
		Signature:    env.Signature,
	}, nil
}

// payloadForCode returns a pointer to a zero payload of the coded kind.
func payloadForCode(code uint8) (interface{}, error) {
	switch keep.PayloadKind(code) {
	case keep.KindEpochTick:
		return &keep.EpochTick{}, nil
	case keep.KindInitiateSession:
		return &keep.InitiateSession{}, nil
	case keep.KindFinalizeSession:
		return &keep.FinalizeSession{}, nil
	case keep.KindAbortSession:
		return &keep.AbortSession{}, nil
	case keep.KindCancelSession:
		return &keep.CancelSession{}, nil
	case keep.KindTimeoutSession:
		return &keep.TimeoutSession{}, nil
	case keep.KindRecordCommitment:
		return &keep.RecordCommitment{}, nil
	case keep.KindRevealValue:
		return &keep.RevealValue{}, nil
	case keep.KindDistributeSubShare:
		return &keep.DistributeSubShare{}, nil
	case keep.KindAcknowledgeSubShare:
		return &keep.AcknowledgeSubShare{}, nil
	case keep.KindGuardianApproval:
		return &keep.GuardianApproval{}, nil
	case keep.KindSubmitRecoveryShare:
		return &keep.SubmitRecoveryShare{}, nil
	case keep.KindRequestOperationLock:
		return &keep.RequestOperationLock{}, nil
	case keep.KindGrantOperationLock:
		return &keep.GrantOperationLock{}, nil
	case keep.KindReleaseOperationLock:
		return &keep.ReleaseOperationLock{}, nil
	case keep.KindProposeCompaction:
		return &keep.ProposeCompaction{}, nil
	case keep.KindAcknowledgeCompaction:
		return &keep.AcknowledgeCompaction{}, nil
	case keep.KindCommitCompaction:
		return &keep.CommitCompaction{}, nil
	case keep.KindReinstateRequest:
		return &keep.ReinstateRequest{}, nil
	case keep.KindReinstateResult:
		return &keep.ReinstateResult{}, nil
	default:
		return nil, codec.UnknownCodeError(code)
	}
}

// deref unwraps the decoded payload pointer into the value form carried by
// keep.Event.
func deref(payload interface{}) keep.Payload {
	switch p := payload.(type) {
	case *keep.EpochTick:
		return *p
	case *keep.InitiateSession:
		return *p
	case *keep.FinalizeSession:
		return *p
	case *keep.AbortSession:
		return *p
	case *keep.CancelSession:
		return *p
	case *keep.TimeoutSession:
		return *p
	case *keep.RecordCommitment:
		return *p
	case *keep.RevealValue:
		return *p
	case *keep.DistributeSubShare:
		return *p
	case *keep.AcknowledgeSubShare:
		return *p
	case *keep.GuardianApproval:
		return *p
	case *keep.SubmitRecoveryShare:
		return *p
	case *keep.RequestOperationLock:
		return *p
	case *keep.GrantOperationLock:
		return *p
	case *keep.ReleaseOperationLock:
		return *p
	case *keep.ProposeCompaction:
		return *p
	case *keep.AcknowledgeCompaction:
		return *p
	case *keep.CommitCompaction:
		return *p
	case *keep.ReinstateRequest:
		return *p
	case *keep.ReinstateResult:
		return *p
	default:
		// payloadForCode only hands out the types above
		panic(fmt.Sprintf("unhandled payload type %T", payload))
	}
}
