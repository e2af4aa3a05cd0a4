package module

import (
	"github.com/quorumkeep/quorumkeep/model/keep"
)

// Hasher produces digests over opaque bytes. The substrate uses it to
// check commitment/reveal pairs and to derive state evidence hashes; it
// never inspects key material.
type Hasher interface {
	Hash(data []byte) keep.Identifier
}

// Signer signs event bodies on behalf of the local device.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	Verify(device keep.DeviceID, msg []byte, sig []byte) bool
}

// ThresholdSigner produces this device's share of a threshold signature
// over a message.
type ThresholdSigner interface {
	SignShare(msg []byte) ([]byte, error)
}

// ThresholdAggregator assembles signature shares into a single threshold
// signature once a quorum contributed.
type ThresholdAggregator interface {
	// Aggregate combines the given shares, keyed by contributing device,
	// into one threshold signature. It errors if fewer than threshold
	// shares are provided or any share is malformed.
	Aggregate(msg []byte, shares map[keep.DeviceID][]byte, threshold uint32) ([]byte, error)
}

// ThresholdVerifier verifies an assembled threshold signature as a single
// signature.
type ThresholdVerifier interface {
	VerifyThreshold(msg []byte, sig []byte) bool
}

// Local holds the identity of this device and its signing capabilities.
type Local interface {
	DeviceID() keep.DeviceID
	Signer
	ThresholdSigner
}
