// Package signature provides a deterministic, hash-based stand-in for the
// consumed threshold cryptography. It exists so the substrate can be driven
// end to end (tests, local development, the operator CLI) without curve
// math; it offers NO cryptographic security and must be swapped for a real
// scheme before any production use.
package signature

import (
	"bytes"
	"fmt"

	"github.com/quorumkeep/quorumkeep/model/keep"
	"github.com/quorumkeep/quorumkeep/module"
)

// Hasher implements module.Hasher on SHA3-256, matching the hash the
// substrate uses for identifiers.
type Hasher struct{}

var _ module.Hasher = Hasher{}

func (Hasher) Hash(data []byte) keep.Identifier {
	return keep.HashToID(data)
}

// DevScheme derives shares and aggregate signatures as keyed hashes of a
// shared group seed. Any holder of the seed can forge; see the package
// comment.
type DevScheme struct {
	groupSeed []byte
	threshold uint32
}

// NewDevScheme creates a scheme for the given group seed and threshold.
func NewDevScheme(seed string, threshold uint32) *DevScheme {
	return &DevScheme{groupSeed: []byte(seed), threshold: threshold}
}

var _ module.ThresholdAggregator = (*DevScheme)(nil)
var _ module.ThresholdVerifier = (*DevScheme)(nil)

func (s *DevScheme) shareFor(device keep.DeviceID, msg []byte) []byte {
	digest := keep.HashToID(concat([]byte("share"), s.groupSeed, device[:], msg))
	return digest[:]
}

func (s *DevScheme) aggregateFor(msg []byte) []byte {
	digest := keep.HashToID(concat([]byte("aggregate"), s.groupSeed, msg))
	return digest[:]
}

// Aggregate combines shares into the group signature, rejecting short or
// forged quorums like a real aggregator would.
func (s *DevScheme) Aggregate(msg []byte, shares map[keep.DeviceID][]byte, threshold uint32) ([]byte, error) {
	if uint32(len(shares)) < threshold {
		return nil, fmt.Errorf("insufficient shares: %d of %d", len(shares), threshold)
	}
	for device, share := range shares {
		if !bytes.Equal(share, s.shareFor(device, msg)) {
			return nil, fmt.Errorf("invalid share from %s", device)
		}
	}
	return s.aggregateFor(msg), nil
}

// VerifyThreshold checks an assembled group signature.
func (s *DevScheme) VerifyThreshold(msg []byte, sig []byte) bool {
	return bytes.Equal(sig, s.aggregateFor(msg))
}

// Local returns the module.Local identity of a device under this scheme.
func (s *DevScheme) Local(device keep.DeviceID) *DevLocal {
	return &DevLocal{device: device, scheme: s}
}

// DevLocal implements module.Local with deterministic hash-based
// signatures.
type DevLocal struct {
	device keep.DeviceID
	scheme *DevScheme
}

var _ module.Local = (*DevLocal)(nil)

func (l *DevLocal) DeviceID() keep.DeviceID {
	return l.device
}

func (l *DevLocal) Sign(msg []byte) ([]byte, error) {
	digest := keep.HashToID(concat([]byte("device-sig"), l.device[:], msg))
	return digest[:], nil
}

func (l *DevLocal) Verify(device keep.DeviceID, msg []byte, sig []byte) bool {
	digest := keep.HashToID(concat([]byte("device-sig"), device[:], msg))
	return bytes.Equal(sig, digest[:])
}

func (l *DevLocal) SignShare(msg []byte) ([]byte, error) {
	return l.scheme.shareFor(l.device, msg), nil
}

func concat(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, part := range parts {
		buf.Write(part)
	}
	return buf.Bytes()
}
