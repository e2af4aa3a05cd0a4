package unittest

import (
	"github.com/quorumkeep/quorumkeep/module/signature"
)

// Hasher is the SHA3-256 hasher the substrate hashes identifiers with.
type Hasher = signature.Hasher

// ThresholdScheme is the deterministic development scheme, good enough to
// exercise quorum logic in tests without curve math.
type ThresholdScheme = signature.DevScheme

// FakeLocal is a device identity under the development scheme.
type FakeLocal = signature.DevLocal

// NewThresholdScheme creates a test scheme for the given group seed and
// threshold.
func NewThresholdScheme(seed string, threshold uint32) *ThresholdScheme {
	return signature.NewDevScheme(seed, threshold)
}
