package module

import (
	"time"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

// Channel is an established point-to-point connection to a peer device.
type Channel interface {
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

// Transport moves encoded events between devices. The substrate is
// transport-agnostic; it only requires that broadcast bytes eventually
// arrive in every replica's journal. Concrete transports live outside this
// module.
type Transport interface {
	Connect(peer keep.DeviceID, credential []byte) (Channel, error)
	Broadcast(peers keep.IdentifierList, data []byte) error
}
