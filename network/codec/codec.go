// Package codec defines the encoding interface for events moving between
// devices or into persistent storage, plus shared codec errors.
package codec

import (
	"errors"
	"fmt"

	"github.com/quorumkeep/quorumkeep/model/keep"
)

var (
	ErrUnknownCode  = errors.New("unknown payload code")
	ErrEmptyMessage = errors.New("empty message")
)

// Codec encodes and decodes full events, payload included.
type Codec interface {
	Encode(event *keep.Event) ([]byte, error)
	Decode(data []byte) (*keep.Event, error)
}

// UnknownCodeError wraps ErrUnknownCode with the offending code byte.
func UnknownCodeError(code uint8) error {
	return fmt.Errorf("%w: %d", ErrUnknownCode, code)
}
