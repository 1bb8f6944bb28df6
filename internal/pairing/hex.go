package pairing

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidHex is returned for odd-length or non-hex input.
var ErrInvalidHex = errors.New("pairing: invalid hex")

// EncodeHex returns lowercase hex with no separators.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes a hex string of either case.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrInvalidHex, len(s))
	}
	b := make([]byte, len(s)/2)
	if _, err := hex.Decode(b, []byte(s)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return b, nil
}
