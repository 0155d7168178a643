package chain

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"
)

// EncodeTokenID packs an off-chain token identifier into a uint256 by
// placing its UTF-8 bytes at the start of a 32 byte big-endian word.
func EncodeTokenID(id string) (*uint256.Int, error) {
	if id == "" {
		return nil, fmt.Errorf("chain: empty token id")
	}
	if len(id) > 32 {
		return nil, fmt.Errorf("chain: token id %q exceeds 32 bytes", id)
	}
	var word [32]byte
	copy(word[:], id)
	return new(uint256.Int).SetBytes32(word[:]), nil
}

// DecodeTokenID reverses EncodeTokenID. A zero value means the on-chain
// token has no off-chain counterpart and reports false.
func DecodeTokenID(value *uint256.Int) (string, bool) {
	if value == nil || value.IsZero() {
		return "", false
	}
	word := value.Bytes32()
	return string(bytes.TrimRight(word[:], "\x00")), true
}
