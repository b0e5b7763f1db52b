package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const HashSize = 32

// Hash is a 32-byte blake2b digest. Box identifiers, tree node labels and
// state version tags are all values of this type.
type Hash [HashSize]byte

func HashData(data []byte) Hash {
	return blake2b.Sum256(data)
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashFromBytes copies b into a Hash. Short input is zero-padded, long input
// is truncated; callers are expected to pass exactly HashSize bytes.
func HashFromBytes(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}
