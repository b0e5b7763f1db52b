package testutils

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MoneroOcean/ergo/internal/crypto"
	"github.com/MoneroOcean/ergo/internal/ledger"
)

func RandomHash(t *testing.T) crypto.Hash {
	t.Helper()
	buf := make([]byte, crypto.HashSize)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return crypto.HashFromBytes(buf)
}

func RandomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

// DeterministicHash derives a stable key from a seed, so tests can name tree
// keys without fixture files.
func DeterministicHash(seed uint64) crypto.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	return crypto.HashData(buf[:])
}

// NewBox builds a box with a seed-derived script, giving each seed a
// distinct stable box ID.
func NewBox(value uint64, height uint32, seed uint64) *ledger.Box {
	var script [8]byte
	binary.LittleEndian.PutUint64(script[:], seed)
	return &ledger.Box{Value: value, CreationHeight: height, Script: script[:]}
}
