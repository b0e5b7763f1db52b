package state

import (
	"github.com/MoneroOcean/ergo/internal/avltree"
	"github.com/MoneroOcean/ergo/internal/crypto"
	"github.com/MoneroOcean/ergo/internal/ledger"
	"github.com/MoneroOcean/ergo/internal/storage"
)

// Key prefixes used inside the versioned store. Tree nodes are
// content-addressed by label; the remaining records are fixed metadata
// slots that ride in the same atomic batch as the nodes and are reverted
// together with them on rollback.
const (
	prefixTreeNode    byte = 0x10
	prefixVersionRoot byte = 0x11
	prefixRootVersion byte = 0x12
	prefixMeta        byte = 0x13
)

var (
	bestVersionKey = crypto.HashData([]byte("best state version"))
	emissionBoxKey = crypto.HashData([]byte("emission box id"))
	contextKey     = crypto.HashData([]byte("state context"))

	// GenesisVersion tags the state committed by bootstrap, before any
	// block has been applied.
	GenesisVersion = crypto.HashData([]byte("genesis state version"))
)

func makeKey(prefix byte, h crypto.Hash) []byte {
	key := make([]byte, 1+crypto.HashSize)
	key[0] = prefix
	copy(key[1:], h[:])
	return key
}

func nodeKey(label crypto.Hash) []byte {
	return makeKey(prefixTreeNode, label)
}

func versionRootKey(version crypto.Hash) []byte {
	return makeKey(prefixVersionRoot, version)
}

func rootVersionKey(root crypto.Hash) []byte {
	return makeKey(prefixRootVersion, root)
}

func metaKey(slot crypto.Hash) []byte {
	return makeKey(prefixMeta, slot)
}

// metadataRecord captures everything a committed version needs besides the
// tree nodes themselves.
type metadataRecord struct {
	version  crypto.Hash
	digest   avltree.Digest
	ctx      *ledger.StateContext
	emission crypto.Hash
}

// entries lays the record out as versioned-store writes: the forward index
// version -> digest, the reverse index root label -> version, the best
// version pointer and the two metadata slots.
func (m *metadataRecord) entries() []storage.KV {
	return []storage.KV{
		{K: versionRootKey(m.version), V: append([]byte(nil), m.digest[:]...)},
		{K: rootVersionKey(m.digest.Root()), V: append([]byte(nil), m.version[:]...)},
		{K: metaKey(bestVersionKey), V: append([]byte(nil), m.version[:]...)},
		{K: metaKey(emissionBoxKey), V: append([]byte(nil), m.emission[:]...)},
		{K: metaKey(contextKey), V: m.ctx.Bytes()},
	}
}
