package ledger

import (
	"encoding/binary"

	"github.com/MoneroOcean/ergo/internal/avltree"
	"github.com/MoneroOcean/ergo/internal/crypto"
)

// Header declares the state transition a block performs. StateRoot is the
// tree digest after the block applies; ProofsRoot is the hash of the
// operation proof for that transition.
type Header struct {
	Height     uint32
	ParentID   crypto.Hash
	StateRoot  avltree.Digest
	ProofsRoot crypto.Hash
	Timestamp  uint64
}

func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, 4+crypto.HashSize+avltree.DigestSize+crypto.HashSize+8)
	buf = binary.LittleEndian.AppendUint32(buf, h.Height)
	buf = append(buf, h.ParentID[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.ProofsRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	return buf
}

// ID is the content-derived header identifier, used as the state version
// tag for the block.
func (h *Header) ID() crypto.Hash {
	return crypto.HashData(h.Bytes())
}

// Block carries the transactions realizing the header's declared
// transition. Proof, when present, is the operation proof received with the
// block; when absent the state engine generates and distributes one.
type Block struct {
	Header       Header
	Transactions []*Transaction
	Proof        []byte
}
