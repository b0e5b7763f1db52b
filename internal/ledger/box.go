// Package ledger holds the UTXO data model: boxes, transactions, blocks and
// the chain context stateful validation runs against. Encodings are
// canonical, so content-derived identifiers are stable.
package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/MoneroOcean/ergo/internal/crypto"
)

// Box is a single unspent output. Boxes are immutable; existence in the
// state tree means unspent.
type Box struct {
	Value          uint64
	CreationHeight uint32
	// Script guards the box. Its evaluation belongs to the transaction
	// validity oracle, not to this package.
	Script []byte
}

// Bytes returns the canonical encoding the box identifier is derived from.
func (b *Box) Bytes() []byte {
	buf := make([]byte, 0, 8+4+2+len(b.Script))
	buf = binary.LittleEndian.AppendUint64(buf, b.Value)
	buf = binary.LittleEndian.AppendUint32(buf, b.CreationHeight)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b.Script)))
	buf = append(buf, b.Script...)
	return buf
}

// ID is the content-derived box identifier.
func (b *Box) ID() crypto.Hash {
	return crypto.HashData(b.Bytes())
}

func ParseBox(data []byte) (*Box, error) {
	if len(data) < 8+4+2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedBox, len(data))
	}
	b := &Box{
		Value:          binary.LittleEndian.Uint64(data),
		CreationHeight: binary.LittleEndian.Uint32(data[8:]),
	}
	slen := int(binary.LittleEndian.Uint16(data[12:]))
	if len(data) != 14+slen {
		return nil, fmt.Errorf("%w: script length %d in %d bytes", ErrMalformedBox, slen, len(data))
	}
	if slen > 0 {
		b.Script = make([]byte, slen)
		copy(b.Script, data[14:])
	}
	return b, nil
}
