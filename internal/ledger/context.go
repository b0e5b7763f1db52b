package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/MoneroOcean/ergo/internal/avltree"
	"github.com/MoneroOcean/ergo/internal/crypto"
)

// contextWindow bounds how much recent history a StateContext carries.
const contextWindow = 10

// Parameters are the consensus-adjustable values stateful validation reads.
type Parameters struct {
	MaxBlockCost uint64
	BlockVersion uint8
}

// StateContext is the chain context stateful validation runs against. It is
// replaced, never mutated: each accepted header derives the next context via
// Upcoming. A nil context is never valid; use NewStateContext for genesis.
type StateContext struct {
	Height         uint32
	LastHeaderIDs  []crypto.Hash
	LastStateRoots []avltree.Digest
	Parameters     Parameters
}

// NewStateContext returns the genesis context at height zero.
func NewStateContext(params Parameters) *StateContext {
	return &StateContext{Parameters: params}
}

// Upcoming derives the successor context for a header extending this one.
func (c *StateContext) Upcoming(h *Header) *StateContext {
	next := &StateContext{
		Height:         h.Height,
		LastHeaderIDs:  make([]crypto.Hash, 0, contextWindow),
		LastStateRoots: make([]avltree.Digest, 0, contextWindow),
		Parameters:     c.Parameters,
	}
	next.LastHeaderIDs = append(next.LastHeaderIDs, h.ID())
	for _, id := range c.LastHeaderIDs {
		if len(next.LastHeaderIDs) == contextWindow {
			break
		}
		next.LastHeaderIDs = append(next.LastHeaderIDs, id)
	}
	next.LastStateRoots = append(next.LastStateRoots, h.StateRoot)
	for _, d := range c.LastStateRoots {
		if len(next.LastStateRoots) == contextWindow {
			break
		}
		next.LastStateRoots = append(next.LastStateRoots, d)
	}
	return next
}

func (c *StateContext) Bytes() []byte {
	buf := make([]byte, 0, 4+1+len(c.LastHeaderIDs)*crypto.HashSize+1+len(c.LastStateRoots)*avltree.DigestSize+9)
	buf = binary.LittleEndian.AppendUint32(buf, c.Height)
	buf = append(buf, byte(len(c.LastHeaderIDs)))
	for _, id := range c.LastHeaderIDs {
		buf = append(buf, id[:]...)
	}
	buf = append(buf, byte(len(c.LastStateRoots)))
	for _, d := range c.LastStateRoots {
		buf = append(buf, d[:]...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, c.Parameters.MaxBlockCost)
	buf = append(buf, c.Parameters.BlockVersion)
	return buf
}

func ParseStateContext(data []byte) (*StateContext, error) {
	if len(data) < 4+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedContext, len(data))
	}
	c := &StateContext{Height: binary.LittleEndian.Uint32(data)}
	i := 4
	nIDs := int(data[i])
	i++
	if len(data)-i < nIDs*crypto.HashSize+1 {
		return nil, fmt.Errorf("%w: truncated header ids", ErrMalformedContext)
	}
	for k := 0; k < nIDs; k++ {
		c.LastHeaderIDs = append(c.LastHeaderIDs, crypto.HashFromBytes(data[i:i+crypto.HashSize]))
		i += crypto.HashSize
	}
	nRoots := int(data[i])
	i++
	if len(data)-i != nRoots*avltree.DigestSize+9 {
		return nil, fmt.Errorf("%w: truncated state roots", ErrMalformedContext)
	}
	for k := 0; k < nRoots; k++ {
		d, err := avltree.DigestFromBytes(data[i : i+avltree.DigestSize])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMalformedContext, err)
		}
		c.LastStateRoots = append(c.LastStateRoots, d)
		i += avltree.DigestSize
	}
	c.Parameters.MaxBlockCost = binary.LittleEndian.Uint64(data[i:])
	c.Parameters.BlockVersion = data[i+8]
	return c, nil
}
