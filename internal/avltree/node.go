package avltree

import (
	"encoding/hex"
	"fmt"

	"github.com/MoneroOcean/ergo/internal/crypto"
)

const (
	// DigestSize is the size of a tree digest: the root label followed by
	// one byte of tree height.
	DigestSize = crypto.HashSize + 1

	leafTag     byte = 0x00
	internalTag byte = 0x01

	internalNodeSize = 2 + 3*crypto.HashSize
	minLeafNodeSize  = 1 + 2*crypto.HashSize
)

// Digest identifies the full content and shape of a tree.
type Digest [DigestSize]byte

func (d Digest) Root() crypto.Hash {
	return crypto.HashFromBytes(d[:crypto.HashSize])
}

func (d Digest) Height() int {
	return int(d[crypto.HashSize])
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func DigestFromBytes(b []byte) (Digest, error) {
	if len(b) != DigestSize {
		return Digest{}, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// Node is a single tree node. Leaves hold a key, its value and the key of
// the next leaf in key order; internal nodes hold a routing key, a balance
// factor and two children. Children may be left unresolved as labels and
// are loaded on demand.
type Node struct {
	leaf bool
	stub bool

	// key is the leaf key, or the routing key of an internal node. The
	// routing key equals the smallest leaf key of the right subtree.
	key     crypto.Hash
	value   []byte
	nextKey crypto.Hash

	balance     int8
	left, right *Node
	leftLabel   crypto.Hash
	rightLabel  crypto.Hash

	label    crypto.Hash
	hasLabel bool

	// pending marks nodes created since the last committed batch; they have
	// not been persisted yet. mutable marks nodes created during the batch
	// currently being built; only those may be modified in place.
	pending bool
	mutable bool
	visited bool

	// src points at the committed node this mutable node was cloned from.
	src *Node
}

// Label returns the node's hash label, computing and caching it if needed.
func (n *Node) Label() crypto.Hash {
	if n.hasLabel {
		return n.label
	}
	if n.leaf {
		buf := make([]byte, 0, 1+2*crypto.HashSize+len(n.value))
		buf = append(buf, leafTag)
		buf = append(buf, n.key[:]...)
		buf = append(buf, n.nextKey[:]...)
		buf = append(buf, n.value...)
		n.label = crypto.HashData(buf)
	} else {
		var buf [internalNodeSize]byte
		buf[0] = internalTag
		buf[1] = byte(n.balance)
		copy(buf[2:], n.key[:])
		l := n.childLabel(false)
		r := n.childLabel(true)
		copy(buf[2+crypto.HashSize:], l[:])
		copy(buf[2+2*crypto.HashSize:], r[:])
		n.label = crypto.HashData(buf[:])
	}
	n.hasLabel = true
	return n.label
}

// childLabel returns the label of the requested child, whether it is
// resolved or not.
func (n *Node) childLabel(right bool) crypto.Hash {
	if right {
		if n.right != nil {
			return n.right.Label()
		}
		return n.rightLabel
	}
	if n.left != nil {
		return n.left.Label()
	}
	return n.leftLabel
}

// Bytes serializes the node for persistence. The layout mirrors the label
// preimage so that a stored node can be rehashed and checked against its
// storage key.
func (n *Node) Bytes() []byte {
	if n.leaf {
		buf := make([]byte, 0, 1+2*crypto.HashSize+len(n.value))
		buf = append(buf, leafTag)
		buf = append(buf, n.key[:]...)
		buf = append(buf, n.nextKey[:]...)
		buf = append(buf, n.value...)
		return buf
	}
	buf := make([]byte, internalNodeSize)
	buf[0] = internalTag
	buf[1] = byte(n.balance)
	copy(buf[2:], n.key[:])
	l := n.childLabel(false)
	r := n.childLabel(true)
	copy(buf[2+crypto.HashSize:], l[:])
	copy(buf[2+2*crypto.HashSize:], r[:])
	return buf
}

// ParseNode decodes a persisted node. The label is the storage key the node
// was stored under; children of internal nodes stay unresolved.
func ParseNode(label crypto.Hash, data []byte) (*Node, error) {
	if len(data) == 0 {
		return nil, ErrMalformedNode
	}
	switch data[0] {
	case leafTag:
		if len(data) < minLeafNodeSize {
			return nil, fmt.Errorf("%w: leaf of %d bytes", ErrMalformedNode, len(data))
		}
		n := &Node{
			leaf:     true,
			key:      crypto.HashFromBytes(data[1 : 1+crypto.HashSize]),
			nextKey:  crypto.HashFromBytes(data[1+crypto.HashSize : 1+2*crypto.HashSize]),
			label:    label,
			hasLabel: true,
		}
		if rest := data[minLeafNodeSize:]; len(rest) > 0 {
			n.value = make([]byte, len(rest))
			copy(n.value, rest)
		}
		return n, nil
	case internalTag:
		if len(data) != internalNodeSize {
			return nil, fmt.Errorf("%w: internal node of %d bytes", ErrMalformedNode, len(data))
		}
		bal := int8(data[1])
		if bal < -1 || bal > 1 {
			return nil, fmt.Errorf("%w: balance %d", ErrMalformedNode, bal)
		}
		return &Node{
			balance:    bal,
			key:        crypto.HashFromBytes(data[2 : 2+crypto.HashSize]),
			leftLabel:  crypto.HashFromBytes(data[2+crypto.HashSize : 2+2*crypto.HashSize]),
			rightLabel: crypto.HashFromBytes(data[2+2*crypto.HashSize:]),
			label:      label,
			hasLabel:   true,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %#x", ErrMalformedNode, data[0])
	}
}

// NodeData is a serialized node keyed by its label, ready for persistence.
type NodeData struct {
	Label crypto.Hash
	Bytes []byte
}

// sentinelKey anchors the leaf linked list below every real key and
// sentinelNextKey bounds it from above. Real keys are content hashes, so
// collisions with either bound do not occur in practice.
var (
	sentinelKey     = crypto.Hash{}
	sentinelNextKey = func() crypto.Hash {
		var h crypto.Hash
		for i := range h {
			h[i] = 0xff
		}
		return h
	}()
)

func newSentinel() *Node {
	return &Node{leaf: true, key: sentinelKey, nextKey: sentinelNextKey, pending: true}
}
