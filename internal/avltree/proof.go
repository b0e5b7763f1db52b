package avltree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/MoneroOcean/ergo/internal/crypto"
)

// Proof record tags. A proof is the post-order serialization of the part of
// the pre-batch tree the batch touched; subtrees it did not reach appear as
// label-only stubs.
const (
	proofStubTag     byte = 0x00
	proofLeafTag     byte = 0x01
	proofInternalTag byte = 0x02
)

// GenerateProof serializes the nodes the current batch visited, rooted at
// the last committed state. Together with the starting digest and the
// operation batch it is sufficient to recompute the resulting digest. The
// output is deterministic for a given committed tree and batch.
func (t *Tree) GenerateProof() []byte {
	var buf bytes.Buffer
	t.writeProofNode(&buf, t.oldRoot)
	return buf.Bytes()
}

func (t *Tree) writeProofNode(buf *bytes.Buffer, n *Node) {
	if !n.visited || n.stub {
		writeProofStub(buf, n.Label())
		return
	}
	if n.leaf {
		buf.WriteByte(proofLeafTag)
		buf.Write(n.key[:])
		buf.Write(n.nextKey[:])
		var lenb [4]byte
		binary.LittleEndian.PutUint32(lenb[:], uint32(len(n.value)))
		buf.Write(lenb[:])
		buf.Write(n.value)
		return
	}
	if n.left != nil {
		t.writeProofNode(buf, n.left)
	} else {
		writeProofStub(buf, n.leftLabel)
	}
	if n.right != nil {
		t.writeProofNode(buf, n.right)
	} else {
		writeProofStub(buf, n.rightLabel)
	}
	buf.WriteByte(proofInternalTag)
	buf.WriteByte(byte(n.balance))
	buf.Write(n.key[:])
}

func writeProofStub(buf *bytes.Buffer, label crypto.Hash) {
	buf.WriteByte(proofStubTag)
	buf.Write(label[:])
}

// Verifier replays an operation batch against the partial tree carried by a
// proof, without access to the full tree or its storage.
type Verifier struct {
	tree *Tree
}

// NewVerifier decodes a proof and checks it against the starting digest.
func NewVerifier(prev Digest, proof []byte) (*Verifier, error) {
	root, err := parseProof(proof)
	if err != nil {
		return nil, err
	}
	if root.Label() != prev.Root() {
		return nil, fmt.Errorf("%w: root label does not match starting digest", ErrInvalidProof)
	}
	return &Verifier{tree: &Tree{
		root:       root,
		oldRoot:    root,
		height:     prev.Height(),
		oldHeight:  prev.Height(),
		removedSet: make(map[crypto.Hash]struct{}),
	}}, nil
}

// Perform replays one operation. ErrIncompleteProof means the proof does not
// cover the operation path, so the claimed transition cannot be checked.
func (v *Verifier) Perform(op Operation) error {
	return v.tree.Perform(op)
}

// Lookup resolves a key within the proof's partial tree, proving membership
// or non-membership.
func (v *Verifier) Lookup(key crypto.Hash) ([]byte, error) {
	return v.tree.Lookup(key)
}

func (v *Verifier) Digest() Digest {
	return v.tree.Digest()
}

// Verify checks that applying ops to the state committed to by prev yields
// next, using only the proof.
func Verify(prev, next Digest, proof []byte, ops []Operation) error {
	v, err := NewVerifier(prev, proof)
	if err != nil {
		return err
	}
	for i, op := range ops {
		if err := v.Perform(op); err != nil {
			return fmt.Errorf("replay operation %d: %w", i, err)
		}
	}
	if got := v.Digest(); got != next {
		return fmt.Errorf("%w: replayed %s, claimed %s", ErrDigestMismatch, got, next)
	}
	return nil
}

func parseProof(data []byte) (*Node, error) {
	var stack []*Node
	i := 0
	for i < len(data) {
		switch data[i] {
		case proofStubTag:
			if len(data)-i < 1+crypto.HashSize {
				return nil, fmt.Errorf("%w: truncated stub", ErrInvalidProof)
			}
			stack = append(stack, &Node{
				stub:     true,
				label:    crypto.HashFromBytes(data[i+1 : i+1+crypto.HashSize]),
				hasLabel: true,
			})
			i += 1 + crypto.HashSize
		case proofLeafTag:
			if len(data)-i < 1+2*crypto.HashSize+4 {
				return nil, fmt.Errorf("%w: truncated leaf", ErrInvalidProof)
			}
			key := crypto.HashFromBytes(data[i+1 : i+1+crypto.HashSize])
			next := crypto.HashFromBytes(data[i+1+crypto.HashSize : i+1+2*crypto.HashSize])
			i += 1 + 2*crypto.HashSize
			vlen := int(binary.LittleEndian.Uint32(data[i : i+4]))
			i += 4
			if len(data)-i < vlen {
				return nil, fmt.Errorf("%w: truncated leaf value", ErrInvalidProof)
			}
			value := make([]byte, vlen)
			copy(value, data[i:i+vlen])
			i += vlen
			stack = append(stack, &Node{leaf: true, key: key, nextKey: next, value: value})
		case proofInternalTag:
			if len(data)-i < 2+crypto.HashSize {
				return nil, fmt.Errorf("%w: truncated internal node", ErrInvalidProof)
			}
			bal := int8(data[i+1])
			if bal < -1 || bal > 1 {
				return nil, fmt.Errorf("%w: balance %d", ErrInvalidProof, bal)
			}
			if len(stack) < 2 {
				return nil, fmt.Errorf("%w: dangling internal node", ErrInvalidProof)
			}
			right := stack[len(stack)-1]
			left := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			stack = append(stack, &Node{
				key:     crypto.HashFromBytes(data[i+2 : i+2+crypto.HashSize]),
				balance: bal,
				left:    left,
				right:   right,
			})
			i += 2 + crypto.HashSize
		default:
			return nil, fmt.Errorf("%w: unknown record tag %#x", ErrInvalidProof, data[i])
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: %d roots", ErrInvalidProof, len(stack))
	}
	return stack[0], nil
}
