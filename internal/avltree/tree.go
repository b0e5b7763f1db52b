// Package avltree implements an authenticated AVL+ search tree over 32-byte
// keys. All data lives in leaves, which form an ordered linked list; internal
// nodes route by key and carry an AVL balance factor. Every node has a hash
// label, and the tree digest (root label plus height) commits to the full
// content and shape.
//
// Mutations are copy-on-write: nodes belonging to the last committed batch
// are never modified, so an in-flight batch can be abandoned with ResetBatch
// and the nodes touched by a batch can be serialized into a proof that lets
// a verifier replay the batch from the previous digest alone.
package avltree

import (
	"bytes"
	"fmt"

	"github.com/MoneroOcean/ergo/internal/crypto"
)

// NodeLoader resolves a persisted node by its label. Trees built over a
// store use one to load children on demand.
type NodeLoader func(label crypto.Hash) (*Node, error)

type Tree struct {
	root      *Node
	oldRoot   *Node
	height    int
	oldHeight int
	loader    NodeLoader

	// Per-batch bookkeeping, reset by CommitBatch and ResetBatch.
	batchNodes   []*Node
	visitedNodes []*Node
	removed      []crypto.Hash
	removedSet   map[crypto.Hash]struct{}
}

// New returns an empty in-memory tree holding only the sentinel leaf.
func New() *Tree {
	s := newSentinel()
	return &Tree{
		root:       s,
		oldRoot:    s,
		removedSet: make(map[crypto.Hash]struct{}),
	}
}

// NewFromDigest opens a tree at a previously committed digest, resolving
// nodes through the loader as they are needed.
func NewFromDigest(d Digest, loader NodeLoader) (*Tree, error) {
	root, err := loader(d.Root())
	if err != nil {
		return nil, fmt.Errorf("load root %s: %w", d, err)
	}
	return &Tree{
		root:       root,
		oldRoot:    root,
		height:     d.Height(),
		oldHeight:  d.Height(),
		loader:     loader,
		removedSet: make(map[crypto.Hash]struct{}),
	}, nil
}

// EmptyDigest is the digest of a tree with no entries.
func EmptyDigest() Digest {
	return New().Digest()
}

// Digest returns the current root digest. Labels are cached, so repeated
// calls without intervening mutations are cheap.
func (t *Tree) Digest() Digest {
	var d Digest
	l := t.root.Label()
	copy(d[:], l[:])
	// Height fits one byte: a balanced tree over 32-byte keys stays far
	// below 255 levels.
	d[crypto.HashSize] = byte(t.height)
	return d
}

func (t *Tree) Height() int {
	return t.height
}

// Perform applies one operation. On error the logical tree state is
// unchanged, but batch bookkeeping may already reference partial work: the
// caller must either continue the batch or call ResetBatch, never commit.
func (t *Tree) Perform(op Operation) error {
	switch op.Kind {
	case OpInsert:
		root, grew, err := t.insert(t.root, op.Key, op.Value)
		if err != nil {
			return err
		}
		t.root = root
		if grew {
			t.height++
		}
	case OpUpdate:
		root, err := t.update(t.root, op.Key, op.Value)
		if err != nil {
			return err
		}
		t.root = root
	case OpRemove:
		root, shrunk, err := t.remove(t.root, op.Key)
		if err != nil {
			return err
		}
		t.root = root
		if shrunk {
			t.height--
		}
	default:
		return fmt.Errorf("unknown operation kind %d", op.Kind)
	}
	return nil
}

// Lookup returns a copy of the value stored under key. The traversed path is
// recorded, so a proof generated afterwards also covers this lookup,
// including non-membership.
func (t *Tree) Lookup(key crypto.Hash) ([]byte, error) {
	n := t.root
	for {
		if n.stub {
			return nil, ErrIncompleteProof
		}
		t.touch(n)
		if n.leaf {
			if n.key == key {
				v := make([]byte, len(n.value))
				copy(v, n.value)
				return v, nil
			}
			return nil, fmt.Errorf("lookup %s: %w", key, ErrKeyNotFound)
		}
		c, err := t.resolve(n, bytes.Compare(key[:], n.key[:]) >= 0)
		if err != nil {
			return nil, err
		}
		n = c
	}
}

// StagedChanges returns the nodes the current batch created, serialized and
// in deterministic order, and the labels of committed nodes it replaced or
// deleted. It does not advance the batch; call CommitBatch once the changes
// are durable, or ResetBatch to abandon them.
func (t *Tree) StagedChanges() ([]NodeData, []crypto.Hash) {
	var inserted []NodeData
	t.collectPending(t.root, &inserted)
	removed := make([]crypto.Hash, len(t.removed))
	copy(removed, t.removed)
	return inserted, removed
}

func (t *Tree) collectPending(n *Node, out *[]NodeData) {
	if n == nil || !n.pending {
		return
	}
	if !n.leaf {
		t.collectPending(n.left, out)
		t.collectPending(n.right, out)
	}
	*out = append(*out, NodeData{Label: n.Label(), Bytes: n.Bytes()})
}

// CommitBatch finalizes the current batch: the present state becomes the new
// base for proofs and for ResetBatch.
func (t *Tree) CommitBatch() {
	t.clearPending(t.root)
	t.resetBookkeeping()
	t.oldRoot = t.root
	t.oldHeight = t.height
}

// ResetBatch discards the current batch and restores the last committed
// state. Nodes created by the batch become unreachable.
func (t *Tree) ResetBatch() {
	t.root = t.oldRoot
	t.height = t.oldHeight
	t.resetBookkeeping()
}

func (t *Tree) clearPending(n *Node) {
	if n == nil || !n.pending {
		return
	}
	if !n.leaf {
		t.clearPending(n.left)
		t.clearPending(n.right)
	}
	n.Label()
	n.pending = false
}

func (t *Tree) resetBookkeeping() {
	for _, n := range t.visitedNodes {
		n.visited = false
	}
	t.visitedNodes = t.visitedNodes[:0]
	for _, n := range t.batchNodes {
		n.mutable = false
		n.src = nil
	}
	t.batchNodes = t.batchNodes[:0]
	t.removed = t.removed[:0]
	t.removedSet = make(map[crypto.Hash]struct{})
}

// touch records that a committed node was reached by the current batch.
func (t *Tree) touch(n *Node) {
	if n.mutable || n.visited {
		return
	}
	n.visited = true
	t.visitedNodes = append(t.visitedNodes, n)
}

// markRemoved records that a persisted node is no longer part of the tree.
func (t *Tree) markRemoved(n *Node) {
	if n.pending || n.mutable {
		return
	}
	lbl := n.Label()
	if _, ok := t.removedSet[lbl]; ok {
		return
	}
	t.removedSet[lbl] = struct{}{}
	t.removed = append(t.removed, lbl)
}

func (t *Tree) newNode(n *Node) *Node {
	n.pending = true
	n.mutable = true
	t.batchNodes = append(t.batchNodes, n)
	return n
}

// clone returns a node that may be modified in place. Committed nodes are
// copied and recorded as replaced; nodes created by this batch are returned
// as-is.
func (t *Tree) clone(n *Node) *Node {
	if n.mutable {
		return n
	}
	t.touch(n)
	t.markRemoved(n)
	c := &Node{
		leaf:       n.leaf,
		key:        n.key,
		value:      n.value,
		nextKey:    n.nextKey,
		balance:    n.balance,
		left:       n.left,
		right:      n.right,
		leftLabel:  n.leftLabel,
		rightLabel: n.rightLabel,
		src:        n,
	}
	return t.newNode(c)
}

// resolve returns the requested child, loading it from storage if only its
// label is known. Loaded children are attached to the committed original as
// well, keeping the pre-batch tree navigable for proof generation.
func (t *Tree) resolve(n *Node, right bool) (*Node, error) {
	c, lbl := n.left, n.leftLabel
	if right {
		c, lbl = n.right, n.rightLabel
	}
	if c != nil {
		if c.stub {
			return nil, ErrIncompleteProof
		}
		return c, nil
	}
	if t.loader == nil {
		return nil, ErrIncompleteProof
	}
	loaded, err := t.loader(lbl)
	if err != nil {
		return nil, fmt.Errorf("load node %s: %w", lbl, err)
	}
	if right {
		n.right = loaded
	} else {
		n.left = loaded
	}
	if s := n.src; s != nil {
		if right && s.right == nil {
			s.right = loaded
		} else if !right && s.left == nil {
			s.left = loaded
		}
	}
	t.touch(loaded)
	return loaded, nil
}

func (t *Tree) setChild(m *Node, right bool, c *Node) {
	if right {
		m.right = c
		m.rightLabel = crypto.Hash{}
	} else {
		m.left = c
		m.leftLabel = crypto.Hash{}
	}
	m.hasLabel = false
}

// moveChild transfers a child slot, resolved or not, from src to dst.
func (t *Tree) moveChild(dst *Node, dstRight bool, src *Node, srcRight bool) {
	p, lbl := src.left, src.leftLabel
	if srcRight {
		p, lbl = src.right, src.rightLabel
	}
	if dstRight {
		dst.right, dst.rightLabel = p, lbl
	} else {
		dst.left, dst.leftLabel = p, lbl
	}
	dst.hasLabel = false
}

func (t *Tree) insert(n *Node, key crypto.Hash, value []byte) (*Node, bool, error) {
	if n.stub {
		return nil, false, ErrIncompleteProof
	}
	t.touch(n)
	if n.leaf {
		if n.key == key {
			return nil, false, fmt.Errorf("insert %s: %w", key, ErrKeyExists)
		}
		// The search invariant makes n the in-order predecessor of key, so
		// the new leaf is spliced into the linked list right after it.
		leafNode := t.newNode(&Node{leaf: true, key: key, value: value, nextKey: n.nextKey})
		pred := t.clone(n)
		pred.nextKey = key
		pred.hasLabel = false
		branch := t.newNode(&Node{key: key, left: pred, right: leafNode})
		return branch, true, nil
	}
	goRight := bytes.Compare(key[:], n.key[:]) >= 0
	child, err := t.resolve(n, goRight)
	if err != nil {
		return nil, false, err
	}
	nc, grew, err := t.insert(child, key, value)
	if err != nil {
		return nil, false, err
	}
	m := t.clone(n)
	t.setChild(m, goRight, nc)
	if !grew {
		return m, false, nil
	}
	if goRight {
		m.balance++
	} else {
		m.balance--
	}
	switch m.balance {
	case 0:
		return m, false, nil
	case -1, 1:
		return m, true, nil
	}
	// An insert rotation always restores the pre-insert subtree height.
	r, _, err := t.rebalance(m)
	return r, false, err
}

func (t *Tree) update(n *Node, key crypto.Hash, value []byte) (*Node, error) {
	if n.stub {
		return nil, ErrIncompleteProof
	}
	t.touch(n)
	if n.leaf {
		if n.key != key {
			return nil, fmt.Errorf("update %s: %w", key, ErrKeyNotFound)
		}
		c := t.clone(n)
		c.value = value
		c.hasLabel = false
		return c, nil
	}
	child, err := t.resolve(n, bytes.Compare(key[:], n.key[:]) >= 0)
	if err != nil {
		return nil, err
	}
	nc, err := t.update(child, key, value)
	if err != nil {
		return nil, err
	}
	m := t.clone(n)
	t.setChild(m, bytes.Compare(key[:], n.key[:]) >= 0, nc)
	return m, nil
}

func (t *Tree) remove(n *Node, key crypto.Hash) (*Node, bool, error) {
	if n.stub {
		return nil, false, ErrIncompleteProof
	}
	t.touch(n)
	if n.leaf {
		return nil, false, fmt.Errorf("remove %s: %w", key, ErrKeyNotFound)
	}
	cmp := bytes.Compare(key[:], n.key[:])
	if cmp == 0 {
		// n is the branch created when key was inserted: the leaf holding
		// key is the leftmost leaf of its right subtree, and the leaf's
		// in-order predecessor is the rightmost leaf of its left subtree.
		lchild, err := t.resolve(n, false)
		if err != nil {
			return nil, false, err
		}
		rchild, err := t.resolve(n, true)
		if err != nil {
			return nil, false, err
		}
		if rchild.leaf {
			if rchild.key != key {
				return nil, false, fmt.Errorf("remove %s: %w", key, ErrKeyNotFound)
			}
			t.touch(rchild)
			t.markRemoved(rchild)
			t.markRemoved(n)
			nl, err := t.relinkRightmost(lchild, rchild.nextKey)
			if err != nil {
				return nil, false, err
			}
			return nl, true, nil
		}
		newRight, shrunk, deleted, err := t.removeLeftmost(rchild, key)
		if err != nil {
			return nil, false, err
		}
		newLeft, err := t.relinkRightmost(lchild, deleted.nextKey)
		if err != nil {
			return nil, false, err
		}
		m := t.clone(n)
		// The deleted leaf's successor is the new leftmost leaf of the right
		// subtree, so it becomes the routing key here.
		m.key = deleted.nextKey
		t.setChild(m, false, newLeft)
		t.setChild(m, true, newRight)
		if !shrunk {
			return m, false, nil
		}
		return t.shrink(m, true)
	}
	goRight := cmp > 0
	child, err := t.resolve(n, goRight)
	if err != nil {
		return nil, false, err
	}
	nc, shrunk, err := t.remove(child, key)
	if err != nil {
		return nil, false, err
	}
	m := t.clone(n)
	t.setChild(m, goRight, nc)
	if !shrunk {
		return m, false, nil
	}
	return t.shrink(m, goRight)
}

// removeLeftmost deletes the leftmost leaf of the subtree rooted at the
// internal node n. That leaf must hold key.
func (t *Tree) removeLeftmost(n *Node, key crypto.Hash) (*Node, bool, *Node, error) {
	t.touch(n)
	lc, err := t.resolve(n, false)
	if err != nil {
		return nil, false, nil, err
	}
	if lc.leaf {
		if lc.key != key {
			return nil, false, nil, fmt.Errorf("remove %s: %w", key, ErrKeyNotFound)
		}
		t.touch(lc)
		t.markRemoved(lc)
		t.markRemoved(n)
		// n collapses into its right child, shrinking the subtree by one.
		// The child must appear in the proof: a verifier replaying this
		// remove resolves it before relinking.
		rc, err := t.resolve(n, true)
		if err != nil {
			return nil, false, nil, err
		}
		t.touch(rc)
		return rc, true, lc, nil
	}
	nl, shrunk, deleted, err := t.removeLeftmost(lc, key)
	if err != nil {
		return nil, false, nil, err
	}
	m := t.clone(n)
	t.setChild(m, false, nl)
	if !shrunk {
		return m, false, deleted, nil
	}
	r, dec, err := t.shrink(m, false)
	return r, dec, deleted, err
}

// relinkRightmost rewrites the nextKey of the rightmost leaf in the subtree.
func (t *Tree) relinkRightmost(n *Node, next crypto.Hash) (*Node, error) {
	if n.stub {
		return nil, ErrIncompleteProof
	}
	t.touch(n)
	if n.leaf {
		c := t.clone(n)
		c.nextKey = next
		c.hasLabel = false
		return c, nil
	}
	rc, err := t.resolve(n, true)
	if err != nil {
		return nil, err
	}
	nr, err := t.relinkRightmost(rc, next)
	if err != nil {
		return nil, err
	}
	m := t.clone(n)
	t.setChild(m, true, nr)
	return m, nil
}

// shrink adjusts the balance of m after the given side lost one level of
// height, rotating if needed. The second result reports whether the height
// of the subtree rooted here decreased.
func (t *Tree) shrink(m *Node, right bool) (*Node, bool, error) {
	if right {
		m.balance--
	} else {
		m.balance++
	}
	m.hasLabel = false
	switch m.balance {
	case 0:
		return m, true, nil
	case -1, 1:
		return m, false, nil
	}
	return t.rebalance(m)
}

// rebalance restores the AVL invariant at a mutable node whose balance is
// +2 or -2. The second result reports whether the rotation reduced the
// nominal subtree height.
func (t *Tree) rebalance(m *Node) (*Node, bool, error) {
	if m.balance > 0 {
		r, err := t.resolve(m, true)
		if err != nil {
			return nil, false, err
		}
		if r.balance >= 0 {
			rc := t.clone(r)
			t.moveChild(m, true, rc, false)
			reduced := rc.balance != 0
			if rc.balance == 0 {
				m.balance = 1
				rc.balance = -1
			} else {
				m.balance = 0
				rc.balance = 0
			}
			t.setChild(rc, false, m)
			return rc, reduced, nil
		}
		rl, err := t.resolve(r, false)
		if err != nil {
			return nil, false, err
		}
		rc := t.clone(r)
		rlc := t.clone(rl)
		t.moveChild(m, true, rlc, false)
		t.moveChild(rc, false, rlc, true)
		switch rlc.balance {
		case 1:
			m.balance = -1
			rc.balance = 0
		case -1:
			m.balance = 0
			rc.balance = 1
		default:
			m.balance = 0
			rc.balance = 0
		}
		rlc.balance = 0
		t.setChild(rlc, false, m)
		t.setChild(rlc, true, rc)
		return rlc, true, nil
	}

	l, err := t.resolve(m, false)
	if err != nil {
		return nil, false, err
	}
	if l.balance <= 0 {
		lc := t.clone(l)
		t.moveChild(m, false, lc, true)
		reduced := lc.balance != 0
		if lc.balance == 0 {
			m.balance = -1
			lc.balance = 1
		} else {
			m.balance = 0
			lc.balance = 0
		}
		t.setChild(lc, true, m)
		return lc, reduced, nil
	}
	lr, err := t.resolve(l, true)
	if err != nil {
		return nil, false, err
	}
	lc := t.clone(l)
	lrc := t.clone(lr)
	t.moveChild(m, false, lrc, true)
	t.moveChild(lc, true, lrc, false)
	switch lrc.balance {
	case -1:
		m.balance = 1
		lc.balance = 0
	case 1:
		m.balance = 0
		lc.balance = -1
	default:
		m.balance = 0
		lc.balance = 0
	}
	lrc.balance = 0
	t.setChild(lrc, true, m)
	t.setChild(lrc, false, lc)
	return lrc, true, nil
}
