package state

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/MoneroOcean/ergo/internal/avltree"
	"github.com/MoneroOcean/ergo/internal/crypto"
	"github.com/MoneroOcean/ergo/internal/storage"
	"github.com/MoneroOcean/ergo/pkg/log"
)

// persistentProver binds an AVL+ tree to a versioned store. Tree nodes are
// content-addressed by label, so cached node bytes never go stale and the
// cache survives rollbacks.
type persistentProver struct {
	store *storage.VersionedStore
	cache *lru.Cache[crypto.Hash, []byte]
	tree  *avltree.Tree
}

func newProver(store *storage.VersionedStore, cacheSize int) (*persistentProver, error) {
	cache, err := lru.New[crypto.Hash, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("node cache: %w", err)
	}
	return &persistentProver{store: store, cache: cache}, nil
}

// open positions the prover at the given digest. The empty digest starts a
// fresh tree with nothing to load.
func (p *persistentProver) open(d avltree.Digest) error {
	if d == avltree.EmptyDigest() {
		p.tree = avltree.New()
		return nil
	}
	tree, err := avltree.NewFromDigest(d, p.loadNode)
	if err != nil {
		return fmt.Errorf("open tree at %s: %w", d, err)
	}
	p.tree = tree
	return nil
}

func (p *persistentProver) loadNode(label crypto.Hash) (*avltree.Node, error) {
	if raw, ok := p.cache.Get(label); ok {
		return avltree.ParseNode(label, raw)
	}
	raw, err := p.store.Get(nodeKey(label))
	if err != nil {
		return nil, fmt.Errorf("load node %s: %w", label, err)
	}
	p.cache.Add(label, raw)
	return avltree.ParseNode(label, raw)
}

// commit persists the staged tree changes together with the version metadata
// in one atomic store update, then finalizes the tree batch. On storage
// failure the in-memory batch is abandoned and the tree stays at the last
// committed state.
func (p *persistentProver) commit(meta *metadataRecord) error {
	inserted, removed := p.tree.StagedChanges()
	toInsert := make([]storage.KV, 0, len(inserted)+5)
	for _, nd := range inserted {
		toInsert = append(toInsert, storage.KV{K: nodeKey(nd.Label), V: nd.Bytes})
	}
	toInsert = append(toInsert, meta.entries()...)
	toRemove := make([][]byte, 0, len(removed))
	for _, label := range removed {
		toRemove = append(toRemove, nodeKey(label))
	}
	if err := p.store.Update(meta.version, toRemove, toInsert); err != nil {
		p.tree.ResetBatch()
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	p.tree.CommitBatch()
	for _, nd := range inserted {
		p.cache.Add(nd.Label, nd.Bytes)
	}
	log.State.Debug().
		Stringer("version", meta.version).
		Str("digest", meta.digest.String()).
		Int("inserted", len(inserted)).
		Int("removed", len(removed)).
		Msg("committed state version")
	return nil
}

// rollback reverts the store to the version committed at the given digest and
// reopens the tree there.
func (p *persistentProver) rollback(version crypto.Hash, d avltree.Digest) error {
	if err := p.store.Rollback(version); err != nil {
		return fmt.Errorf("rollback to %s: %w", version, err)
	}
	if err := p.open(d); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	log.State.Info().
		Stringer("version", version).
		Str("digest", d.String()).
		Msg("rolled back state")
	return nil
}

// retainedVersions lists the version tags still available as rollback
// targets, oldest first.
func (p *persistentProver) retainedVersions() []crypto.Hash {
	return p.store.Versions()
}
