// Package state implements the authenticated, versioned UTXO state: an AVL+
// tree of unspent boxes persisted through a versioned store, advanced block
// by block and rewindable within a bounded window.
//
// UtxoState values are immutable views. Applying a block or rolling back
// returns a new view and supersedes the old one. Superseded views can no
// longer mutate, and their reads hold only until a later commit prunes the
// tree nodes they reference.
package state

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MoneroOcean/ergo/internal/avltree"
	"github.com/MoneroOcean/ergo/internal/crypto"
	"github.com/MoneroOcean/ergo/internal/ledger"
	"github.com/MoneroOcean/ergo/internal/storage"
	"github.com/MoneroOcean/ergo/pkg/db"
	"github.com/MoneroOcean/ergo/pkg/log"
)

const (
	// DefaultKeepVersions is how many committed versions stay available as
	// rollback targets.
	DefaultKeepVersions = 10
	// DefaultMaxBlockCost caps the summed transaction cost per block.
	DefaultMaxBlockCost uint64 = 1_000_000
	// DefaultNodeCacheSize is the tree node cache capacity, in nodes.
	DefaultNodeCacheSize = 4096
)

// ProofSink receives the operation proof generated for a block that arrived
// without one, keyed by the block's version tag.
type ProofSink interface {
	EmitProof(version crypto.Hash, proof []byte) error
}

// Options configure an opened state. Zero values fall back to defaults; a
// nil Validator falls back to ledger.NewValidator.
type Options struct {
	KeepVersions  int
	MaxBlockCost  uint64
	NodeCacheSize int
	Validator     ledger.Validator
	ProofSink     ProofSink
}

func (o Options) normalized() Options {
	if o.KeepVersions <= 0 {
		o.KeepVersions = DefaultKeepVersions
	}
	if o.MaxBlockCost == 0 {
		o.MaxBlockCost = DefaultMaxBlockCost
	}
	if o.NodeCacheSize <= 0 {
		o.NodeCacheSize = DefaultNodeCacheSize
	}
	if o.Validator == nil {
		o.Validator = ledger.NewValidator()
	}
	return o
}

// shared is the single mutable core behind all views of one state. The
// mutex serializes mutations and store-backed reads; current names the one
// view allowed to mutate.
type shared struct {
	mu      sync.Mutex
	store   *storage.VersionedStore
	prover  *persistentProver
	opts    Options
	current crypto.Hash
}

// UtxoState is an immutable view of the state at one committed version.
type UtxoState struct {
	s        *shared
	version  crypto.Hash
	digest   avltree.Digest
	ctx      *ledger.StateContext
	emission crypto.Hash
}

// OpenExisting opens the state persisted in kv, resuming from the best
// version pointer. A fresh store is initialized with an empty genesis state.
func OpenExisting(kv db.KVStore, opts Options) (*UtxoState, error) {
	opts = opts.normalized()
	store, err := storage.Open(kv, opts.KeepVersions)
	if err != nil {
		return nil, fmt.Errorf("open versioned store: %w", err)
	}
	prover, err := newProver(store, opts.NodeCacheSize)
	if err != nil {
		return nil, err
	}
	s := &shared{store: store, prover: prover, opts: opts}

	best, err := store.Get(metaKey(bestVersionKey))
	if errors.Is(err, storage.ErrNotFound) {
		ctx := ledger.NewStateContext(ledger.Parameters{MaxBlockCost: opts.MaxBlockCost})
		return commitGenesis(s, ctx, crypto.Hash{})
	}
	if err != nil {
		return nil, fmt.Errorf("read best version: %w", err)
	}

	version := crypto.HashFromBytes(best)
	view, err := loadView(s, version)
	if err != nil {
		return nil, err
	}
	if err := prover.open(view.digest); err != nil {
		return nil, err
	}
	s.current = version
	log.State.Info().
		Stringer("version", version).
		Str("digest", view.digest.String()).
		Uint32("height", view.ctx.Height).
		Msg("resumed state")
	return view, nil
}

// BootstrapFromSnapshot initializes a fresh store with the given box set,
// inserted in the given order, and records emissionID as the emission box.
// The emission box must be part of the snapshot; a zero emissionID means no
// emission box is tracked.
func BootstrapFromSnapshot(kv db.KVStore, boxes []*ledger.Box, emissionID crypto.Hash, opts Options) (*UtxoState, error) {
	opts = opts.normalized()
	store, err := storage.Open(kv, opts.KeepVersions)
	if err != nil {
		return nil, fmt.Errorf("open versioned store: %w", err)
	}
	if _, err := store.Get(metaKey(bestVersionKey)); err == nil {
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read best version: %w", err)
	}
	prover, err := newProver(store, opts.NodeCacheSize)
	if err != nil {
		return nil, err
	}
	s := &shared{store: store, prover: prover, opts: opts}
	if err := prover.open(avltree.EmptyDigest()); err != nil {
		return nil, err
	}
	for i, box := range boxes {
		if err := prover.tree.Perform(avltree.Insert(box.ID(), box.Bytes())); err != nil {
			prover.tree.ResetBatch()
			return nil, fmt.Errorf("%w: snapshot box %d: %v", ErrTreeOperation, i, err)
		}
	}
	if !emissionID.IsZero() {
		if _, err := prover.tree.Lookup(emissionID); err != nil {
			prover.tree.ResetBatch()
			return nil, fmt.Errorf("%w: emission box %s not in snapshot", ErrBoxNotFound, emissionID)
		}
	}
	ctx := ledger.NewStateContext(ledger.Parameters{MaxBlockCost: opts.MaxBlockCost})
	view, err := commitGenesis(s, ctx, emissionID)
	if err != nil {
		return nil, err
	}
	log.State.Info().
		Int("boxes", len(boxes)).
		Str("digest", view.digest.String()).
		Msg("bootstrapped state from snapshot")
	return view, nil
}

func commitGenesis(s *shared, ctx *ledger.StateContext, emission crypto.Hash) (*UtxoState, error) {
	if s.prover.tree == nil {
		if err := s.prover.open(avltree.EmptyDigest()); err != nil {
			return nil, err
		}
	}
	meta := &metadataRecord{
		version:  GenesisVersion,
		digest:   s.prover.tree.Digest(),
		ctx:      ctx,
		emission: emission,
	}
	if err := s.prover.commit(meta); err != nil {
		return nil, err
	}
	s.current = GenesisVersion
	return &UtxoState{s: s, version: GenesisVersion, digest: meta.digest, ctx: ctx, emission: emission}, nil
}

// loadView reconstructs the view metadata committed under version from the
// store's current contents.
func loadView(s *shared, version crypto.Hash) (*UtxoState, error) {
	rootBytes, err := s.store.Get(versionRootKey(version))
	if err != nil {
		return nil, fmt.Errorf("%w: no root for version %s", ErrStateCorrupted, version)
	}
	digest, err := avltree.DigestFromBytes(rootBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	ctxBytes, err := s.store.Get(metaKey(contextKey))
	if err != nil {
		return nil, fmt.Errorf("%w: no state context", ErrStateCorrupted)
	}
	ctx, err := ledger.ParseStateContext(ctxBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	emBytes, err := s.store.Get(metaKey(emissionBoxKey))
	if err != nil {
		return nil, fmt.Errorf("%w: no emission box record", ErrStateCorrupted)
	}
	return &UtxoState{
		s:        s,
		version:  version,
		digest:   digest,
		ctx:      ctx,
		emission: crypto.HashFromBytes(emBytes),
	}, nil
}

func (u *UtxoState) Version() crypto.Hash { return u.version }

func (u *UtxoState) Digest() avltree.Digest { return u.digest }

func (u *UtxoState) EmissionBoxID() crypto.Hash { return u.emission }

// Context returns the chain context of this view. Callers must not mutate
// it; derive successors with Upcoming.
func (u *UtxoState) Context() *ledger.StateContext { return u.ctx }

// SerializedContext returns the canonical encoding of the view's context,
// as persisted alongside the version.
func (u *UtxoState) SerializedContext() []byte {
	return u.ctx.Bytes()
}

// ApplyBlock validates the block against this view, applies it and commits
// the resulting state as a new version tagged with the header ID. On any
// failure the state is unchanged and the view stays valid. If the block
// carries no proof, the generated one is handed to the proof sink.
func (u *UtxoState) ApplyBlock(block *ledger.Block) (*UtxoState, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.version != s.current {
		return nil, ErrStaleView
	}

	ops, emission, err := u.validateBlock(block)
	if err != nil {
		return nil, err
	}

	tree := s.prover.tree
	for i, op := range ops {
		if err := tree.Perform(op); err != nil {
			opErr := fmt.Errorf("%w: operation %d: %v", ErrTreeOperation, i, err)
			if rerr := s.revert(u.digest); rerr != nil {
				return nil, rerr
			}
			return nil, opErr
		}
	}

	digest := tree.Digest()
	if digest != block.Header.StateRoot {
		mismatch := fmt.Errorf("%w: computed %s, declared %s",
			ErrDigestMismatch, digest, block.Header.StateRoot)
		if rerr := s.revert(u.digest); rerr != nil {
			return nil, rerr
		}
		return nil, mismatch
	}

	proof := tree.GenerateProof()
	if crypto.HashData(proof) != block.Header.ProofsRoot {
		mismatch := fmt.Errorf("%w: proof hash does not match declared proofs root", ErrProofMismatch)
		if rerr := s.revert(u.digest); rerr != nil {
			return nil, rerr
		}
		return nil, mismatch
	}

	version := block.Header.ID()
	ctx := u.ctx.Upcoming(&block.Header)
	meta := &metadataRecord{version: version, digest: digest, ctx: ctx, emission: emission}
	if err := s.prover.commit(meta); err != nil {
		return nil, err
	}
	s.current = version

	if len(block.Proof) == 0 {
		s.emitProof(version, proof)
	}
	log.State.Info().
		Uint32("height", block.Header.Height).
		Stringer("version", version).
		Str("digest", digest.String()).
		Int("txs", len(block.Transactions)).
		Msg("applied block")
	return &UtxoState{s: s, version: version, digest: digest, ctx: ctx, emission: emission}, nil
}

// validateBlock runs stateless and stateful checks over the block's
// transactions and assembles the tree operation batch. Input lookups go
// through a separate read-only tree so the prover's proof covers exactly
// the applied operations.
func (u *UtxoState) validateBlock(block *ledger.Block) ([]avltree.Operation, crypto.Hash, error) {
	reader, err := u.s.readerTree(u.digest)
	if err != nil {
		return nil, crypto.Hash{}, err
	}

	created := make(map[crypto.Hash]*ledger.Box)
	spent := make(map[crypto.Hash]struct{})
	emission := u.emission
	var totalCost uint64
	var ops []avltree.Operation

	for ti, tx := range block.Transactions {
		if err := tx.StatelessCheck(); err != nil {
			return nil, crypto.Hash{}, fmt.Errorf("%w: transaction %d: %v", ErrInvalidTransaction, ti, err)
		}
		inputs := make([]*ledger.Box, 0, len(tx.Inputs))
		for _, id := range tx.Inputs {
			if _, gone := spent[id]; gone {
				return nil, crypto.Hash{}, fmt.Errorf("%w: %s already spent in block", ErrBoxNotFound, id)
			}
			box, err := resolveInput(reader, created, id)
			if err != nil {
				return nil, crypto.Hash{}, fmt.Errorf("transaction %d: %w", ti, err)
			}
			inputs = append(inputs, box)
		}
		cost, err := u.s.opts.Validator.ValidateStateful(tx, inputs, u.ctx)
		if err != nil {
			return nil, crypto.Hash{}, fmt.Errorf("%w: transaction %d: %v", ErrInvalidTransaction, ti, err)
		}
		if cost > math.MaxUint64-totalCost {
			return nil, crypto.Hash{}, ErrBlockCostExceeded
		}
		totalCost += cost
		if totalCost > u.s.opts.MaxBlockCost {
			return nil, crypto.Hash{}, fmt.Errorf("%w: %d over limit %d",
				ErrBlockCostExceeded, totalCost, u.s.opts.MaxBlockCost)
		}

		for _, id := range tx.Inputs {
			spent[id] = struct{}{}
			delete(created, id)
			ops = append(ops, avltree.Remove(id))
			if id == emission && len(tx.Outputs) > 0 {
				// The emission box is re-issued as the first output of the
				// transaction spending it.
				emission = tx.Outputs[0].ID()
			}
		}
		for i := range tx.Outputs {
			box := &tx.Outputs[i]
			created[box.ID()] = box
			ops = append(ops, avltree.Insert(box.ID(), box.Bytes()))
		}
	}
	return ops, emission, nil
}

func resolveInput(reader *avltree.Tree, created map[crypto.Hash]*ledger.Box, id crypto.Hash) (*ledger.Box, error) {
	if box, ok := created[id]; ok {
		return box, nil
	}
	raw, err := reader.Lookup(id)
	if err != nil {
		if errors.Is(err, avltree.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
		}
		return nil, fmt.Errorf("resolve box %s: %w", id, err)
	}
	box, err := ledger.ParseBox(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: box %s: %v", ErrStateCorrupted, id, err)
	}
	return box, nil
}

// ApplyHeader advances the version chain without touching the tree. The
// header must declare the current digest as its state root.
func (u *UtxoState) ApplyHeader(h *ledger.Header) (*UtxoState, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.version != s.current {
		return nil, ErrStaleView
	}
	if h.StateRoot != u.digest {
		return nil, fmt.Errorf("%w: header declares %s, state at %s",
			ErrDigestMismatch, h.StateRoot, u.digest)
	}
	version := h.ID()
	ctx := u.ctx.Upcoming(h)
	meta := &metadataRecord{version: version, digest: u.digest, ctx: ctx, emission: u.emission}
	if err := s.prover.commit(meta); err != nil {
		return nil, err
	}
	s.current = version
	return &UtxoState{s: s, version: version, digest: u.digest, ctx: ctx, emission: u.emission}, nil
}

// RollbackTo rewinds the state to a previously committed version. Only
// versions within the retention window can be targeted.
func (u *UtxoState) RollbackTo(version crypto.Hash) (*UtxoState, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.version != s.current {
		return nil, ErrStaleView
	}
	rootBytes, err := s.store.Get(versionRootKey(version))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	digest, err := avltree.DigestFromBytes(rootBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	if err := s.prover.rollback(version, digest); err != nil {
		if errors.Is(err, storage.ErrVersionNotFound) {
			return nil, fmt.Errorf("%w: version %s pruned from retention window", ErrUnknownDigest, version)
		}
		return nil, err
	}
	view, err := loadView(s, version)
	if err != nil {
		return nil, err
	}
	if view.digest != digest {
		return nil, fmt.Errorf("%w: rollback landed on %s, expected %s",
			ErrStateCorrupted, view.digest, digest)
	}
	s.current = version
	return view, nil
}

// RollbackVersions lists the version tags the state can currently be
// rewound to, in commit order. Every retained version must round-trip
// through the forward and reverse digest indexes; a gap means the metadata
// is corrupted, which is fatal rather than recoverable.
func (u *UtxoState) RollbackVersions() ([]crypto.Hash, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.prover.retainedVersions()
	for _, v := range versions {
		rootBytes, err := s.store.Get(versionRootKey(v))
		if err != nil {
			return nil, fmt.Errorf("%w: no root for retained version %s", ErrStateCorrupted, v)
		}
		d, err := avltree.DigestFromBytes(rootBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
		}
		if _, err := s.store.Get(rootVersionKey(d.Root())); err != nil {
			return nil, fmt.Errorf("%w: no reverse index for root %s", ErrStateCorrupted, d.Root())
		}
	}
	return versions, nil
}

// BoxByID returns the unspent box stored under id in this view, or
// ErrBoxNotFound. The box is authenticated by the view's digest. On a
// superseded view the lookup can fail with a node load error once a later
// commit has pruned nodes this view references.
func (u *UtxoState) BoxByID(id crypto.Hash) (*ledger.Box, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	reader, err := s.readerTree(u.digest)
	if err != nil {
		return nil, err
	}
	raw, err := reader.Lookup(id)
	if err != nil {
		if errors.Is(err, avltree.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBoxNotFound, id)
		}
		return nil, fmt.Errorf("lookup box %s: %w", id, err)
	}
	box, err := ledger.ParseBox(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: box %s: %v", ErrStateCorrupted, id, err)
	}
	return box, nil
}

// readerTree opens an independent read-only tree at the given digest. Its
// lookups do not disturb the prover's batch bookkeeping.
func (s *shared) readerTree(d avltree.Digest) (*avltree.Tree, error) {
	if d == avltree.EmptyDigest() {
		return avltree.New(), nil
	}
	tree, err := avltree.NewFromDigest(d, s.prover.loadNode)
	if err != nil {
		return nil, fmt.Errorf("open reader at %s: %w", d, err)
	}
	return tree, nil
}

// revert abandons the in-flight batch and checks the tree really is back at
// the pre-block digest.
func (s *shared) revert(prev avltree.Digest) error {
	s.prover.tree.ResetBatch()
	if got := s.prover.tree.Digest(); got != prev {
		return fmt.Errorf("%w: reverted to %s, expected %s", ErrStateCorrupted, got, prev)
	}
	return nil
}

// emitProof hands the generated proof to the sink. Distribution is best
// effort and never fails the block.
func (s *shared) emitProof(version crypto.Hash, proof []byte) {
	if s.opts.ProofSink == nil {
		log.State.Warn().
			Stringer("version", version).
			Msg("no proof sink configured, dropping generated proof")
		return
	}
	if err := s.opts.ProofSink.EmitProof(version, proof); err != nil {
		log.State.Warn().
			Stringer("version", version).
			Err(err).
			Msg("proof emission failed")
		return
	}
	log.State.Debug().
		Stringer("version", version).
		Int("bytes", len(proof)).
		Msg("emitted operation proof")
}
