package state

import "errors"

var (
	// ErrBoxNotFound is returned when a referenced box cannot be resolved
	// against the block's own outputs or the current tree.
	ErrBoxNotFound = errors.New("state: box not found")
	// ErrInvalidTransaction is returned when a stateless or stateful
	// transaction check fails. The whole block is rejected.
	ErrInvalidTransaction = errors.New("state: invalid transaction")
	// ErrBlockCostExceeded is returned when the summed transaction cost is
	// over the block limit.
	ErrBlockCostExceeded = errors.New("state: block cost exceeded")
	// ErrTreeOperation is returned when applying the block's operation batch
	// fails; the tree is restored to the pre-block state.
	ErrTreeOperation = errors.New("state: tree operation failed")
	// ErrDigestMismatch is returned when the digest after applying a block
	// differs from the header's declared state root.
	ErrDigestMismatch = errors.New("state: digest does not match declared state root")
	// ErrProofMismatch is returned when the generated proof does not hash to
	// the header's declared proofs root.
	ErrProofMismatch = errors.New("state: proof does not match declared proofs root")
	// ErrStorageWrite is returned when the versioned store rejects a commit.
	ErrStorageWrite = errors.New("state: storage write failed")
	// ErrUnknownVersion is returned when a rollback target was never
	// committed.
	ErrUnknownVersion = errors.New("state: unknown version")
	// ErrUnknownDigest is returned when a rollback target digest is no
	// longer within the retained window.
	ErrUnknownDigest = errors.New("state: digest not retained")
	// ErrStateCorrupted means a failure-path rollback could not restore the
	// pre-block digest, or state metadata is inconsistent. Not recoverable.
	ErrStateCorrupted = errors.New("state: state storage corrupted")
	// ErrStaleView is returned when a mutating call is made through a view
	// that is no longer the latest committed version.
	ErrStaleView = errors.New("state: view is not at the latest committed version")
	// ErrAlreadyInitialized is returned when bootstrapping over a directory
	// that already holds a state.
	ErrAlreadyInitialized = errors.New("state: store already initialized")
)
