package avltree

import "errors"

var (
	// ErrKeyExists is returned by an insert for a key already present.
	ErrKeyExists = errors.New("avltree: key already exists")
	// ErrKeyNotFound is returned by updates, removals and lookups for a key
	// that is not present.
	ErrKeyNotFound = errors.New("avltree: key not found")
	// ErrIncompleteProof is returned when an operation reaches a part of the
	// tree that the proof being verified does not cover.
	ErrIncompleteProof = errors.New("avltree: proof does not cover the operation path")
	// ErrInvalidProof is returned when a serialized proof cannot be decoded
	// or does not match the starting digest.
	ErrInvalidProof = errors.New("avltree: invalid proof")
	// ErrMalformedNode is returned when a persisted node cannot be decoded.
	ErrMalformedNode = errors.New("avltree: malformed node bytes")
	// ErrDigestMismatch is returned by Verify when the replayed batch does
	// not produce the claimed digest.
	ErrDigestMismatch = errors.New("avltree: digest mismatch")
)
