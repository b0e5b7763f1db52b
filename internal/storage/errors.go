package storage

import "errors"

var (
	// ErrNotFound is returned when a key has no value in the current version.
	ErrNotFound = errors.New("storage: key not found")
	// ErrVersionNotFound is returned when a rollback target is not within
	// the retained version window.
	ErrVersionNotFound = errors.New("storage: version not retained")
	// ErrVersionExists is returned when a version tag is committed twice.
	ErrVersionExists = errors.New("storage: version already committed")
	// ErrCorruptedJournal is returned when an undo record cannot be decoded.
	ErrCorruptedJournal = errors.New("storage: corrupted undo journal")
)
