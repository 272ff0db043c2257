package fileindex

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by operations invoked before Initialize succeeded.
	ErrNotInitialized = errors.New("file index is not initialized")

	// ErrClosed is returned by operations invoked after Close.
	ErrClosed = errors.New("file index is closed")

	// ErrIndexLocked means another live process owns the index directory.
	ErrIndexLocked = errors.New("index directory is locked by another process")

	// ErrUncleanShutdown means a commit was interrupted by a crash of the previous run.
	ErrUncleanShutdown = errors.New("index was being written during an unclean shutdown")

	// ErrIndexAhead means the index claims changes the primary store does not have.
	ErrIndexAhead = errors.New("index position is ahead of the primary store")

	// ErrEmptyKey is returned when indexing or deleting an empty key.
	ErrEmptyKey = errors.New("key cannot be empty")

	// ErrInvalidPage is returned for a negative start or page size.
	ErrInvalidPage = errors.New("start and page size must be non-negative")

	// ErrNoRestoreManifest is returned when restoring from a directory without a completed backup.
	ErrNoRestoreManifest = errors.New("backup has no restore manifest")
)

// QueryError reports malformed query text. It rejects a single query and
// leaves the index usable.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// CorruptionError reports on-disk index state that cannot be trusted.
type CorruptionError struct {
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string {
	if e.Err == nil {
		return "index corrupted: " + e.Reason
	}
	return fmt.Sprintf("index corrupted: %s: %v", e.Reason, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

func corruption(reason string, err error) error {
	return &CorruptionError{Reason: reason, Err: err}
}

// IsCorruption reports whether err signals corrupted index state.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsQueryError reports whether err is a rejected query.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
