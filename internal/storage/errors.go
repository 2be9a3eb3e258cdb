package storage

import "errors"

var (
	// ErrClosed is returned by engine operations invoked after Close.
	ErrClosed = errors.New("storage: engine closed")

	// ErrNotFound names the case of a key with no live value. Engine.Get
	// reports absence through its boolean result and does not return it.
	ErrNotFound = errors.New("storage: key not found")

	// errCorruptRecord marks a WAL record or SSTable entry that failed to
	// decode. WAL replay treats it as a torn tail and truncates; SSTable
	// loading skips the file and logs.
	errCorruptRecord = errors.New("storage: corrupt record")
)
