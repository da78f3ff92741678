// Package cacheerr defines the sentinel errors shared by the cache packages.
package cacheerr

import "github.com/jmgilman/go/errors"

// Sentinel errors for cache operations.
var (
	// ErrNotFound is returned when a blob does not exist on disk.
	ErrNotFound = errors.New(errors.CodeNotFound, "diskcache: blob not found")

	// ErrIO is returned when the filesystem rejects a read, write or delete.
	ErrIO = errors.New(errors.CodeUnavailable, "diskcache: i/o failure")

	// ErrIndexCorruption is returned when the in-memory index no longer
	// matches its own accounting or the files on disk.
	ErrIndexCorruption = errors.New(errors.CodeInternal, "diskcache: index corruption")

	// ErrInvalidKey is returned for keys the cache cannot store.
	ErrInvalidKey = errors.New(errors.CodeInvalidInput, "diskcache: invalid key")

	// ErrInvalidConfig is returned when construction options are inconsistent.
	ErrInvalidConfig = errors.New(errors.CodeInvalidConfig, "diskcache: invalid configuration")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New(errors.CodeUnavailable, "diskcache: cache is closed")
)
