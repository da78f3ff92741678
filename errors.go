package diskcache

import "github.com/meigma/diskcache/internal/cacheerr"

// Errors re-exported from internal packages. Each is a platform error from
// github.com/jmgilman/go/errors, so callers may match with errors.Is or
// inspect the code with errors.GetCode.
var (
	// ErrNotFound is returned internally when a blob is missing on disk.
	// Get reports it as a miss rather than an error.
	ErrNotFound = cacheerr.ErrNotFound

	// ErrIO is returned when the filesystem rejects a write or delete.
	// It is classified as retryable.
	ErrIO = cacheerr.ErrIO

	// ErrIndexCorruption is returned by Verify when the index accounting does
	// not match itself or the directory.
	ErrIndexCorruption = cacheerr.ErrIndexCorruption

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = cacheerr.ErrInvalidKey

	// ErrInvalidConfig is returned by New for inconsistent options.
	ErrInvalidConfig = cacheerr.ErrInvalidConfig

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = cacheerr.ErrClosed
)
