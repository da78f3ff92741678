package diskcache

import (
	"log/slog"
	"os"
	"time"
)

// Option configures a Cache.
type Option func(*Cache)

// WithMaxSizeAfterClean sets the size a cleanup pass reduces the cache to.
// It must not exceed the maximum size. Defaults to three quarters of the
// maximum size.
func WithMaxSizeAfterClean(n int64) Option {
	return func(c *Cache) {
		c.maxSizeAfterClean = n
		c.maxSizeAfterCleanSet = true
	}
}

// WithMinBytesToClean sets the least number of bytes a cleanup pass frees,
// even when the cache is only slightly over its ceiling. Defaults to 1% of
// the maximum size.
func WithMinBytesToClean(n int64) Option {
	return func(c *Cache) {
		c.minBytesToClean = n
		c.minBytesToCleanSet = true
	}
}

// WithShardPrefixLen sets the number of digest characters used to name shard
// directories. Use 0 to store every blob directly in the cache directory.
// Defaults to 2.
//
// Changing the value for an existing directory discards blobs stored under
// the previous layout.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions used for shard directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithFilePerm sets the permissions used for blob files.
func WithFilePerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.filePerm = mode
	}
}

// WithSync controls whether blobs are fsynced before they become visible.
// Disabling it trades durability across power loss for write throughput.
// Defaults to true.
func WithSync(enabled bool) Option {
	return func(c *Cache) {
		c.sync = enabled
	}
}

// WithTouchFiles controls whether reads update the blob's modification time.
//
// Recency is rebuilt from modification times when a cache is opened, so with
// this disabled a restarted cache orders entries by write time only.
// Defaults to true.
func WithTouchFiles(enabled bool) Option {
	return func(c *Cache) {
		c.touchFiles = enabled
	}
}

// WithCleanOnOpen controls whether New evicts entries when the directory
// already holds more than the maximum size. With it disabled an oversized
// cache is left as found until the next growing Set or an explicit Prune.
// Defaults to true.
func WithCleanOnOpen(enabled bool) Option {
	return func(c *Cache) {
		c.cleanOnOpen = enabled
	}
}

// WithMaxConcurrentIO limits how many blob reads and writes run at once.
// Values <= 0 leave I/O unbounded (default).
func WithMaxConcurrentIO(n int64) Option {
	return func(c *Cache) {
		c.maxConcurrentIO = n
	}
}

// WithLogger sets a logger for the cache.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock sets the time source used to stamp entries. Defaults to
// time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}
