// Package diskcache provides a size-bounded, key-addressed blob cache that
// persists to a local directory and survives restarts.
//
// Each blob is stored as one file. An in-memory index tracks every entry's
// size and last access and keeps a running total; when a write pushes the
// total above the configured maximum, the least recently used entries are
// deleted until the cache is back under a lower target.
//
// # Quick Start
//
//	c, err := diskcache.New(ctx, "/var/cache/thumbs", 512<<20)
//	if err != nil {
//	    return err
//	}
//	if err := c.Set("avatar/42", png); err != nil {
//	    return err
//	}
//	data, ok := c.Get("avatar/42")
//
// Passing nil to Set removes a key, the same as Delete.
//
// # Cleanup Thresholds
//
// Three sizes control eviction:
//   - the maximum size passed to New is the ceiling checked after each write
//   - [WithMaxSizeAfterClean] is the size a cleanup pass reduces the cache to
//   - [WithMinBytesToClean] is the least a pass frees, so a tiny overage
//     still reclaims a worthwhile amount
//
// The gap between the ceiling and the target keeps cleanup from running on
// every write once the cache is full.
//
// # Ownership
//
// The cache assumes it is the only writer to its directory. The directory
// must exist before New is called.
package diskcache
