package diskcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/diskcache/internal/blobstore"
	"github.com/meigma/diskcache/internal/evict"
	"github.com/meigma/diskcache/internal/index"
	"github.com/meigma/diskcache/internal/keycodec"
	"github.com/meigma/diskcache/internal/keylock"
)

// CleanupResult describes what a cleanup pass did.
type CleanupResult = evict.Result

// Cache is a size-bounded blob cache backed by a directory.
//
// Metadata lives in memory and is rebuilt from the directory when the cache
// is opened. File I/O happens outside the metadata lock; operations on the
// same key are serialized so a read, write or eviction of one key never
// interleaves with another on that key. The cache is safe for concurrent use
// by a single process.
type Cache struct {
	dir    string
	store  *blobstore.Store
	idx    *index.Index
	engine *evict.Engine
	locks  keylock.Locker
	reads  singleflight.Group // coalesces concurrent reads of one key
	ioSem  *semaphore.Weighted

	maxSize              int64
	maxSizeAfterClean    int64
	maxSizeAfterCleanSet bool
	minBytesToClean      int64
	minBytesToCleanSet   bool
	shardPrefixLen       int
	dirPerm              os.FileMode
	filePerm             os.FileMode
	sync                 bool
	touchFiles           bool
	cleanOnOpen          bool
	maxConcurrentIO      int64
	logger               *slog.Logger
	now                  func() time.Time

	hits       atomic.Int64
	misses     atomic.Int64
	writes     atomic.Int64
	deletes    atomic.Int64
	readErrors atomic.Int64
	closed     atomic.Bool
}

// New opens a cache in dir that holds at most maxSizeBytes.
//
// The directory must already exist and be writable; it is not created. Its
// contents are scanned to rebuild the index, using each file's modification
// time as its last access. If the scanned contents exceed the limit, a
// cleanup pass runs before New returns unless WithCleanOnOpen(false) is set.
func New(ctx context.Context, dir string, maxSizeBytes int64, opts ...Option) (*Cache, error) {
	c := &Cache{
		dir:            dir,
		maxSize:        maxSizeBytes,
		shardPrefixLen: blobstore.DefaultShardPrefixLen,
		sync:           true,
		touchFiles:     true,
		cleanOnOpen:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxSize <= 0 {
		return nil, fmt.Errorf("%w: max size must be > 0", ErrInvalidConfig)
	}
	if !c.maxSizeAfterCleanSet {
		c.maxSizeAfterClean = c.maxSize / 4 * 3
	}
	if !c.minBytesToCleanSet {
		c.minBytesToClean = c.maxSize / 100
	}

	storeOpts := []blobstore.Option{
		blobstore.WithShardPrefixLen(c.shardPrefixLen),
		blobstore.WithSync(c.sync),
		blobstore.WithLogger(c.logger),
	}
	if c.dirPerm != 0 {
		storeOpts = append(storeOpts, blobstore.WithDirPerm(c.dirPerm))
	}
	if c.filePerm != 0 {
		storeOpts = append(storeOpts, blobstore.WithFilePerm(c.filePerm))
	}
	store, err := blobstore.New(dir, storeOpts...)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.idx = index.New(c.now)

	c.engine, err = evict.New(c.idx, store, &c.locks, evict.Config{
		MaxSize:           c.maxSize,
		MaxSizeAfterClean: c.maxSizeAfterClean,
		MinBytesToClean:   c.minBytesToClean,
	}, c.logger)
	if err != nil {
		return nil, err
	}
	if c.maxConcurrentIO > 0 {
		c.ioSem = semaphore.NewWeighted(c.maxConcurrentIO)
	}

	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) load(ctx context.Context) error {
	start := time.Now()
	items, stats, err := c.store.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan cache dir %s: %w", c.dir, err)
	}

	entries := make([]index.Entry, len(items))
	for i, it := range items {
		entries[i] = index.Entry{
			ID:         it.ID,
			Size:       it.Size,
			LastAccess: it.ModTime,
		}
	}
	c.idx.Load(entries)

	c.log().Info("opened disk cache",
		slog.String("dir", c.dir),
		slog.Int("entries", len(entries)),
		slog.Int64("size", c.idx.TotalSize()),
		slog.Int64("max_size", c.maxSize),
		slog.Int("temp_removed", stats.TempRemoved),
		slog.Duration("duration", time.Since(start)))

	if c.cleanOnOpen && c.engine.NeedsClean() {
		c.engine.MaybeClean()
	}
	return nil
}

type readResult struct {
	data []byte
	ok   bool
}

// Get returns the blob stored under key.
//
// Get never fails: a missing key, a blob that vanished from disk and a read
// error all report a miss, so callers can fall back to recomputing the value.
// A hit marks the entry as most recently used.
func (c *Cache) Get(key string) ([]byte, bool) {
	if key == "" || c.closed.Load() {
		c.misses.Add(1)
		return nil, false
	}
	id := keycodec.Encode(key)

	v, _, shared := c.reads.Do(id, func() (any, error) {
		data, ok := c.read(key, id)
		return readResult{data: data, ok: ok}, nil
	})
	res, _ := v.(readResult) //nolint:errcheck // the function above always returns readResult
	if !res.ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	if shared {
		return bytes.Clone(res.data), true
	}
	return res.data, true
}

func (c *Cache) read(key, id string) ([]byte, bool) {
	unlock := c.locks.Lock(id)
	defer unlock()

	ent, ok := c.idx.Lookup(id)
	if !ok {
		return nil, false
	}

	data, err := c.readBlob(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.idx.Remove(id)
			c.log().Debug("dropped stale cache entry", slog.String("key", key), slog.String("id", id))
			return nil, false
		}
		c.readErrors.Add(1)
		c.log().Warn("cache read failed, treating as miss", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	if int64(len(data)) != ent.Size {
		c.readErrors.Add(1)
		c.log().Warn("cache blob size changed on disk, discarding",
			slog.String("key", key),
			slog.Int64("indexed_size", ent.Size),
			slog.Int("disk_size", len(data)))
		if err := c.store.Delete(id); err == nil {
			c.idx.Remove(id)
		}
		return nil, false
	}

	touched, _ := c.idx.Touch(id, key)
	c.touchFile(id, touched.LastAccess)
	return data, true
}

// Set stores data under key, replacing any previous blob.
//
// A nil data removes the key, like Delete; a non-nil empty slice stores an
// empty blob. Write errors are returned and leave any previous blob for key
// in place. If the write grows the cache past its maximum size, a cleanup
// pass runs before Set returns, unless one is already running.
func (c *Cache) Set(key string, data []byte) error {
	if data == nil {
		return c.Delete(key)
	}
	if err := c.check(key); err != nil {
		return err
	}
	id := keycodec.Encode(key)

	unlock := c.locks.Lock(id)
	n, err := c.writeBlob(id, data)
	if err != nil {
		unlock()
		return fmt.Errorf("set %q: %w", key, err)
	}
	ent, delta := c.idx.Upsert(id, key, n)
	c.touchFile(id, ent.LastAccess)
	unlock()

	c.writes.Add(1)
	if delta > 0 {
		c.engine.MaybeClean()
	}
	return nil
}

// Delete removes key from the cache. Deleting a missing key succeeds.
// If the blob cannot be removed from disk the entry stays cached and the
// error is returned.
func (c *Cache) Delete(key string) error {
	if err := c.check(key); err != nil {
		return err
	}
	id := keycodec.Encode(key)

	unlock := c.locks.Lock(id)
	defer unlock()

	if err := c.store.Delete(id); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	if _, ok := c.idx.Remove(id); ok {
		c.deletes.Add(1)
	}
	return nil
}

// Has reports whether key is cached without reading it or updating its
// recency. It reports false once the cache is closed.
func (c *Cache) Has(key string) bool {
	if key == "" || c.closed.Load() {
		return false
	}
	_, ok := c.idx.Lookup(keycodec.Encode(key))
	return ok
}

// Prune runs a cleanup pass immediately, evicting least recently used
// entries until at least minBytes are freed and the cache is no larger than
// its cleanup target. It waits for a pass already in progress.
func (c *Cache) Prune(minBytes int64) (CleanupResult, error) {
	if c.closed.Load() {
		return CleanupResult{}, ErrClosed
	}
	return c.engine.Clean(minBytes), nil
}

// Verify checks that the index accounting is self-consistent and that every
// indexed blob exists on disk with its recorded size. It is meant for tests
// and diagnostics on a quiescent cache.
func (c *Cache) Verify() error {
	if err := c.idx.Verify(); err != nil {
		return err
	}
	for _, ent := range c.idx.Snapshot() {
		if err := c.verifyEntry(ent.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) verifyEntry(id string) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	ent, ok := c.idx.Lookup(id)
	if !ok {
		return nil
	}
	size, err := c.store.Stat(id)
	if err != nil {
		return fmt.Errorf("%w: entry %s: %w", ErrIndexCorruption, id, err)
	}
	if size != ent.Size {
		return fmt.Errorf("%w: entry %s indexed with %d bytes, %d on disk", ErrIndexCorruption, id, ent.Size, size)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.idx.Len()
}

// SizeBytes returns the total size of cached blobs.
func (c *Cache) SizeBytes() int64 {
	return c.idx.TotalSize()
}

// MaxBytes returns the size that triggers cleanup.
func (c *Cache) MaxBytes() int64 {
	return c.maxSize
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Close marks the cache closed. Subsequent Get and Has calls miss, while Set,
// Delete and Prune fail with ErrClosed. Files on disk are kept for the next
// New, and Len, SizeBytes, Stats and Verify keep describing them as they
// were at Close.
func (c *Cache) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Cache) check(key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	return nil
}

func (c *Cache) readBlob(id string) ([]byte, error) {
	if c.ioSem != nil {
		_ = c.ioSem.Acquire(context.Background(), 1) //nolint:errcheck // background context never cancels
		defer c.ioSem.Release(1)
	}
	return c.store.Read(id)
}

func (c *Cache) writeBlob(id string, data []byte) (int64, error) {
	if c.ioSem != nil {
		_ = c.ioSem.Acquire(context.Background(), 1) //nolint:errcheck // background context never cancels
		defer c.ioSem.Release(1)
	}
	return c.store.Write(id, data)
}

// touchFile records recency in the blob's modification time so it survives
// a restart. Failures only cost ordering accuracy after the next New.
func (c *Cache) touchFile(id string, t time.Time) {
	if !c.touchFiles {
		return
	}
	if err := c.store.Touch(id, t); err != nil {
		c.log().Debug("failed to update blob mtime", slog.String("id", id), slog.Any("error", err))
	}
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}
