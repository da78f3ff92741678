// Package evict removes least recently used blobs once the cache grows past
// its ceiling.
//
// Cleanup uses two thresholds. MaxSize is the ceiling checked after every
// growing write; crossing it starts a pass. A pass frees at least
// MinBytesToClean and enough to bring the total down to MaxSizeAfterClean, so
// the next few writes do not immediately trigger another pass.
package evict

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meigma/diskcache/internal/cacheerr"
	"github.com/meigma/diskcache/internal/index"
	"github.com/meigma/diskcache/internal/keylock"
)

// Store deletes blob files.
type Store interface {
	Delete(id string) error
}

// Config holds the cleanup thresholds in bytes.
type Config struct {
	MaxSize           int64 // ceiling that triggers a pass
	MaxSizeAfterClean int64 // total a pass aims for
	MinBytesToClean   int64 // least a pass tries to free
}

// Validate checks the thresholds for consistency.
func (c Config) Validate() error {
	switch {
	case c.MaxSize <= 0:
		return fmt.Errorf("%w: max size must be > 0", cacheerr.ErrInvalidConfig)
	case c.MaxSizeAfterClean < 0:
		return fmt.Errorf("%w: max size after clean must be >= 0", cacheerr.ErrInvalidConfig)
	case c.MaxSizeAfterClean > c.MaxSize:
		return fmt.Errorf("%w: max size after clean (%d) exceeds max size (%d)",
			cacheerr.ErrInvalidConfig, c.MaxSizeAfterClean, c.MaxSize)
	case c.MinBytesToClean < 0:
		return fmt.Errorf("%w: min bytes to clean must be >= 0", cacheerr.ErrInvalidConfig)
	}
	return nil
}

// Result describes what one or more cleanup passes did.
type Result struct {
	Freed   int64 // bytes removed from the index
	Evicted int   // entries removed
	Failed  int   // entries whose file could not be deleted
	Skipped int   // entries in use or changed since the snapshot
}

func (r *Result) add(o Result) {
	r.Freed += o.Freed
	r.Evicted += o.Evicted
	r.Failed += o.Failed
	r.Skipped += o.Skipped
}

// Stats are cumulative counters across the engine's lifetime.
type Stats struct {
	Passes   int64
	Evicted  int64
	Freed    int64
	Failures int64
}

// Engine runs cleanup passes over an index and its backing store.
type Engine struct {
	idx    *index.Index
	store  Store
	locks  *keylock.Locker
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex // held for the duration of a pass

	passes   atomic.Int64
	evicted  atomic.Int64
	freed    atomic.Int64
	failures atomic.Int64
}

// New creates an engine. Entries are evicted only while their key lock in
// locks can be taken without waiting.
func New(idx *index.Index, store Store, locks *keylock.Locker, cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if locks == nil {
		locks = &keylock.Locker{}
	}
	return &Engine{
		idx:    idx,
		store:  store,
		locks:  locks,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config {
	return e.cfg
}

// NeedsClean reports whether the index total is above the ceiling.
func (e *Engine) NeedsClean() bool {
	return e.idx.TotalSize() > e.cfg.MaxSize
}

// MaybeClean runs cleanup if the total is above the ceiling. If another
// caller is already cleaning it returns immediately; every pass re-checks the
// ceiling after giving up the engine, so growth it missed is not stranded.
//
// A pass that frees nothing because all candidates were busy is retried once
// with a fresh snapshot. A pass that frees nothing for any other reason ends
// the loop; a later write retries.
func (e *Engine) MaybeClean() Result {
	var total Result
	retried := false
	for e.NeedsClean() {
		if !e.mu.TryLock() {
			return total
		}
		if !e.NeedsClean() {
			e.mu.Unlock()
			continue
		}
		r := e.passLocked(e.target())
		e.mu.Unlock()

		total.add(r)
		if r.Freed == 0 {
			if r.Skipped == 0 || retried {
				return total
			}
			retried = true
		}
	}
	return total
}

// Clean runs one pass that frees at least minBytes, waiting for any pass in
// progress to finish first. The hysteresis target still applies when it
// asks for more. Writes that crossed the ceiling while the pass held the
// engine are cleaned up before Clean returns.
func (e *Engine) Clean(minBytes int64) Result {
	e.mu.Lock()
	r := e.passLocked(max(minBytes, e.target()))
	e.mu.Unlock()

	r.add(e.MaybeClean())
	return r
}

// Stats returns cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Passes:   e.passes.Load(),
		Evicted:  e.evicted.Load(),
		Freed:    e.freed.Load(),
		Failures: e.failures.Load(),
	}
}

func (e *Engine) target() int64 {
	over := e.idx.TotalSize() - e.cfg.MaxSizeAfterClean
	return max(e.cfg.MinBytesToClean, over, 0)
}

func (e *Engine) passLocked(target int64) Result {
	var r Result
	if target <= 0 {
		return r
	}
	start := time.Now()
	before := e.idx.TotalSize()

	for _, ent := range e.idx.Snapshot() {
		if r.Freed >= target {
			break
		}
		r.add(e.evictOne(ent))
	}

	e.passes.Add(1)
	e.evicted.Add(int64(r.Evicted))
	e.freed.Add(r.Freed)
	e.failures.Add(int64(r.Failed))

	e.log().Info("cache cleanup finished",
		slog.Int64("target_bytes", target),
		slog.Int64("freed_bytes", r.Freed),
		slog.Int64("size_before", before),
		slog.Int64("size_after", e.idx.TotalSize()),
		slog.Int("evicted", r.Evicted),
		slog.Int("failed", r.Failed),
		slog.Int("skipped", r.Skipped),
		slog.Duration("duration", time.Since(start)))
	return r
}

func (e *Engine) evictOne(ent index.Entry) Result {
	unlock, ok := e.locks.TryLock(ent.ID)
	if !ok {
		return Result{Skipped: 1}
	}
	defer unlock()

	cur, ok := e.idx.Lookup(ent.ID)
	if !ok || !cur.LastAccess.Equal(ent.LastAccess) {
		return Result{Skipped: 1}
	}

	if err := e.store.Delete(ent.ID); err != nil {
		e.log().Warn("failed to evict cache entry",
			slog.String("id", ent.ID),
			slog.Int64("size", ent.Size),
			slog.Any("error", err))
		return Result{Failed: 1}
	}

	removed, ok := e.idx.RemoveIf(ent.ID, ent.LastAccess)
	if !ok {
		return Result{Skipped: 1}
	}
	e.log().Debug("evicted cache entry",
		slog.String("id", removed.ID),
		slog.String("key", removed.Key),
		slog.Int64("size", removed.Size),
		slog.Time("last_access", removed.LastAccess))
	return Result{Freed: removed.Size, Evicted: 1}
}

func (e *Engine) log() *slog.Logger {
	if e.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.logger
}
