package blobstore

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/diskcache/internal/keycodec"
)

const scanWorkers = 8

// Item describes a blob found on disk.
type Item struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// ScanStats summarizes the housekeeping done by Scan.
type ScanStats struct {
	TempRemoved     int // leftover temp files from interrupted writes
	MisplacedPruned int // blobs stored under a different shard layout
	Ignored         int // files that are not cache blobs
}

// Scan lists every blob under the root directory. Shard directories are read
// in parallel. Temp files left behind by interrupted writes and blobs that
// are not at their canonical path are removed; other foreign files are left
// alone and not reported. A missing root yields no items.
func (s *Store) Scan(ctx context.Context) ([]Item, ScanStats, error) {
	var stats ScanStats
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, stats, nil
	}
	if err != nil {
		return nil, stats, ioError("scan", s.dir, err)
	}

	var (
		mu    sync.Mutex
		items []Item
	)
	collect := func(found []Item, st ScanStats) {
		mu.Lock()
		defer mu.Unlock()
		items = append(items, found...)
		stats.TempRemoved += st.TempRemoved
		stats.MisplacedPruned += st.MisplacedPruned
		stats.Ignored += st.Ignored
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)

	var top []fs.DirEntry
	for _, de := range entries {
		if !de.IsDir() {
			top = append(top, de)
			continue
		}
		dir := filepath.Join(s.dir, de.Name())
		g.Go(func() error {
			sub, err := os.ReadDir(dir)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return ioError("scan", dir, err)
			}
			found, st, err := s.scanEntries(gctx, dir, sub)
			collect(found, st)
			return err
		})
	}
	g.Go(func() error {
		found, st, err := s.scanEntries(gctx, s.dir, top)
		collect(found, st)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	s.log().Debug("scanned cache directory",
		slog.String("dir", s.dir),
		slog.Int("blobs", len(items)),
		slog.Int("temp_removed", stats.TempRemoved),
		slog.Int("misplaced_pruned", stats.MisplacedPruned),
		slog.Int("ignored", stats.Ignored))
	return items, stats, nil
}

func (s *Store) scanEntries(ctx context.Context, dir string, entries []fs.DirEntry) ([]Item, ScanStats, error) {
	var (
		items []Item
		stats ScanStats
	)
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return items, stats, err
		}
		if !de.Type().IsRegular() {
			continue
		}
		name := de.Name()
		full := filepath.Join(dir, name)

		if strings.HasPrefix(name, tmpPrefix) {
			if err := os.Remove(full); err == nil {
				stats.TempRemoved++
			}
			continue
		}
		if !keycodec.Valid(name) {
			stats.Ignored++
			continue
		}
		if want, _ := s.path(name); want != full {
			if err := os.Remove(full); err == nil {
				stats.MisplacedPruned++
			}
			continue
		}

		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return items, stats, ioError("stat", name, err)
		}
		items = append(items, Item{
			ID:      name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return items, stats, nil
}
