// Package blobstore stores cache blobs as individual files in a directory.
//
// Files live at <dir>/<shard>/<id>, where <shard> is a prefix of the id's
// digest. Writes go to a temporary file in the shard directory that is
// renamed over the final path, so a reader never observes a partially
// written blob under its canonical name. The Store holds no state beyond
// its configuration; callers own all accounting.
package blobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/meigma/diskcache/internal/cacheerr"
	"github.com/meigma/diskcache/internal/keycodec"
)

const (
	// DefaultShardPrefixLen is the number of digest characters used for the
	// shard directory name.
	DefaultShardPrefixLen = 2

	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	tmpPrefix = ".tmp-"
)

// Store performs file operations for cache blobs.
type Store struct {
	dir            string      // root directory, owned by the caller
	shardPrefixLen int         // digest chars per shard directory, 0 = flat
	dirPerm        os.FileMode // permissions for shard directories
	filePerm       os.FileMode // permissions for blob files
	sync           bool        // fsync blob files before publishing them
	logger         *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithShardPrefixLen sets the number of digest characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions used for shard directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithFilePerm sets the permissions used for blob files.
func WithFilePerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.filePerm = mode
	}
}

// WithSync controls whether blob files are fsynced before being renamed
// into place. Defaults to true.
func WithSync(enabled bool) Option {
	return func(s *Store) {
		s.sync = enabled
	}
}

// WithLogger sets the logger used for scan diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store rooted at dir. The directory is not created; a missing
// directory surfaces as an I/O error on first write.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: cache dir is empty", cacheerr.ErrInvalidConfig)
	}
	s := &Store{
		dir:            filepath.Clean(dir),
		shardPrefixLen: DefaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		filePerm:       defaultFilePerm,
		sync:           true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 || s.shardPrefixLen > keycodec.HashLen {
		return nil, fmt.Errorf("%w: shard prefix length must be in [0, %d]", cacheerr.ErrInvalidConfig, keycodec.HashLen)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists data under id, replacing any previous blob, and returns the
// number of bytes written. On error no file is left under the canonical name
// that was not there before.
func (s *Store) Write(id string, data []byte) (int64, error) {
	path, err := s.path(id)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(path)
	if dir != s.dir {
		// Mkdir, not MkdirAll: the root belongs to the caller.
		if err := os.Mkdir(dir, s.dirPerm); err != nil && !errors.Is(err, fs.ErrExist) {
			return 0, ioError("create shard for", id, err)
		}
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return 0, ioError("create temp file for", id, err)
	}
	tmpPath := tmp.Name()

	n, err := tmp.Write(data)
	if err == nil && s.filePerm != defaultFilePerm {
		err = tmp.Chmod(s.filePerm)
	}
	if err == nil && s.sync {
		err = tmp.Sync()
	}
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, ioError("write", id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, ioError("close", id, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, ioError("publish", id, err)
	}
	return int64(n), nil
}

// Read returns the blob stored under id.
// It returns an error wrapping cacheerr.ErrNotFound if there is none.
func (s *Store) Read(id string) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", cacheerr.ErrNotFound, id, err)
		}
		return nil, ioError("read", id, err)
	}
	return data, nil
}

// Delete removes the blob stored under id. Deleting a missing blob succeeds.
func (s *Store) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("delete", id, err)
	}
	return nil
}

// Touch sets the modification time of the blob stored under id to t.
func (s *Store) Touch(id string, t time.Time) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Chtimes(path, t, t); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s: %w", cacheerr.ErrNotFound, id, err)
		}
		return ioError("touch", id, err)
	}
	return nil
}

// Stat returns the on-disk size of the blob stored under id.
func (s *Store) Stat(id string) (int64, error) {
	path, err := s.path(id)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s: %w", cacheerr.ErrNotFound, id, err)
		}
		return 0, ioError("stat", id, err)
	}
	return info.Size(), nil
}

func (s *Store) path(id string) (string, error) {
	hash, ok := keycodec.Hash(id)
	if !ok {
		return "", fmt.Errorf("%w: malformed file id %q", cacheerr.ErrInvalidKey, id)
	}
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, id), nil
	}
	return filepath.Join(s.dir, hash[:s.shardPrefixLen], id), nil
}

func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

func ioError(op, id string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", cacheerr.ErrIO, op, id, err)
}
