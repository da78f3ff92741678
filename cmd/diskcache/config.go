package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
)

// config is read from the environment; command-line flags override it.
type config struct {
	Dir               string `env:"DISKCACHE_DIR"`
	MaxSize           string `env:"DISKCACHE_MAX_SIZE"             envDefault:"1GiB"`
	MaxSizeAfterClean string `env:"DISKCACHE_MAX_SIZE_AFTER_CLEAN"`
	MinBytesToClean   string `env:"DISKCACHE_MIN_BYTES_TO_CLEAN"`
	LogLevel          string `env:"DISKCACHE_LOG_LEVEL"            envDefault:"warn"`
	Sync              bool   `env:"DISKCACHE_SYNC"                 envDefault:"true"`
}

func loadConfig() (config, error) {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return config{}, fmt.Errorf("error parsing environment: %w", err)
	}
	if cfg.Dir == "" {
		dir, err := defaultDir()
		if err != nil {
			return config{}, err
		}
		cfg.Dir = dir
	}
	return cfg, nil
}

func defaultDir() (string, error) {
	scope := gap.NewScope(gap.User, "diskcache")
	dir, err := scope.CacheDir()
	if err != nil {
		return "", fmt.Errorf("could not find user cache directory: %w", err)
	}
	return dir, nil
}

// parseSize parses a human-readable byte count such as "512MiB" or "10kB".
// An empty string yields (0, false, nil).
func parseSize(s string) (int64, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, false, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, false, fmt.Errorf("invalid size %q: too large", s)
	}
	return int64(n), true, nil
}

func formatSize(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "diskcache",
	})
	return slog.New(handler), nil
}
