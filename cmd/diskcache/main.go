// Package main provides the diskcache command for inspecting and maintaining
// a cache directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meigma/diskcache"
)

// Version as provided by goreleaser.
var Version = ""

var errMiss = errors.New("key not cached")

type app struct {
	cfg    config
	stdin  io.Reader
	stdout io.Writer
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	a := &app{cfg: cfg, stdin: os.Stdin, stdout: os.Stdout}
	if err := a.rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "diskcache",
		Short:         "Inspect and maintain a size-bounded disk cache",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfg.Dir, "dir", "d", a.cfg.Dir, "cache directory ($DISKCACHE_DIR)")
	flags.StringVar(&a.cfg.MaxSize, "max-size", a.cfg.MaxSize, "size that triggers cleanup ($DISKCACHE_MAX_SIZE)")
	flags.StringVar(&a.cfg.MaxSizeAfterClean, "max-size-after-clean", a.cfg.MaxSizeAfterClean, "size cleanup reduces the cache to ($DISKCACHE_MAX_SIZE_AFTER_CLEAN)")
	flags.StringVar(&a.cfg.MinBytesToClean, "min-bytes-to-clean", a.cfg.MinBytesToClean, "least bytes a cleanup frees ($DISKCACHE_MIN_BYTES_TO_CLEAN)")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level: debug, info, warn, error ($DISKCACHE_LOG_LEVEL)")
	flags.BoolVar(&a.cfg.Sync, "sync", a.cfg.Sync, "fsync blobs before publishing them ($DISKCACHE_SYNC)")

	root.AddCommand(
		a.getCmd(),
		a.setCmd(),
		a.rmCmd(),
		a.statCmd(),
		a.pruneCmd(),
		a.verifyCmd(),
	)
	return root
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Write a cached blob to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			data, ok := c.Get(args[0])
			if !ok {
				return fmt.Errorf("%s: %w", args[0], errMiss)
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY [FILE|-]",
		Short: "Store a file (or stdin) under KEY",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = a.stdin
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("unable to read input: %w", err)
			}
			if data == nil {
				data = []byte{}
			}

			c, err := a.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			return c.Set(args[0], data)
		},
	}
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm KEY...",
		Aliases: []string{"delete"},
		Short:   "Remove keys from the cache",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			var errs []error
			for _, key := range args {
				errs = append(errs, c.Delete(key))
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Show cache occupancy and thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			st := c.Stats()
			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "dir\t%s\n", c.Dir())
			fmt.Fprintf(w, "entries\t%d\n", st.Entries)
			fmt.Fprintf(w, "size\t%s\n", formatSize(st.SizeBytes))
			fmt.Fprintf(w, "max size\t%s\n", formatSize(st.MaxSizeBytes))
			fmt.Fprintf(w, "max size after clean\t%s\n", formatSize(st.MaxSizeAfterCleanBytes))
			fmt.Fprintf(w, "min bytes to clean\t%s\n", formatSize(st.MinBytesToClean))
			if st.SizeBytes > st.MaxSizeBytes {
				fmt.Fprintf(w, "over budget by\t%s\n", formatSize(st.SizeBytes-st.MaxSizeBytes))
			}
			return w.Flush()
		},
	}
}

func (a *app) pruneCmd() *cobra.Command {
	var minBytes string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Evict least recently used entries down to the cleanup target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, _, err := parseSize(minBytes)
			if err != nil {
				return err
			}
			c, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			r, err := c.Prune(n)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "evicted %d entries, freed %s, %d failed\n",
				r.Evicted, formatSize(r.Freed), r.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&minBytes, "min", "", "free at least this many bytes, e.g. 100MiB")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the index against the files on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := c.Verify(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "ok: %d entries, %s\n", c.Len(), formatSize(c.SizeBytes()))
			return nil
		},
	}
}

// open builds a cache from the resolved configuration. Only writers create
// the directory and evict on open; other commands leave an over-budget
// directory as found, whatever --max-size says.
func (a *app) open(ctx context.Context, write bool) (*diskcache.Cache, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(a.cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	maxSize, ok, err := parseSize(a.cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("max size is required")
	}

	opts := []diskcache.Option{
		diskcache.WithLogger(logger),
		diskcache.WithSync(a.cfg.Sync),
		diskcache.WithCleanOnOpen(write),
	}
	if n, ok, err := parseSize(a.cfg.MaxSizeAfterClean); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, diskcache.WithMaxSizeAfterClean(n))
	}
	if n, ok, err := parseSize(a.cfg.MinBytesToClean); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, diskcache.WithMinBytesToClean(n))
	}

	if write {
		if err := os.MkdirAll(a.cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("unable to create cache directory: %w", err)
		}
	}
	return diskcache.New(ctx, a.cfg.Dir, maxSize, opts...)
}
