package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, cfg config, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{cfg: cfg, stdin: strings.NewReader(stdin), stdout: &out}
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) config {
	t.Helper()
	return config{
		Dir:      filepath.Join(t.TempDir(), "cache"),
		MaxSize:  "1MiB",
		LogLevel: "error",
		Sync:     false,
	}
}

func TestSetGetRm(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	_, err := run(t, cfg, "hello from stdin", "set", "greeting")
	require.NoError(t, err)

	out, err := run(t, cfg, "", "get", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello from stdin", out)

	_, err = run(t, cfg, "", "rm", "greeting")
	require.NoError(t, err)

	_, err = run(t, cfg, "", "get", "greeting")
	require.ErrorIs(t, err, errMiss)
}

func TestSetFromFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	src := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(src, []byte{0, 1, 2, 3}, 0o600))

	_, err := run(t, cfg, "", "set", "bin", src)
	require.NoError(t, err)

	out, err := run(t, cfg, "", "get", "bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, []byte(out))
}

func TestGetWithoutDirectory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	_, err := run(t, cfg, "", "get", "anything")
	require.ErrorIs(t, err, errMiss)

	_, statErr := os.Stat(cfg.Dir)
	assert.True(t, os.IsNotExist(statErr), "read-only commands must not create the directory")
}

func TestStatAndVerify(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	for _, key := range []string{"a", "b", "c"} {
		_, err := run(t, cfg, strings.Repeat("x", 1024), "set", key)
		require.NoError(t, err)
	}

	out, err := run(t, cfg, "", "stat")
	require.NoError(t, err)
	assert.Contains(t, out, "entries")
	assert.Contains(t, out, "3.0 KiB")
	assert.Contains(t, out, "1.0 MiB")

	out, err = run(t, cfg, "", "verify")
	require.NoError(t, err)
	assert.Equal(t, "ok: 3 entries, 3.0 KiB\n", out)
}

func TestPrune(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.MinBytesToClean = "0"
	for _, key := range []string{"a", "b", "c", "d"} {
		_, err := run(t, cfg, strings.Repeat("x", 1000), "set", key)
		require.NoError(t, err)
	}

	out, err := run(t, cfg, "", "prune", "--min", "1500B")
	require.NoError(t, err)
	assert.Equal(t, "evicted 2 entries, freed 2.0 KiB, 0 failed\n", out)

	out, err = run(t, cfg, "", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 2 entries")
}

func TestInspectionKeepsOverBudgetCache(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	for _, key := range []string{"a", "b", "c"} {
		_, err := run(t, cfg, strings.Repeat("x", 1024), "set", key)
		require.NoError(t, err)
	}

	out, err := run(t, cfg, "", "--max-size", "1KiB", "stat")
	require.NoError(t, err)
	assert.Contains(t, out, "over budget by")

	out, err = run(t, cfg, "", "--max-size", "1KiB", "get", "a")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 1024), out)

	out, err = run(t, cfg, "", "--max-size", "1KiB", "verify")
	require.NoError(t, err)
	assert.Equal(t, "ok: 3 entries, 3.0 KiB\n", out)
}

func TestFlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	_, err := run(t, cfg, "", "--max-size", "not-a-size", "stat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid size")

	_, err = run(t, cfg, "", "--log-level", "loud", "stat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int64
		set     bool
		wantErr bool
	}{
		{in: "", want: 0, set: false},
		{in: "0", want: 0, set: true},
		{in: "512", want: 512, set: true},
		{in: "10kB", want: 10_000, set: true},
		{in: "1KiB", want: 1024, set: true},
		{in: "2 GiB", want: 2 << 30, set: true},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, set, err := parseSize(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.set, set)
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DISKCACHE_DIR", dir)
	t.Setenv("DISKCACHE_MAX_SIZE", "64MiB")
	t.Setenv("DISKCACHE_SYNC", "false")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, "64MiB", cfg.MaxSize)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.Sync)
}
