package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_WritesAllProfiles(t *testing.T) {
	// Given: all three profiles requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Mem:   filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	require.True(t, opts.Enabled())

	// When: running some work inside a session
	s, err := Start(opts)
	require.NoError(t, err)
	sum := 0
	for i := 0; i < 1_000_000; i++ {
		sum += i
	}
	_ = sum
	require.NoError(t, s.Stop())

	// Then: every file exists and is non-empty
	for _, path := range []string{opts.CPU, opts.Mem, opts.Trace} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Greater(t, info.Size(), int64(0), path)
	}

	// And: a second Stop is harmless
	assert.NoError(t, s.Stop())
}

func TestSession_NothingRequested(t *testing.T) {
	opts := Options{}
	assert.False(t, opts.Enabled())

	s, err := Start(opts)
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
}

func TestStart_BadPathLeavesNothingRunning(t *testing.T) {
	dir := t.TempDir()

	_, err := Start(Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Trace: filepath.Join(dir, "missing", "trace.out"),
	})
	require.Error(t, err)

	// CPU profiling was stopped, so a new session can start it again.
	s, err := Start(Options{CPU: filepath.Join(dir, "cpu2.prof")})
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
}
