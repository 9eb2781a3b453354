package pprof

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProfiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		CPUProfile:  filepath.Join(dir, "cpu", "cpu.pprof"),
		HeapProfile: filepath.Join(dir, "heap.pprof"),
	}
	require.True(t, cfg.Enabled())

	h := NewHandler(cfg)
	require.NoError(t, h.Start())
	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())

	for _, p := range []string{cfg.CPUProfile, cfg.HeapProfile} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.NotZero(t, info.Size())
	}
}

func TestDisabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	h := NewHandler(Config{})
	require.NoError(t, h.Start())
	require.NoError(t, h.Stop())
}
