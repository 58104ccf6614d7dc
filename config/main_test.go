package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() func() {
	oml, pcc, pct := ObjectMemoryLimit, ProcCacheCapacity, ProcCacheTTL
	mcc, mct, rcm := ModuleCacheCapacity, ModuleCacheTTL, ReadChunkMax
	return func() {
		ObjectMemoryLimit, ProcCacheCapacity, ProcCacheTTL = oml, pcc, pct
		ModuleCacheCapacity, ModuleCacheTTL, ReadChunkMax = mcc, mct, rcm
	}
}

func TestLoadOverlay(t *testing.T) {
	defer snapshot()()

	path := filepath.Join(t.TempDir(), "vmmfs.yaml")
	doc := "object_memory_limit: 1048576\nproc_cache_ttl_ms: 250\nmodule_cache_capacity: 32\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	require.NoError(t, Load(path))
	assert.Equal(t, int64(1048576), ObjectMemoryLimit)
	assert.Equal(t, 250*time.Millisecond, ProcCacheTTL)
	assert.Equal(t, 32, ModuleCacheCapacity)
	assert.Equal(t, 128, ProcCacheCapacity, "absent keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	defer snapshot()()
	assert.NoError(t, Load(filepath.Join(t.TempDir(), "absent.yaml")), "missing file keeps defaults")
}

func TestLoadBadYAML(t *testing.T) {
	defer snapshot()()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("object_memory_limit: [nope"), 0o644))
	assert.Error(t, Load(path))
}
