package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ObjectMemoryLimit int64 = 256 * 1024 * 1024

var ProcCacheCapacity int = 128
var ProcCacheTTL time.Duration = 2 * time.Second

var ModuleCacheCapacity int = 512
var ModuleCacheTTL time.Duration = 5 * time.Second

var ReadChunkMax int = 16 * 1024 * 1024

// fileConfig mirrors the package vars as optional YAML keys; absent keys
// leave the defaults alone.
type fileConfig struct {
	ObjectMemoryLimit   *int64 `yaml:"object_memory_limit"`
	ProcCacheCapacity   *int   `yaml:"proc_cache_capacity"`
	ProcCacheTTLMs      *int64 `yaml:"proc_cache_ttl_ms"`
	ModuleCacheCapacity *int   `yaml:"module_cache_capacity"`
	ModuleCacheTTLMs    *int64 `yaml:"module_cache_ttl_ms"`
	ReadChunkMax        *int   `yaml:"read_chunk_max"`
}

// Load overlays settings from a YAML file onto the defaults. A missing file
// is not an error; the defaults stand.
func Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}
	if fc.ObjectMemoryLimit != nil {
		ObjectMemoryLimit = *fc.ObjectMemoryLimit
	}
	if fc.ProcCacheCapacity != nil {
		ProcCacheCapacity = *fc.ProcCacheCapacity
	}
	if fc.ProcCacheTTLMs != nil {
		ProcCacheTTL = time.Duration(*fc.ProcCacheTTLMs) * time.Millisecond
	}
	if fc.ModuleCacheCapacity != nil {
		ModuleCacheCapacity = *fc.ModuleCacheCapacity
	}
	if fc.ModuleCacheTTLMs != nil {
		ModuleCacheTTL = time.Duration(*fc.ModuleCacheTTLMs) * time.Millisecond
	}
	if fc.ReadChunkMax != nil {
		ReadChunkMax = *fc.ReadChunkMax
	}
	return nil
}
