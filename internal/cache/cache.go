// Package cache provides caching for rendered plots and extracted vectors.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spatialbridge/server/internal/sdata"
)

// Config contains cache configuration.
type Config struct {
	PlotCacheSizeMB int
	PlotTTL         time.Duration
	VectorCacheSize int
}

// Manager manages the rendered-plot cache and the extracted-vector cache.
// Plots are PNG byte blobs kept in bigcache; vectors are small structured
// values kept in an LRU.
type Manager struct {
	plotCache   *bigcache.BigCache
	vectorCache *lru.Cache[string, *sdata.Vector]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.PlotTTL <= 0 {
		cfg.PlotTTL = 10 * time.Minute
	}
	if cfg.PlotCacheSizeMB <= 0 {
		cfg.PlotCacheSizeMB = 128
	}
	if cfg.VectorCacheSize <= 0 {
		cfg.VectorCacheSize = 256
	}

	plotCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.PlotTTL,
		CleanWindow:        cfg.PlotTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024,
		HardMaxCacheSize:   cfg.PlotCacheSizeMB,
		Verbose:            false,
	}
	plotCache, err := bigcache.New(context.Background(), plotCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create plot cache: %w", err)
	}

	vectorCache, err := lru.New[string, *sdata.Vector](cfg.VectorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector cache: %w", err)
	}

	return &Manager{plotCache: plotCache, vectorCache: vectorCache}, nil
}

// GetPlot retrieves a rendered plot from cache.
func (m *Manager) GetPlot(key string) ([]byte, bool) {
	data, err := m.plotCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPlot stores a rendered plot in cache.
func (m *Manager) SetPlot(key string, data []byte) error {
	return m.plotCache.Set(key, data)
}

// GetVector retrieves an extracted vector from cache.
func (m *Manager) GetVector(key string) (*sdata.Vector, bool) {
	return m.vectorCache.Get(key)
}

// SetVector stores an extracted vector in cache.
func (m *Manager) SetVector(key string, v *sdata.Vector) {
	m.vectorCache.Add(key, v)
}

// PlotKey generates a cache key for a rendered plot.
func PlotKey(dataset, table, xColumn, yColumn, colorColumn string, normalized bool) string {
	base := fmt.Sprintf("plot:%s:%s:%s:%s:%s:%t", dataset, table, xColumn, yColumn, colorColumn, normalized)
	h := sha256.Sum256([]byte(base))
	return "plot:" + hex.EncodeToString(h[:])[:16]
}

// VectorKey generates a cache key for an extracted vector.
func VectorKey(dataset, table, column string, normalized bool) string {
	return fmt.Sprintf("vec:%s:%s:%s:%t", dataset, table, column, normalized)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"plot_cache_len":   m.plotCache.Len(),
		"plot_cache_cap":   m.plotCache.Capacity(),
		"vector_cache_len": m.vectorCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.plotCache.Close()
}
