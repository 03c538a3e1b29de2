// Package cache provides caching for previews and structure queries.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PreviewCacheSizeMB int
	PreviewTTL         time.Duration
	StructureCacheSize int
}

// Manager manages the preview image and structure document caches.
type Manager struct {
	previewCache   *bigcache.BigCache
	structureCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	previewConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.PreviewTTL,
		CleanWindow:        cfg.PreviewTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       1024 * 1024, // 1MB per rendered preview
		HardMaxCacheSize:   cfg.PreviewCacheSizeMB,
		Verbose:            false,
	}

	previewCache, err := bigcache.New(context.Background(), previewConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview cache: %w", err)
	}

	structureCache, err := lru.New[string, []byte](cfg.StructureCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create structure cache: %w", err)
	}

	return &Manager{
		previewCache:   previewCache,
		structureCache: structureCache,
	}, nil
}

// GetPreview retrieves a rendered preview from cache.
func (m *Manager) GetPreview(key string) ([]byte, bool) {
	data, err := m.previewCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPreview stores a rendered preview in cache.
func (m *Manager) SetPreview(key string, data []byte) error {
	return m.previewCache.Set(key, data)
}

// GetStructure retrieves a structure document from cache.
func (m *Manager) GetStructure(key string) ([]byte, bool) {
	return m.structureCache.Get(key)
}

// SetStructure stores a structure document in cache.
func (m *Manager) SetStructure(key string, data []byte) {
	m.structureCache.Add(key, data)
}

// InvalidateStructure drops the structure document of one file.
func (m *Manager) InvalidateStructure(key string) {
	m.structureCache.Remove(key)
}

// PreviewKey generates a cache key for a rendered dataset preview.
func PreviewKey(fileID int64, dataset string, layer int, colormap string) string {
	return fmt.Sprintf("preview:%d:%s:%d:%s", fileID, dataset, layer, colormap)
}

// StructureKey generates a cache key for a file's structure document.
func StructureKey(fileID int64) string {
	return fmt.Sprintf("structure:%d", fileID)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"preview_cache_len":   m.previewCache.Len(),
		"preview_cache_cap":   m.previewCache.Capacity(),
		"structure_cache_len": m.structureCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.previewCache.Close()
}
