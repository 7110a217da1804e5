package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/g960059/layoutsync/internal/api"
	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/persist"
)

// CacheKey names the cached layout, matching the key browsers keep it under.
const CacheKey = "ui-layout-cache"

// Cache mirrors the last hydrated layout so a client can render before the server
// answers. Implementations are best effort; callers ignore write failures.
type Cache interface {
	Load() (model.LayoutState, bool, error)
	Store(model.LayoutState) error
}

type FileCache struct {
	path string
	mu   sync.Mutex
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

func (c *FileCache) Path() string { return c.path }

type cacheDocument struct {
	Key    string          `json:"key"`
	Layout api.LayoutState `json:"layout"`
}

// Load reports false for a missing file. A file that cannot be decoded is an error
// and is treated by callers as a miss.
func (c *FileCache) Load() (model.LayoutState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.LayoutState{}, false, nil
	}
	if err != nil {
		return model.LayoutState{}, false, fmt.Errorf("read layout cache: %w", err)
	}
	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.LayoutState{}, false, fmt.Errorf("decode layout cache: %w", err)
	}
	if doc.Key != CacheKey || doc.Layout.Panels == nil {
		return model.LayoutState{}, false, nil
	}
	layout, err := doc.Layout.ToModel()
	if err != nil {
		return model.LayoutState{}, false, fmt.Errorf("decode layout cache: %w", err)
	}
	return layout, true, nil
}

func (c *FileCache) Store(layout model.LayoutState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(cacheDocument{Key: CacheKey, Layout: api.FromLayout(layout)})
	if err != nil {
		return fmt.Errorf("encode layout cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return persist.WriteFileAtomic(c.path, data)
}

type MemoryCache struct {
	mu     sync.Mutex
	layout *model.LayoutState
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Load() (model.LayoutState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.layout == nil {
		return model.LayoutState{}, false, nil
	}
	return c.layout.Clone(), true, nil
}

func (c *MemoryCache) Store(layout model.LayoutState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := layout.Clone()
	c.layout = &clone
	return nil
}
