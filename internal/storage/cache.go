package storage

import (
	"context"
	"sync"
)

// FolderCache memoizes each backend's folder discovery set so repeated
// tool calls within a conversation do not re-list folders. Entries are
// filled on first use and can be invalidated explicitly.
type FolderCache struct {
	mu      sync.Mutex
	folders map[Backend][]Folder
}

// NewFolderCache creates an empty cache.
func NewFolderCache() *FolderCache {
	return &FolderCache{folders: make(map[Backend][]Folder)}
}

// Folders returns the cached discovery set for the adapter's backend,
// fetching it on a miss. Errors are not cached.
func (c *FolderCache) Folders(ctx context.Context, adapter Adapter) ([]Folder, error) {
	backend := adapter.Backend()

	c.mu.Lock()
	if cached, ok := c.folders[backend]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	fetched, err := adapter.Folders(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.folders[backend] = fetched
	c.mu.Unlock()
	return fetched, nil
}

// Invalidate drops the cached set for one backend.
func (c *FolderCache) Invalidate(backend Backend) {
	c.mu.Lock()
	delete(c.folders, backend)
	c.mu.Unlock()
}

// Reset drops all cached sets.
func (c *FolderCache) Reset() {
	c.mu.Lock()
	c.folders = make(map[Backend][]Folder)
	c.mu.Unlock()
}
