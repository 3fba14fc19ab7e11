package services

import (
	"sync"

	"github.com/google/uuid"

	"github.com/orgstack/directory/modules/directory/domain/department"
)

// subtreeCache keeps recently read subtrees in memory keyed by the subtree
// root id. Every entry also records which department ids it contains so a
// mutation anywhere inside a cached subtree evicts it.
type subtreeCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*cachedSubtree
	index   map[uuid.UUID]map[uuid.UUID]struct{}
}

type cachedSubtree struct {
	Nodes []*department.Department
}

func newSubtreeCache() *subtreeCache {
	return &subtreeCache{
		entries: make(map[uuid.UUID]*cachedSubtree),
		index:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *subtreeCache) Get(rootID uuid.UUID) ([]*department.Department, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[rootID]
	if !ok {
		return nil, false
	}
	return entry.Nodes, true
}

func (c *subtreeCache) Set(rootID uuid.UUID, nodes []*department.Department) {
	if rootID == uuid.Nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rootID] = &cachedSubtree{Nodes: nodes}
	for _, node := range nodes {
		if _, ok := c.index[node.ID]; !ok {
			c.index[node.ID] = make(map[uuid.UUID]struct{})
		}
		c.index[node.ID][rootID] = struct{}{}
	}
}

// Invalidate evicts every cached subtree containing any of the given ids.
func (c *subtreeCache) Invalidate(reason string, ids ...uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := false
	for _, id := range ids {
		for rootID := range c.index[id] {
			delete(c.entries, rootID)
			evicted = true
		}
		delete(c.index, id)
		if _, ok := c.entries[id]; ok {
			delete(c.entries, id)
			evicted = true
		}
	}
	if evicted {
		recordCacheInvalidate(reason)
	}
}

func (c *subtreeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
