package cache

import "imagewatch/internal/domain"

// PendingMutation is an optimistic change applied to the cache ahead of the
// store write. It keeps the pre-mutation snapshot of every list it touched.
type PendingMutation struct {
	id       uint64
	ImageIDs []string
	snapshot map[string][]domain.Image
}

// BeginRemove optimistically removes the given images from every cached list.
func (c *ViewCache) BeginRemove(imageIDs ...string) *PendingMutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	m := &PendingMutation{id: c.nextID, ImageIDs: imageIDs, snapshot: make(map[string][]domain.Image)}
	drop := make(map[string]bool, len(imageIDs))
	for _, id := range imageIDs {
		drop[id] = true
	}
	for key, e := range c.images {
		m.snapshot[key] = cloneImages(e.images)
		kept := e.images[:0:0]
		for _, img := range e.images {
			if !drop[img.ID] {
				kept = append(kept, img)
			}
		}
		e.images = kept
	}
	c.pending[m.id] = m
	return m
}

// Commit discards the snapshot once the store confirmed the write.
func (c *ViewCache) Commit(m *PendingMutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, m.id)
}

// Rollback restores the lists captured by m. Restored lists are marked stale
// so the next read reconciles them with the store.
func (c *ViewCache) Rollback(m *PendingMutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[m.id]; !ok {
		return
	}
	delete(c.pending, m.id)
	if c.closed {
		return
	}
	for key, imgs := range m.snapshot {
		c.images[key] = &imageEntry{images: imgs, gen: c.imagesGen, stale: true}
	}
}

// Pending reports the number of unconfirmed optimistic mutations.
func (c *ViewCache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
