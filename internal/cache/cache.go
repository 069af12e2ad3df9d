// Package cache holds the per-account projection of images and derived stats.
// A ViewCache is created when a session starts and discarded at sign-out; the
// controller and reconciler share it by reference.
package cache

import (
	"sync"

	"imagewatch/internal/domain"
)

// An entry is fresh while its generation matches the cache's current one.
// Invalidation bumps the generation, so marking stale is idempotent and a
// fetch that raced an invalidation is stored already stale.
type imageEntry struct {
	images []domain.Image
	gen    uint64
	stale  bool
}

type statsEntry struct {
	stats domain.Stats
	gen   uint64
}

type complianceEntry struct {
	compliance domain.Compliance
	gen        uint64
}

// ViewCache caches image lists (keyed by filter) and stats for one account.
type ViewCache struct {
	mu        sync.Mutex
	accountID string

	images    map[string]*imageEntry
	imagesGen uint64

	stats      *statsEntry
	compliance *complianceEntry
	statsGen   uint64

	pending map[uint64]*PendingMutation
	nextID  uint64
	closed  bool
}

func New(accountID string) *ViewCache {
	return &ViewCache{
		accountID: accountID,
		images:    make(map[string]*imageEntry),
		pending:   make(map[uint64]*PendingMutation),
	}
}

func (c *ViewCache) AccountID() string { return c.accountID }

// Images returns the cached list for key and whether it is fresh. A stale
// list is still returned so callers can serve it while refreshing.
func (c *ViewCache) Images(key string) ([]domain.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.images[key]
	if !ok {
		return nil, false
	}
	return cloneImages(e.images), !e.stale && e.gen == c.imagesGen
}

// ImagesGeneration returns a token to pass to PutImages. Take it before
// querying the store.
func (c *ViewCache) ImagesGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imagesGen
}

// PutImages stores a list fetched at generation gen.
func (c *ViewCache) PutImages(key string, images []domain.Image, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.images[key] = &imageEntry{images: cloneImages(images), gen: gen}
}

func (c *ViewCache) InvalidateImages() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imagesGen++
}

func (c *ViewCache) Stats() (domain.Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats == nil {
		return domain.Stats{}, false
	}
	return c.stats.stats, c.stats.gen == c.statsGen
}

func (c *ViewCache) Compliance() (domain.Compliance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compliance == nil {
		return domain.Compliance{}, false
	}
	return c.compliance.compliance, c.compliance.gen == c.statsGen
}

func (c *ViewCache) StatsGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsGen
}

func (c *ViewCache) PutStats(s domain.Stats, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stats = &statsEntry{stats: s, gen: gen}
}

// PutCompliance stores a compliance summary. It goes stale together with stats.
func (c *ViewCache) PutCompliance(cp domain.Compliance, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.compliance = &complianceEntry{compliance: cp, gen: gen}
}

func (c *ViewCache) InvalidateStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statsGen++
}

// Close drops all cached state. Later writes are ignored.
func (c *ViewCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.images = make(map[string]*imageEntry)
	c.stats = nil
	c.compliance = nil
	c.pending = make(map[uint64]*PendingMutation)
}

func cloneImages(in []domain.Image) []domain.Image {
	if in == nil {
		return nil
	}
	out := make([]domain.Image, len(in))
	for i, img := range in {
		out[i] = img.Clone()
	}
	return out
}
