package peers

import (
	"sync"

	"github.com/openfesta/festmesh/internal/model"
)

// fingerprintCache is a bounded-staleness lookaside for fingerprint ->
// identity resolution. The persistent store stays the source of truth: a
// Clear racing a populate costs one extra store round-trip at worst.
type fingerprintCache struct {
	mu sync.RWMutex
	m  map[string]*model.Identity
}

func newFingerprintCache() *fingerprintCache {
	return &fingerprintCache{m: make(map[string]*model.Identity)}
}

func (c *fingerprintCache) get(fp string) (*model.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ident, ok := c.m[fp]
	return ident, ok
}

func (c *fingerprintCache) put(fp string, ident *model.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[fp] = ident
}

// Clear drops every cached entry.
func (c *fingerprintCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]*model.Identity)
}

func (c *fingerprintCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
