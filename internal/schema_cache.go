package internal

import (
	"context"
	"sync"
	"time"

	"github.com/openlistings/facet"
	"go.uber.org/zap"
)

type cachedDefinitionList struct {
	defs      []facet.AttributeDefinition
	expiresAt time.Time
}

// CachedSchemaStore wraps a SchemaStore with a TTL read cache keyed by
// category. Listing reads dominate schema writes by orders of magnitude, so
// any write simply drops the whole cache rather than invalidating per key.
type CachedSchemaStore struct {
	inner facet.SchemaStore
	ttl   time.Duration
	now   func() time.Time

	mu         sync.RWMutex
	byCategory map[int64]cachedDefinitionList
	effective  map[int64]cachedDefinitionList
	searchable map[int64]cachedDefinitionList
}

// NewCachedSchemaStore wraps inner with a read cache. A non-positive ttl
// disables expiry until the next write.
func NewCachedSchemaStore(inner facet.SchemaStore, ttl time.Duration) *CachedSchemaStore {
	return &CachedSchemaStore{
		inner:      inner,
		ttl:        ttl,
		now:        time.Now,
		byCategory: make(map[int64]cachedDefinitionList),
		effective:  make(map[int64]cachedDefinitionList),
		searchable: make(map[int64]cachedDefinitionList),
	}
}

func (c *CachedSchemaStore) lookup(cache map[int64]cachedDefinitionList, categoryID int64) ([]facet.AttributeDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := cache[categoryID]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.defs, true
}

func (c *CachedSchemaStore) store(cache map[int64]cachedDefinitionList, categoryID int64, defs []facet.AttributeDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache[categoryID] = cachedDefinitionList{defs: defs, expiresAt: c.now().Add(c.ttl)}
}

func (c *CachedSchemaStore) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCategory = make(map[int64]cachedDefinitionList)
	c.effective = make(map[int64]cachedDefinitionList)
	c.searchable = make(map[int64]cachedDefinitionList)
	zap.S().Debugw("schema cache invalidated")
}

func (c *CachedSchemaStore) Create(ctx context.Context, def *facet.AttributeDefinition) (*facet.AttributeDefinition, error) {
	created, err := c.inner.Create(ctx, def)
	if err == nil {
		c.invalidate()
	}
	return created, err
}

// Get is served from the per-category caches when the definition is already
// resident, so repeated single-value validations avoid a round trip.
func (c *CachedSchemaStore) Get(ctx context.Context, id int64) (*facet.AttributeDefinition, error) {
	c.mu.RLock()
	for _, entry := range c.byCategory {
		if c.ttl > 0 && c.now().After(entry.expiresAt) {
			continue
		}
		for i := range entry.defs {
			if entry.defs[i].ID == id {
				def := entry.defs[i]
				c.mu.RUnlock()
				return &def, nil
			}
		}
	}
	c.mu.RUnlock()
	return c.inner.Get(ctx, id)
}

func (c *CachedSchemaStore) ListByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	if defs, ok := c.lookup(c.byCategory, categoryID); ok {
		return defs, nil
	}
	defs, err := c.inner.ListByCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	c.store(c.byCategory, categoryID, defs)
	return defs, nil
}

func (c *CachedSchemaStore) ListSearchableByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	if defs, ok := c.lookup(c.searchable, categoryID); ok {
		return defs, nil
	}
	defs, err := c.inner.ListSearchableByCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	c.store(c.searchable, categoryID, defs)
	return defs, nil
}

func (c *CachedSchemaStore) ListEffectiveByCategory(ctx context.Context, categoryID int64) ([]facet.AttributeDefinition, error) {
	if defs, ok := c.lookup(c.effective, categoryID); ok {
		return defs, nil
	}
	defs, err := c.inner.ListEffectiveByCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	c.store(c.effective, categoryID, defs)
	return defs, nil
}

func (c *CachedSchemaStore) Update(ctx context.Context, id int64, patch facet.DefinitionPatch) (*facet.AttributeDefinition, error) {
	updated, err := c.inner.Update(ctx, id, patch)
	if err == nil {
		c.invalidate()
	}
	return updated, err
}

func (c *CachedSchemaStore) Reorder(ctx context.Context, categoryID int64, orderedIDs []int64) error {
	err := c.inner.Reorder(ctx, categoryID, orderedIDs)
	if err == nil {
		c.invalidate()
	}
	return err
}

func (c *CachedSchemaStore) Delete(ctx context.Context, id int64) error {
	err := c.inner.Delete(ctx, id)
	if err == nil {
		c.invalidate()
	}
	return err
}
