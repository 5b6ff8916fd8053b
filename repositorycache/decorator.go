package repositorycache

import (
	"context"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"github.com/goliatone/go-repository-core/repository"
	"go.uber.org/zap"
)

const idKeyName = "id"

// CachedRepository decorates a tenant scoped repository with a read-through
// cache for single document lookups. Everything else passes through to the
// base repository.
type CachedRepository[D document.OrganizationDocument[ID], ID comparable] struct {
	base   *repository.Repository[D, ID]
	cache  *cache.Service
	typ    string
	tags   *tagRegistry
	logger *zap.Logger
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	typ    string
	logger *zap.Logger
}

// WithTypeName overrides the type segment of cache keys. Defaults to the
// snake_case name of D.
func WithTypeName(typ string) Option {
	return func(o *options) {
		o.typ = typ
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a CachedRepository that wraps base with caching
func New[D document.OrganizationDocument[ID], ID comparable](base *repository.Repository[D, ID], svc *cache.Service, opts ...Option) *CachedRepository[D, ID] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.typ == "" {
		o.typ = cache.TypeName[D]()
	}
	return &CachedRepository[D, ID]{
		base:   base,
		cache:  svc,
		typ:    o.typ,
		tags:   newTagRegistry(),
		logger: logger.OrNop(o.logger),
	}
}

// Base returns the wrapped repository.
func (c *CachedRepository[D, ID]) Base() *repository.Repository[D, ID] {
	return c.base
}

// TypeName returns the type segment used in cache keys.
func (c *CachedRepository[D, ID]) TypeName() string {
	return c.typ
}

// Get returns the live document of the calling tenant with id, from the cache
// when possible.
func (c *CachedRepository[D, ID]) Get(ctx context.Context, id ID) (D, error) {
	var zero D
	if id == *new(ID) {
		return zero, repository.ErrInvalidID
	}
	keys, err := c.readKeys(ctx, id)
	if err != nil {
		return zero, err
	}

	v, err := cache.GetByKeys(ctx, c.cache, c.typ, keys, func(ctx context.Context) (*D, error) {
		doc, err := c.base.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &doc, nil
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, repository.ErrNotFound
	}
	return *v, nil
}

// GetScoped behaves like Get. A cross-tenant read goes straight to the base
// repository.
func (c *CachedRepository[D, ID]) GetScoped(ctx context.Context, id ID, crossTenant bool) (D, error) {
	if crossTenant {
		return c.base.GetScoped(ctx, id, true)
	}
	return c.Get(ctx, id)
}

// GetAll passes through to the base repository.
func (c *CachedRepository[D, ID]) GetAll(ctx context.Context) ([]D, error) {
	return c.base.GetAll(ctx)
}

// GetAllScoped passes through to the base repository.
func (c *CachedRepository[D, ID]) GetAllScoped(ctx context.Context, crossTenant bool) ([]D, error) {
	return c.base.GetAllScoped(ctx, crossTenant)
}

// GetByFilter passes through to the base repository.
func (c *CachedRepository[D, ID]) GetByFilter(ctx context.Context, f repository.Filter[ID]) ([]D, error) {
	return c.base.GetByFilter(ctx, f)
}

// Count passes through to the base repository.
func (c *CachedRepository[D, ID]) Count(ctx context.Context, f repository.Filter[ID]) (int64, error) {
	return c.base.Count(ctx, f)
}

// Create passes through. A new document has nothing to invalidate.
func (c *CachedRepository[D, ID]) Create(ctx context.Context, doc D) error {
	return c.base.Create(ctx, doc)
}

func (c *CachedRepository[D, ID]) Update(ctx context.Context, doc D) error {
	if err := c.base.Update(ctx, doc); err != nil {
		return err
	}
	return c.invalidateAfterWrite(ctx, doc.DocumentID())
}

func (c *CachedRepository[D, ID]) SoftDelete(ctx context.Context, id ID) error {
	if err := c.base.SoftDelete(ctx, id); err != nil {
		return err
	}
	return c.invalidateAfterWrite(ctx, id)
}

func (c *CachedRepository[D, ID]) Restore(ctx context.Context, id ID) error {
	if err := c.base.Restore(ctx, id); err != nil {
		return err
	}
	return c.invalidateAfterWrite(ctx, id)
}

func (c *CachedRepository[D, ID]) Delete(ctx context.Context, id ID) error {
	if err := c.base.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.invalidateAfterWrite(ctx, id); err != nil {
		return err
	}
	// the document is gone for good
	if key, err := c.docKey(ctx, id); err == nil {
		c.tags.forget(key)
	}
	return nil
}

// Invalidate removes every cached entry of id for the calling tenant: the id
// entry and each tag it was read under.
func (c *CachedRepository[D, ID]) Invalidate(ctx context.Context, id ID) error {
	keys, err := c.writeKeys(ctx, id)
	if err != nil {
		return err
	}
	return c.cache.Remove(ctx, c.typ, keys)
}

// invalidateAfterWrite drops the entries now and, when the write was queued on
// a unit of work, again once it is saved so a read in between cannot leave a
// stale entry behind.
func (c *CachedRepository[D, ID]) invalidateAfterWrite(ctx context.Context, id ID) error {
	keys, err := c.writeKeys(ctx, id)
	if err != nil {
		return err
	}
	if err := c.cache.Remove(ctx, c.typ, keys); err != nil {
		logger.From(ctx, c.logger).Warn("cache invalidation failed",
			zap.String("type", c.typ), zap.Any("id", id), zap.Error(err))
		return err
	}
	if uow := c.base.UnitOfWork(); uow != nil {
		docKey := keys[idKeyName]
		uow.AfterSave(func(ctx context.Context) {
			// tags registered by reads made before the save
			for _, tag := range c.tags.lookup(docKey) {
				keys[tag] = docKey
			}
			if err := c.cache.Remove(ctx, c.typ, keys); err != nil {
				logger.From(ctx, c.logger).Warn("cache invalidation after save failed",
					zap.String("type", c.typ), zap.Any("id", id), zap.Error(err))
			}
		})
	}
	return nil
}

// docKey returns the cache key of id. It is prefixed with the calling tenant
// so entries never cross tenants.
func (c *CachedRepository[D, ID]) docKey(ctx context.Context, id ID) (string, error) {
	tenantID, err := c.base.Tenant(ctx)
	if err != nil {
		return "", err
	}
	return tenantID + ":" + cache.FormatKey(id), nil
}

// readKeys returns the lookup keys of id for a read: the id key plus the tags
// on ctx, which are registered for later writes.
func (c *CachedRepository[D, ID]) readKeys(ctx context.Context, id ID) (map[string]string, error) {
	key, err := c.docKey(ctx, id)
	if err != nil {
		return nil, err
	}
	tags := cacheTagsFromContext(ctx)
	c.tags.register(key, tags)
	return keyMap(key, tags), nil
}

// writeKeys returns every key id may be cached under: the id key, the tags on
// ctx and each tag registered by earlier reads.
func (c *CachedRepository[D, ID]) writeKeys(ctx context.Context, id ID) (map[string]string, error) {
	key, err := c.docKey(ctx, id)
	if err != nil {
		return nil, err
	}
	return keyMap(key, append(c.tags.lookup(key), cacheTagsFromContext(ctx)...)), nil
}

func keyMap(key string, tags []string) map[string]string {
	keys := map[string]string{idKeyName: key}
	for _, tag := range tags {
		keys[tag] = key
	}
	return keys
}
