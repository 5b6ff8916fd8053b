package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"github.com/goliatone/go-repository-core/tenant"
	"github.com/goliatone/go-repository-core/unitofwork"
	"go.uber.org/zap"
)

var (
	ErrNotFound           = errors.New("repository: document not found")
	ErrIntegrityViolation = errors.New("repository: more than one document matched a unique id")
	ErrTenantMismatch     = errors.New("repository: document belongs to another tenant")
	ErrInvalidID          = errors.New("repository: id is required")
)

// Index name of the compound tenant index created by EnsureIndexes.
const TenantIndexName = "organizationId_1_isDeleted_1"

// Repository is the tenant scoped base for one collection of organization
// documents. D is normally a pointer to a struct embedding
// document.OrganizationBase.
//
// Reads apply the tenant of the calling context unless the call opts into a
// wider scope. Writes are scoped to the calling tenant and, when a unit of work
// is configured, queued on it until SaveChanges.
type Repository[D document.OrganizationDocument[ID], ID comparable] struct {
	collection document.Collection
	provider   tenant.Provider
	uow        *unitofwork.UnitOfWork
	logger     *zap.Logger
	name       string
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	uow    *unitofwork.UnitOfWork
	logger *zap.Logger
	name   string
}

// WithUnitOfWork defers writes to uow.
func WithUnitOfWork(uow *unitofwork.UnitOfWork) Option {
	return func(o *options) {
		o.uow = uow
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithName overrides the name used in logs. Defaults to the collection name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// New creates a repository over collection. A nil provider reads the tenant
// from the context.
func New[D document.OrganizationDocument[ID], ID comparable](collection document.Collection, provider tenant.Provider, opts ...Option) *Repository[D, ID] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if provider == nil {
		provider = tenant.ContextProvider{}
	}
	if o.name == "" {
		o.name = collection.Name()
	}
	return &Repository[D, ID]{
		collection: collection,
		provider:   provider,
		uow:        o.uow,
		logger:     logger.OrNop(o.logger).With(logger.Collection(o.name)),
		name:       o.name,
	}
}

func (r *Repository[D, ID]) Name() string {
	return r.name
}

func (r *Repository[D, ID]) Collection() document.Collection {
	return r.collection
}

func (r *Repository[D, ID]) UnitOfWork() *unitofwork.UnitOfWork {
	return r.uow
}

// BuildPredicates resolves the filter scope and composes the store filter.
// Every read and every read-modify write goes through it.
func (r *Repository[D, ID]) BuildPredicates(ctx context.Context, f Filter[ID]) (document.Filter, error) {
	scope, err := f.Scope.Resolve(ctx, r.provider)
	if err != nil {
		return nil, err
	}
	return compose(f, scope), nil
}

// Get returns the document with id owned by the calling tenant.
func (r *Repository[D, ID]) Get(ctx context.Context, id ID) (D, error) {
	return r.GetScoped(ctx, id, false)
}

// GetScoped returns the document with id. With crossTenant the tenant
// predicate is dropped.
func (r *Repository[D, ID]) GetScoped(ctx context.Context, id ID, crossTenant bool) (D, error) {
	var zero D
	var zeroID ID
	if id == zeroID {
		return zero, ErrInvalidID
	}
	docs, err := r.GetByFilter(ctx, Filter[ID]{ID: id, Scope: crossTenantScope(crossTenant)})
	if err != nil {
		return zero, err
	}
	switch len(docs) {
	case 0:
		return zero, ErrNotFound
	case 1:
		return docs[0], nil
	default:
		logger.From(ctx, r.logger).Error("duplicate documents for id",
			zap.Any("id", id), logger.Count(len(docs)))
		return zero, fmt.Errorf("%w: %v in %s", ErrIntegrityViolation, id, r.name)
	}
}

// GetAll returns every live document of the calling tenant.
func (r *Repository[D, ID]) GetAll(ctx context.Context) ([]D, error) {
	return r.GetAllScoped(ctx, false)
}

// GetAllScoped returns every live document, across tenants when crossTenant is set.
func (r *Repository[D, ID]) GetAllScoped(ctx context.Context, crossTenant bool) ([]D, error) {
	return r.GetByFilter(ctx, Filter[ID]{Scope: crossTenantScope(crossTenant)})
}

// GetByFilter returns every document matching f.
func (r *Repository[D, ID]) GetByFilter(ctx context.Context, f Filter[ID]) ([]D, error) {
	preds, err := r.BuildPredicates(ctx, f)
	if err != nil {
		return nil, err
	}
	var docs []D
	if err := r.collection.Find(ctx, preds, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Count returns the number of documents matching f.
func (r *Repository[D, ID]) Count(ctx context.Context, f Filter[ID]) (int64, error) {
	preds, err := r.BuildPredicates(ctx, f)
	if err != nil {
		return 0, err
	}
	return r.collection.Count(ctx, preds)
}

// Query maps an entity filter with mapper and runs it.
func Query[F any, D document.OrganizationDocument[ID], ID comparable](ctx context.Context, r *Repository[D, ID], f F, mapper Mapper[F, ID]) ([]D, error) {
	return r.GetByFilter(ctx, mapper(f))
}

func crossTenantScope(crossTenant bool) tenant.Scope {
	if crossTenant {
		return tenant.All()
	}
	return tenant.Current()
}
