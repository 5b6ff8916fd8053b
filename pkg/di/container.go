package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/config"
	"github.com/goliatone/go-repository-core/coordination"
	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/lock"
	"github.com/goliatone/go-repository-core/memstore"
	"github.com/goliatone/go-repository-core/metrics"
	"github.com/goliatone/go-repository-core/mongostore"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"github.com/goliatone/go-repository-core/repository"
	"github.com/goliatone/go-repository-core/repositorycache"
	"github.com/goliatone/go-repository-core/sqlstore"
	"github.com/goliatone/go-repository-core/tenant"
	"github.com/goliatone/go-repository-core/transaction"
	"github.com/goliatone/go-repository-core/txbuilder"
	"github.com/goliatone/go-repository-core/unitofwork"
	"go.uber.org/zap"
)

// memoryStoreCleanup is how often the in-process coordination store drops
// expired keys.
const memoryStoreCleanup = time.Minute

// Container wires the services of a process from one Config. Services are
// singletons; units of work, builders and repositories are created per call.
type Container struct {
	config   config.Config
	client   document.Client
	store    coordination.Store
	logger   *zap.Logger
	metrics  *metrics.Collectors
	provider tenant.Provider

	cacheService *cache.Service
	lockService  *lock.Service
	txService    *transaction.Service

	closers []func(context.Context) error
}

// Option overrides a dependency the container would otherwise build from config.
type Option func(*Container)

// WithClient uses client instead of connecting the configured driver. The
// caller keeps ownership and Close does not disconnect it.
func WithClient(client document.Client) Option {
	return func(c *Container) {
		c.client = client
	}
}

// WithStore uses store for locks and redis-backed cache entries. The caller
// keeps ownership.
func WithStore(store coordination.Store) Option {
	return func(c *Container) {
		c.store = store
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Container) {
		c.logger = l
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Container) {
		c.metrics = m
	}
}

// WithTenantProvider sets how repositories find the calling tenant. Default:
// tenant.ContextProvider.
func WithTenantProvider(p tenant.Provider) Option {
	return func(c *Container) {
		c.provider = p
	}
}

// NewContainer validates cfg and builds every service it describes.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.New(cfg.Logger)
	}
	if c.provider == nil {
		c.provider = tenant.ContextProvider{}
	}

	if err := c.init(ctx); err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return c, nil
}

// NewContainerWithDefaults builds a container from config.Default: in-memory
// documents, cache and locks.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.Default(), opts...)
}

func (c *Container) init(ctx context.Context) error {
	if c.client == nil {
		client, err := openClient(ctx, c.config.Document)
		if err != nil {
			return err
		}
		c.client = client
		c.closers = append(c.closers, client.Disconnect)
	}

	if c.store == nil {
		if c.config.Redis.Addr != "" {
			store, err := coordination.NewRedis(ctx, c.config.Redis)
			if err != nil {
				return err
			}
			c.store = store
			c.closers = append(c.closers, func(context.Context) error { return store.Close() })
		} else {
			c.store = coordination.NewMemory(memoryStoreCleanup)
		}
	}

	repo, err := c.cacheRepository()
	if err != nil {
		return err
	}
	c.cacheService = cache.NewService(repo,
		cache.WithLogger(c.logger),
		cache.WithMetrics(c.metrics),
	)

	c.lockService, err = lock.New(c.store,
		lock.WithConfig(c.config.Lock),
		lock.WithLogger(c.logger),
		lock.WithMetrics(c.metrics),
	)
	if err != nil {
		return err
	}

	c.txService = transaction.NewService(c.client.Database(c.config.Document.Database),
		transaction.WithLogger(c.logger),
	)

	c.logger.Info("container ready",
		zap.String("driver", c.config.Document.Driver),
		zap.String("cache_backend", c.config.Cache.Backend),
		logger.Database(c.config.Document.Database),
	)
	return nil
}

func (c *Container) cacheRepository() (cache.Repository, error) {
	if c.config.Cache.Backend == cache.BackendRedis {
		return cache.NewCoordinationRepository(c.store, c.config.Cache.RedisTTL), nil
	}
	return cache.NewMemoryRepository(c.config.Cache)
}

func openClient(ctx context.Context, cfg config.DocumentConfig) (document.Client, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return memstore.NewClient(), nil
	case config.DriverMongo:
		return mongostore.Connect(ctx, cfg.URI, cfg.ConnectTimeout)
	case config.DriverSQLite:
		return sqlstore.Open(cfg.URI)
	default:
		return nil, fmt.Errorf("di: unknown document driver %q", cfg.Driver)
	}
}

// Config returns a copy of the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

func (c *Container) Client() document.Client {
	return c.client
}

// Database returns the configured logical database.
func (c *Container) Database() document.Database {
	return c.client.Database(c.config.Document.Database)
}

func (c *Container) Store() coordination.Store {
	return c.store
}

func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Metrics returns the collectors services report to, nil when none were given.
func (c *Container) Metrics() *metrics.Collectors {
	return c.metrics
}

func (c *Container) CacheService() *cache.Service {
	return c.cacheService
}

func (c *Container) LockService() *lock.Service {
	return c.lockService
}

func (c *Container) TransactionService() *transaction.Service {
	return c.txService
}

func (c *Container) TenantProvider() tenant.Provider {
	return c.provider
}

// NewUnitOfWork returns a unit of work on the configured database. opts are
// applied after the configured ones.
func (c *Container) NewUnitOfWork(opts ...unitofwork.Option) *unitofwork.UnitOfWork {
	base := []unitofwork.Option{
		unitofwork.WithConfig(c.config.UnitOfWork),
		unitofwork.WithDatabase(c.config.Document.Database),
		unitofwork.WithLogger(c.logger),
		unitofwork.WithMetrics(c.metrics),
	}
	return unitofwork.New(unitofwork.ClientConnector(c.client), append(base, opts...)...)
}

// NewBuilder returns a transaction builder with its own unit of work.
func (c *Container) NewBuilder() *txbuilder.Builder {
	return txbuilder.New(c.txService, c.NewUnitOfWork())
}

// NewRepository creates a tenant scoped repository over collection of the
// configured database.
//
// Since Go methods cannot have type parameters, this is a package-level function.
// Example: NewRepository[*User, string](container, "users")
func NewRepository[D document.OrganizationDocument[ID], ID comparable](c *Container, collection string, opts ...repository.Option) *repository.Repository[D, ID] {
	base := []repository.Option{repository.WithLogger(c.logger)}
	return repository.New[D, ID](c.Database().Collection(collection), c.provider, append(base, opts...)...)
}

// NewCachedRepository wraps base with the container's cache service.
func NewCachedRepository[D document.OrganizationDocument[ID], ID comparable](c *Container, base *repository.Repository[D, ID], opts ...repositorycache.Option) *repositorycache.CachedRepository[D, ID] {
	all := []repositorycache.Option{repositorycache.WithLogger(c.logger)}
	return repositorycache.New(base, c.cacheService, append(all, opts...)...)
}

// Close releases the client and store the container opened itself, in reverse
// order. Injected dependencies are left alone.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	_ = c.logger.Sync()
	return errors.Join(errs...)
}
