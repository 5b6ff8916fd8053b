package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-repository-core/coordination"
	"github.com/goliatone/go-repository-core/internal/cacheinfra"
)

// Repository stores serialized cache entries. Eviction belongs to the backend.
type Repository interface {
	// Get returns ErrNotFound on a miss.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

type coordinationRepository struct {
	store coordination.Store
	ttl   time.Duration
}

// NewCoordinationRepository stores entries in a coordination store such as
// redis. A zero ttl leaves entries without expiry.
func NewCoordinationRepository(store coordination.Store, ttl time.Duration) Repository {
	return &coordinationRepository{store: store, ttl: ttl}
}

func (r *coordinationRepository) Get(ctx context.Context, key string) (string, error) {
	v, err := r.store.Get(ctx, key)
	if errors.Is(err, coordination.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *coordinationRepository) Set(ctx context.Context, key, value string) error {
	return r.store.Set(ctx, key, value, r.ttl)
}

func (r *coordinationRepository) Delete(ctx context.Context, keys ...string) error {
	return r.store.Delete(ctx, keys...)
}

type memoryRepository struct {
	store *cacheinfra.Store
}

// NewMemoryRepository creates an in-process repository on sturdyc.
func NewMemoryRepository(cfg Config) (Repository, error) {
	store, err := cacheinfra.NewStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return &memoryRepository{store: store}, nil
}

func (r *memoryRepository) Get(ctx context.Context, key string) (string, error) {
	v, ok := r.store.Get(ctx, key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (r *memoryRepository) Set(ctx context.Context, key, value string) error {
	r.store.Set(ctx, key, value)
	return nil
}

func (r *memoryRepository) Delete(ctx context.Context, keys ...string) error {
	r.store.Delete(ctx, keys...)
	return nil
}
