package coordination

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Store on go-cache. It only coordinates goroutines of
// one process; use Redis across instances.
type Memory struct {
	mu    sync.Mutex
	items *gocache.Cache
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store. Expired keys are purged every cleanup
// interval; they are never visible after expiry regardless.
func NewMemory(cleanup time.Duration) *Memory {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Memory{items: gocache.New(gocache.NoExpiration, cleanup)}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (m *Memory) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Add fails when an unexpired item exists
	if err := m.items.Add(key, value, expiration(ttl)); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Set(key, value, expiration(ttl))
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, ok := m.items.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.items.Delete(k)
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := m.items.Get(key)
	return ok, nil
}

func (m *Memory) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items.Get(key)
	if !ok || v.(string) != expected {
		return false, nil
	}
	m.items.Delete(key)
	return true, nil
}

func (m *Memory) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items.Get(key)
	if !ok || v.(string) != expected {
		return false, nil
	}
	m.items.Set(key, v, expiration(ttl))
	return true, nil
}
