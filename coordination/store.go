package coordination

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("coordination: key not found")
	ErrNilStore = errors.New("coordination: store is nil")
)

// Store is a key-value store with the atomic primitives needed for locks and
// cache entries. A ttl of zero means the key does not expire.
type Store interface {
	// SetIfAbsent stores value only if key does not exist and reports whether it did.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// CompareAndDelete deletes key only while it holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// CompareAndExpire resets the ttl of key only while it holds expected.
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
}
