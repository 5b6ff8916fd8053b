package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the sturdyc settings of the in-process cache backend.
type Config struct {
	// Capacity is the maximum number of entries. Must be greater than 0.
	Capacity int `koanf:"capacity"`

	// NumShards spreads entries over independently locked shards.
	// Must be greater than 0. Default: 256
	NumShards int `koanf:"num_shards"`

	// TTL is how long an entry lives. The cache-aside layer sets no ttl of its
	// own, so this is the only eviction by age. Must be greater than 0.
	TTL time.Duration `koanf:"ttl"`

	// EvictionPercentage is the share of entries evicted when the cache is full.
	// Must be between 1-100. Default: 10
	EvictionPercentage int `koanf:"eviction_percentage"`

	// EvictionInterval sets how often expired entries are purged.
	// Zero keeps the sturdyc default.
	EvictionInterval time.Duration `koanf:"eviction_interval"`
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions returns the options that are not constructor arguments.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Store is an in-process string cache on a sturdyc client.
type Store struct {
	client *sturdyc.Client[string]
}

// NewStore validates cfg and creates the sturdyc client.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[string](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)
	return &Store{client: client}, nil
}

// Get returns the value stored at key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	return s.client.Get(key)
}

// Set stores value at key.
func (s *Store) Set(ctx context.Context, key, value string) {
	s.client.Set(key, value)
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) {
	for _, key := range keys {
		s.client.Delete(key)
	}
}
