// Package lock provides owner-checked resource locks on a coordination store.
//
// A lock moves from unlocked to locked by one owner and back. Only the owner
// can release or refresh it, and an unrefreshed lock expires after its ttl.
// Losing a race is reported as false, never as an error; errors mean the store
// itself failed.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-repository-core/coordination"
	"github.com/goliatone/go-repository-core/metrics"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"go.uber.org/zap"
)

const (
	DefaultTTL       = 3 * time.Minute
	DefaultKeyPrefix = "lock:"
)

var (
	ErrEmptyResource = errors.New("lock: resource id is required")
	ErrEmptyOwner    = errors.New("lock: owner id is required")
)

// Config holds the lock settings loaded by the config package.
type Config struct {
	TTL       time.Duration `koanf:"ttl" validate:"gt=0"`
	KeyPrefix string        `koanf:"key_prefix"`
}

// DefaultConfig returns the default lock settings.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, KeyPrefix: DefaultKeyPrefix}
}

// Service acquires and releases locks keyed by resource id.
type Service struct {
	store   coordination.Store
	ttl     time.Duration
	prefix  string
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets how long a lock lives without a refresh. Non-positive values
// are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces lock keys in the store.
func WithKeyPrefix(prefix string) Option {
	return func(s *Service) {
		s.prefix = prefix
	}
}

// WithConfig applies cfg. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		WithTTL(cfg.TTL)(s)
		if cfg.KeyPrefix != "" {
			s.prefix = cfg.KeyPrefix
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a lock service over store.
func New(store coordination.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, coordination.ErrNilStore
	}
	s := &Service{
		store:  store,
		ttl:    DefaultTTL,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNop(s.logger)
	return s, nil
}

// TTL returns the lifetime of a new or refreshed lock.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// CreateLock locks resourceID for ownerID if it is not locked. It reports
// false when another owner, or the same one, already holds it.
func (s *Service) CreateLock(ctx context.Context, resourceID, ownerID string) (bool, error) {
	if err := validate(resourceID, ownerID); err != nil {
		return false, err
	}
	ok, err := s.store.SetIfAbsent(ctx, s.key(resourceID), ownerID, s.ttl)
	s.metrics.LockOperation("create", ok, err)
	if err != nil {
		return false, err
	}
	s.log(ctx, resourceID, ownerID).Debug("lock create", zap.Bool("acquired", ok))
	return ok, nil
}

// ReleaseLock unlocks resourceID if ownerID holds it. A lock held by anyone
// else is left alone and false is returned.
func (s *Service) ReleaseLock(ctx context.Context, resourceID, ownerID string) (bool, error) {
	if err := validate(resourceID, ownerID); err != nil {
		return false, err
	}
	ok, err := s.store.CompareAndDelete(ctx, s.key(resourceID), ownerID)
	s.metrics.LockOperation("release", ok, err)
	if err != nil {
		return false, err
	}
	s.log(ctx, resourceID, ownerID).Debug("lock release", zap.Bool("released", ok))
	return ok, nil
}

// RefreshLock resets the ttl of resourceID if ownerID holds it. A lock that
// expired or changed hands is a silent no-op.
func (s *Service) RefreshLock(ctx context.Context, resourceID, ownerID string) error {
	if err := validate(resourceID, ownerID); err != nil {
		return err
	}
	ok, err := s.store.CompareAndExpire(ctx, s.key(resourceID), ownerID, s.ttl)
	s.metrics.LockOperation("refresh", ok, err)
	if err != nil {
		return err
	}
	if !ok {
		s.log(ctx, resourceID, ownerID).Warn("lock refresh skipped, not held by owner")
	}
	return nil
}

// CheckLocked reports whether anyone holds resourceID.
func (s *Service) CheckLocked(ctx context.Context, resourceID string) (bool, error) {
	if resourceID == "" {
		return false, ErrEmptyResource
	}
	return s.store.Exists(ctx, s.key(resourceID))
}

// Owner returns the current holder of resourceID, if any.
func (s *Service) Owner(ctx context.Context, resourceID string) (string, bool, error) {
	if resourceID == "" {
		return "", false, ErrEmptyResource
	}
	owner, err := s.store.Get(ctx, s.key(resourceID))
	if errors.Is(err, coordination.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

func (s *Service) key(resourceID string) string {
	return s.prefix + resourceID
}

func (s *Service) log(ctx context.Context, resourceID, ownerID string) *zap.Logger {
	return logger.From(ctx, s.logger).With(logger.ResourceID(resourceID), logger.OwnerID(ownerID))
}

func validate(resourceID, ownerID string) error {
	if resourceID == "" {
		return ErrEmptyResource
	}
	if ownerID == "" {
		return ErrEmptyOwner
	}
	return nil
}
