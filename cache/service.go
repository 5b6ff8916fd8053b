package cache

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"

	"github.com/goliatone/go-repository-core/metrics"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"go.uber.org/zap"
)

// PopulateFn loads a value from the source of truth after a miss. A nil result
// is returned to the caller but never cached. Concurrent misses on the same key
// may each call it, so it must be idempotent.
type PopulateFn[T any] func(ctx context.Context) (*T, error)

// Codec turns values into cache payloads and back.
type Codec interface {
	Marshal(v any) (string, error)
	Unmarshal(data string, v any) error
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func (JSONCodec) Unmarshal(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}

// Service implements cache-aside reads and multi-key writes over a Repository.
type Service struct {
	repo       Repository
	serializer KeySerializer
	codec      Codec
	logger     *zap.Logger
	metrics    *metrics.Collectors
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithKeySerializer(ks KeySerializer) ServiceOption {
	return func(s *Service) {
		if ks != nil {
			s.serializer = ks
		}
	}
}

func WithCodec(c Codec) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.codec = c
		}
	}
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Collectors) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a cache-aside service over repo.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:       repo,
		serializer: NewDefaultKeySerializer(),
		codec:      JSONCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNop(s.logger)
	return s
}

// Key returns the composite key for one lookup.
func (s *Service) Key(typ, keyName, key string) string {
	return s.serializer.SerializeKey(typ, keyName, key)
}

// keys serializes a keyName->key map in keyName order.
func (s *Service) keys(typ string, keys map[string]string) []string {
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, len(names))
	for i, name := range names {
		out[i] = s.Key(typ, name, keys[name])
	}
	return out
}

// Get returns the value cached under (typ, keyName, key), calling populate and
// caching its result on a miss.
func Get[T any](ctx context.Context, s *Service, typ, keyName, key string, populate PopulateFn[T]) (*T, error) {
	return GetByKeys(ctx, s, typ, map[string]string{keyName: key}, populate)
}

// GetByKeys looks the value up under each key in turn and returns the first
// hit. On a full miss populate runs once and its result is cached under every
// key. A payload that cannot be decoded is returned as a *DecodeError.
func GetByKeys[T any](ctx context.Context, s *Service, typ string, keys map[string]string, populate PopulateFn[T]) (*T, error) {
	if s == nil || s.repo == nil {
		return nil, ErrNilRepo
	}
	log := logger.From(ctx, s.logger)
	cacheKeys := s.keys(typ, keys)

	for _, k := range cacheKeys {
		raw, err := s.repo.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var v T
		if err := s.codec.Unmarshal(raw, &v); err != nil {
			log.Error("cache payload cannot be decoded", logger.CacheKey(k), zap.Error(err))
			return nil, &DecodeError{Key: k, Err: err}
		}
		s.metrics.CacheHit(typ)
		return &v, nil
	}
	s.metrics.CacheMiss(typ)

	if populate == nil {
		return nil, ErrNotFound
	}
	v, err := populate(ctx)
	s.metrics.CachePopulated(typ, err)
	if err != nil || v == nil {
		return v, err
	}
	if err := s.store(ctx, cacheKeys, v); err != nil {
		return nil, err
	}
	log.Debug("cache populated", zap.String("type", typ), logger.Count(len(cacheKeys)))
	return v, nil
}

// Set caches value under every key. A nil keys map or a nil value does nothing.
func (s *Service) Set(ctx context.Context, typ string, keys map[string]string, value any) error {
	if keys == nil || isNil(value) {
		return nil
	}
	return s.store(ctx, s.keys(typ, keys), value)
}

// Remove deletes the entries under every key. A nil keys map does nothing.
func (s *Service) Remove(ctx context.Context, typ string, keys map[string]string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.repo.Delete(ctx, s.keys(typ, keys)...)
}

func (s *Service) store(ctx context.Context, cacheKeys []string, value any) error {
	if len(cacheKeys) == 0 {
		return nil
	}
	payload, err := s.codec.Marshal(value)
	if err != nil {
		return err
	}
	for _, k := range cacheKeys {
		if err := s.repo.Set(ctx, k, payload); err != nil {
			return err
		}
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
