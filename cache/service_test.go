package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-repository-core/coordination"
	"github.com/goliatone/go-repository-core/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

type profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func newRedisRepository(t *testing.T, ttl time.Duration) (Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := coordination.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewCoordinationRepository(store, ttl), mr
}

func newMemory(t *testing.T) Repository {
	t.Helper()
	repo, err := NewMemoryRepository(DefaultConfig())
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	return repo
}

func countingPopulate(calls *int32, v *profile) PopulateFn[profile] {
	return func(context.Context) (*profile, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func TestGetByKeys_PopulatesOnceAndStoresUnderEveryKey(t *testing.T) {
	backends := map[string]Repository{
		"memory": newMemory(t),
	}
	backends["redis"], _ = newRedisRepository(t, 0)

	for name, repo := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(repo)
			keys := map[string]string{"id": "42", "email": "ada@example.com"}
			want := &profile{ID: "42", Email: "ada@example.com"}

			var calls int32
			got, err := GetByKeys(ctx, svc, "profile", keys, countingPopulate(&calls, want))
			if err != nil {
				t.Fatalf("GetByKeys: %v", err)
			}
			if *got != *want {
				t.Errorf("got %+v, want %+v", got, want)
			}
			if calls != 1 {
				t.Errorf("expected populate to run once, ran %d times", calls)
			}

			for _, k := range []string{"profile_id_42", "profile_email_ada@example.com"} {
				if _, err := repo.Get(ctx, k); err != nil {
					t.Errorf("expected entry under %s: %v", k, err)
				}
			}

			got, err = Get(ctx, svc, "profile", "email", "ada@example.com", countingPopulate(&calls, nil))
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ID != "42" {
				t.Errorf("expected cached profile, got %+v", got)
			}
			if calls != 1 {
				t.Errorf("a hit must not call populate, calls=%d", calls)
			}
		})
	}
}

func TestGet_DoesNotCacheNil(t *testing.T) {
	ctx := context.Background()
	repo := newMemory(t)
	svc := NewService(repo)

	var calls int32
	for i := 0; i < 2; i++ {
		got, err := Get(ctx, svc, "profile", "id", "missing", countingPopulate(&calls, nil))
		if err != nil || got != nil {
			t.Fatalf("expected nil result, got %+v, %v", got, err)
		}
	}
	if calls != 2 {
		t.Errorf("nil results are not cached, expected 2 populate calls, got %d", calls)
	}
	if _, err := repo.Get(ctx, "profile_id_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no entry, got %v", err)
	}
}

func TestGet_PopulateErrorIsReturned(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(newMemory(t))
	_, err := Get(context.Background(), svc, "profile", "id", "1", func(context.Context) (*profile, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected populate error, got %v", err)
	}

	_, err = Get[profile](context.Background(), svc, "profile", "id", "1", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound without populate, got %v", err)
	}
}

func TestGet_DecodeFailureIsAnError(t *testing.T) {
	ctx := context.Background()
	repo := newMemory(t)
	if err := repo.Set(ctx, "profile_id_1", "{not json"); err != nil {
		t.Fatal(err)
	}
	svc := NewService(repo)

	var calls int32
	_, err := Get(ctx, svc, "profile", "id", "1", countingPopulate(&calls, &profile{ID: "1"}))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) || decodeErr.Key != "profile_id_1" {
		t.Errorf("expected *DecodeError for profile_id_1, got %#v", err)
	}
	if calls != 0 {
		t.Error("a corrupt entry must not be treated as a miss")
	}
}

type failingRepository struct {
	err error
}

func (f failingRepository) Get(context.Context, string) (string, error) { return "", f.err }
func (f failingRepository) Set(context.Context, string, string) error   { return f.err }
func (f failingRepository) Delete(context.Context, ...string) error     { return f.err }

func TestGet_StoreFailurePropagates(t *testing.T) {
	down := errors.New("connection refused")
	svc := NewService(failingRepository{err: down})

	var calls int32
	_, err := Get(context.Background(), svc, "profile", "id", "1", countingPopulate(&calls, &profile{}))
	if !errors.Is(err, down) {
		t.Errorf("expected store error, got %v", err)
	}
	if err := svc.Remove(context.Background(), "profile", map[string]string{"id": "1"}); !errors.Is(err, down) {
		t.Errorf("expected store error from Remove, got %v", err)
	}
}

func TestGet_ConcurrentMissesAreNotCollapsed(t *testing.T) {
	svc := NewService(newMemory(t))

	var calls int32
	var barrier sync.WaitGroup
	barrier.Add(2)
	populate := func(context.Context) (*profile, error) {
		atomic.AddInt32(&calls, 1)
		barrier.Done()
		barrier.Wait()
		return &profile{ID: "1"}, nil
	}

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := Get(context.Background(), svc, "profile", "id", "1", populate)
			done <- err
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("populate calls were deduplicated; expected each miss to populate")
		}
	}
	if calls != 2 {
		t.Errorf("expected 2 populate calls, got %d", calls)
	}
}

func TestService_SetAndRemove(t *testing.T) {
	ctx := context.Background()
	repo := newMemory(t)
	svc := NewService(repo)
	keys := map[string]string{"id": "7", "email": "x@y.io"}

	if err := svc.Set(ctx, "profile", nil, &profile{ID: "7"}); err != nil {
		t.Errorf("nil keys must be a no-op, got %v", err)
	}
	if err := svc.Remove(ctx, "profile", nil); err != nil {
		t.Errorf("nil keys must be a no-op, got %v", err)
	}
	var nilProfile *profile
	if err := svc.Set(ctx, "profile", keys, nilProfile); err != nil {
		t.Errorf("nil value must be a no-op, got %v", err)
	}
	if _, err := repo.Get(ctx, "profile_id_7"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("nil value must not be stored, got %v", err)
	}

	if err := svc.Set(ctx, "profile", keys, &profile{ID: "7", Email: "x@y.io"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := Get[profile](ctx, svc, "profile", "email", "x@y.io", nil)
	if err != nil || got.ID != "7" {
		t.Fatalf("expected stored profile, got %+v, %v", got, err)
	}

	if err := svc.Remove(ctx, "profile", keys); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, k := range []string{"profile_id_7", "profile_email_x@y.io"} {
		if _, err := repo.Get(ctx, k); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected %s removed, got %v", k, err)
		}
	}
}

func TestService_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	svc := NewService(newMemory(t), WithMetrics(m))
	ctx := context.Background()

	var calls int32
	for i := 0; i < 3; i++ {
		if _, err := Get(ctx, svc, "profile", "id", "1", countingPopulate(&calls, &profile{ID: "1"})); err != nil {
			t.Fatal(err)
		}
	}
	if v := testutil.ToFloat64(m.CacheLookups.WithLabelValues("profile", "miss")); v != 1 {
		t.Errorf("expected 1 miss, got %v", v)
	}
	if v := testutil.ToFloat64(m.CacheLookups.WithLabelValues("profile", "hit")); v != 2 {
		t.Errorf("expected 2 hits, got %v", v)
	}
}

func TestCoordinationRepository_TTL(t *testing.T) {
	ctx := context.Background()
	repo, mr := newRedisRepository(t, time.Minute)

	if _, err := repo.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("k"); ttl != time.Minute {
		t.Errorf("expected ttl of 1m, got %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := repo.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expiry, got %v", err)
	}
}

func TestService_CustomSerializer(t *testing.T) {
	ctx := context.Background()
	repo := newMemory(t)
	svc := NewService(repo, WithKeySerializer(NewPrefixedKeySerializer("billing")))
	if err := svc.Set(ctx, "profile", map[string]string{"id": "1"}, profile{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Get(ctx, "billing:profile_id_1"); err != nil {
		t.Errorf("expected prefixed key: %v", err)
	}
}
