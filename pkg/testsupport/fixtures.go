package testsupport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-repository-core/coordination"
	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/memstore"
	"github.com/goliatone/go-repository-core/tenant"
	"github.com/redis/go-redis/v9"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// CompareWithGolden compares actual with the golden file at path. A missing
// golden file is created from actual.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// WriteGolden writes data to a golden file, creating its directory.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}

// NewMiniredisStore starts an in-process redis and returns a store on it. Both
// are closed when the test ends.
func NewMiniredisStore(t testing.TB) (*coordination.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := coordination.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// NewMemoryDatabase returns an empty in-memory database.
func NewMemoryDatabase(t testing.TB, name string) *memstore.Database {
	t.Helper()
	return memstore.New(name)
}

// TenantContext returns a background context acting for tenantID.
func TenantContext(tenantID string) context.Context {
	return tenant.WithTenantID(context.Background(), tenantID)
}

// SeedCollection inserts docs into coll, failing the test on the first error.
func SeedCollection[T any](t testing.TB, coll document.Collection, docs ...T) {
	t.Helper()

	for i, doc := range docs {
		if err := coll.InsertOne(context.Background(), doc); err != nil {
			t.Fatalf("failed to seed document %d into %s: %v", i, coll.Name(), err)
		}
	}
}

// SeedFromFixture decodes a JSON array of T from path and inserts every item
// into coll. It returns the decoded items.
func SeedFromFixture[T any](t testing.TB, coll document.Collection, path string) []T {
	t.Helper()

	var docs []T
	LoadFixtureJSON(t, path, &docs)
	SeedCollection(t, coll, docs...)
	return docs
}
