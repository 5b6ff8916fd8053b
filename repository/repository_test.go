package repository

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/memstore"
	"github.com/goliatone/go-repository-core/tenant"
	"github.com/goliatone/go-repository-core/unitofwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	document.OrganizationBase[string] `bson:",inline"`
	Email                             string `bson:"email"`
	Plan                              string `bson:"plan"`
}

func newAccount(id, email string) *account {
	a := &account{Email: email, Plan: "free"}
	a.ID = id
	return a
}

func as(tenantID string) context.Context {
	return tenant.WithInfo(context.Background(), tenant.Info{TenantID: tenantID})
}

func newRepo(t *testing.T, opts ...Option) (*Repository[*account, string], *memstore.Database) {
	t.Helper()
	db := memstore.New("app")
	return New[*account, string](db.Collection("accounts"), nil, opts...), db
}

func ids(docs []*account) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestRepository_TenantIsolationScenario(t *testing.T) {
	repo, _ := newRepo(t)
	t1, t2 := as("T1"), as("T2")

	doc := newAccount("1", "a@t1.io")
	require.NoError(t, repo.Create(t1, doc))
	assert.Equal(t, "T1", doc.OrganizationID())

	_, err := repo.Get(t2, "1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := repo.Get(t1, "1")
	require.NoError(t, err)
	assert.Equal(t, "a@t1.io", got.Email)

	got, err = repo.GetScoped(t2, "1", true)
	require.NoError(t, err)
	assert.Equal(t, "T1", got.OrganizationID())
}

func TestRepository_MissingTenantIsRejected(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "1")
	assert.ErrorIs(t, err, tenant.ErrMissingTenant)

	_, err = repo.GetAll(ctx)
	assert.ErrorIs(t, err, tenant.ErrMissingTenant)

	assert.ErrorIs(t, repo.Create(ctx, newAccount("1", "x")), tenant.ErrMissingTenant)

	all, err := repo.GetAllScoped(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRepository_GetValidatesID(t *testing.T) {
	repo, _ := newRepo(t)
	_, err := repo.Get(as("T1"), "")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, repo.SoftDelete(as("T1"), ""), ErrInvalidID)
}

type duplicatingCollection struct {
	document.Collection
}

func (c duplicatingCollection) Find(ctx context.Context, f document.Filter, out any) error {
	if err := c.Collection.Find(ctx, f, out); err != nil {
		return err
	}
	rv := reflect.ValueOf(out).Elem()
	rv.Set(reflect.AppendSlice(rv, rv))
	return nil
}

func TestRepository_IntegrityViolation(t *testing.T) {
	db := memstore.New("app")
	repo := New[*account, string](duplicatingCollection{db.Collection("accounts")}, nil)
	require.NoError(t, repo.Create(as("T1"), newAccount("1", "a")))

	_, err := repo.Get(as("T1"), "1")
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestRepository_CreateRejectsForeignTenant(t *testing.T) {
	repo, _ := newRepo(t)
	doc := newAccount("1", "a")
	doc.Organization = "T2"
	assert.ErrorIs(t, repo.Create(as("T1"), doc), ErrTenantMismatch)

	doc.Organization = "T1"
	assert.NoError(t, repo.Create(as("T1"), doc))
}

func TestRepository_UpdateLifecycle(t *testing.T) {
	repo, _ := newRepo(t)
	t1 := as("T1")
	require.NoError(t, repo.Create(t1, newAccount("1", "a")))

	doc, err := repo.Get(t1, "1")
	require.NoError(t, err)
	doc.Plan = "pro"
	require.NoError(t, repo.Update(t1, doc))

	got, err := repo.Get(t1, "1")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Plan)

	assert.ErrorIs(t, repo.Update(as("T2"), doc), ErrTenantMismatch)

	ghost := newAccount("404", "ghost")
	ghost.Organization = "T1"
	assert.ErrorIs(t, repo.Update(t1, ghost), ErrNotFound)
}

func TestRepository_SoftDeleteRestoreDelete(t *testing.T) {
	repo, _ := newRepo(t)
	t1 := as("T1")
	require.NoError(t, repo.Create(t1, newAccount("1", "a")))
	require.NoError(t, repo.Create(t1, newAccount("2", "b")))

	assert.ErrorIs(t, repo.SoftDelete(as("T2"), "1"), ErrNotFound, "other tenants cannot delete")

	require.NoError(t, repo.SoftDelete(t1, "1"))
	assert.ErrorIs(t, repo.SoftDelete(t1, "1"), ErrNotFound)

	_, err := repo.Get(t1, "1")
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := repo.GetByFilter(t1, Filter[string]{Deleted: OnlyDeleted})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(deleted))

	everything, err := repo.Count(t1, Filter[string]{Deleted: IncludeDeleted})
	require.NoError(t, err)
	assert.EqualValues(t, 2, everything)

	require.NoError(t, repo.Restore(t1, "1"))
	assert.ErrorIs(t, repo.Restore(t1, "1"), ErrNotFound)
	_, err = repo.Get(t1, "1")
	require.NoError(t, err)

	require.NoError(t, repo.SoftDelete(t1, "2"))
	require.NoError(t, repo.Delete(t1, "2"))
	assert.ErrorIs(t, repo.Delete(t1, "2"), ErrNotFound)

	everything, err = repo.Count(t1, Filter[string]{Deleted: IncludeDeleted})
	require.NoError(t, err)
	assert.EqualValues(t, 1, everything)
}

func TestRepository_WritesDeferredToUnitOfWork(t *testing.T) {
	db := memstore.New("app")
	uow := unitofwork.New(unitofwork.DatabaseConnector(db))
	repo := New[*account, string](db.Collection("accounts"), nil, WithUnitOfWork(uow))
	assert.Same(t, uow, repo.UnitOfWork())

	require.NoError(t, repo.Create(as("T1"), newAccount("1", "a")))
	require.NoError(t, repo.Create(as("T2"), newAccount("2", "b")))
	assert.Equal(t, 2, uow.Pending())

	all, err := repo.GetAllScoped(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, all)

	// the tenant was captured when the write was queued
	n, err := uow.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.Get(as("T2"), "2")
	require.NoError(t, err)
	assert.Equal(t, "T2", got.OrganizationID())

	require.NoError(t, repo.SoftDelete(as("T1"), "2"))
	_, err = uow.SaveChanges(context.Background())
	assert.ErrorIs(t, err, ErrNotFound, "a queued write still cannot cross tenants")
}

func TestRepository_FilterComposition(t *testing.T) {
	repo, _ := newRepo(t)
	preds, err := repo.BuildPredicates(as("T1"), Filter[string]{
		ID:         "1",
		IncludeIDs: []string{"1", "2"},
		ExcludeID:  "3",
		Extra:      document.Filter{document.Eq("plan", "pro")},
	})
	require.NoError(t, err)
	assert.Equal(t, document.Filter{
		document.Eq(document.FieldID, "1"),
		document.Eq(document.FieldOrganizationID, "T1"),
		document.Eq(document.FieldIsDeleted, false),
		document.In(document.FieldID, "1", "2"),
		document.Ne(document.FieldID, "3"),
		document.Eq("plan", "pro"),
	}, preds)

	preds, err = repo.BuildPredicates(context.Background(), Filter[string]{Scope: tenant.All(), Deleted: IncludeDeleted})
	require.NoError(t, err)
	assert.Empty(t, preds, "an unconstrained filter matches everything")
}

func TestRepository_FilterProperties(t *testing.T) {
	repo, db := newRepo(t)
	tenants := []string{"T1", "T2", "T3"}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 60; i++ {
		doc := newAccount(fmt.Sprintf("%02d", i), fmt.Sprintf("u%d@x.io", i))
		doc.Organization = tenants[i%len(tenants)]
		doc.IsDeleted = rng.Intn(3) == 0
		require.NoError(t, db.Collection("accounts").InsertOne(context.Background(), doc))
	}

	for i := 0; i < 200; i++ {
		caller := tenants[rng.Intn(len(tenants))]
		req := RequestFilter[string]{QueryAllOrganizations: rng.Intn(4) == 0}
		if rng.Intn(4) == 0 {
			req.OrganizationID = tenants[rng.Intn(len(tenants))]
		}
		switch rng.Intn(3) {
		case 1:
			v := true
			req.IsDeleted = &v
		case 2:
			v := false
			req.IsDeleted = &v
		}
		if rng.Intn(3) == 0 {
			req.IDs = []string{fmt.Sprintf("%02d", rng.Intn(60)), fmt.Sprintf("%02d", rng.Intn(60))}
		}
		if rng.Intn(3) == 0 {
			req.ExcludeID = fmt.Sprintf("%02d", rng.Intn(60))
		}

		docs, err := repo.GetByFilter(as(caller), req.ToFilter())
		require.NoError(t, err)

		for _, d := range docs {
			switch {
			case req.OrganizationID != "":
				assert.Equal(t, req.OrganizationID, d.OrganizationID())
			case !req.QueryAllOrganizations:
				assert.Equal(t, caller, d.OrganizationID())
			}
			if req.IsDeleted != nil && *req.IsDeleted {
				assert.True(t, d.SoftDeleted())
			} else {
				assert.False(t, d.SoftDeleted())
			}
			if req.IDs != nil {
				assert.Contains(t, req.IDs, d.ID)
			}
			assert.NotEqual(t, req.ExcludeID, d.ID)
		}
	}
}

type byPlan struct {
	Plan string
}

func planFilter(f byPlan) Filter[string] {
	return Filter[string]{Extra: document.Filter{document.Eq("plan", f.Plan)}}
}

func TestQuery_WithMapper(t *testing.T) {
	repo, _ := newRepo(t)
	t1 := as("T1")
	pro := newAccount("1", "a")
	pro.Plan = "pro"
	require.NoError(t, repo.Create(t1, pro))
	require.NoError(t, repo.Create(t1, newAccount("2", "b")))

	docs, err := Query(t1, repo, byPlan{Plan: "pro"}, planFilter)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(docs))
}

func TestRequestFilter_ToFilter(t *testing.T) {
	yes, no := true, false

	f := RequestFilter[string]{OrganizationID: "T9", QueryAllOrganizations: true, IsDeleted: &yes}.ToFilter()
	id, ok := f.Scope.TenantID()
	assert.True(t, ok)
	assert.Equal(t, "T9", id)
	assert.Equal(t, OnlyDeleted, f.Deleted)

	f = RequestFilter[string]{QueryAllOrganizations: true, IsDeleted: &no}.ToFilter()
	assert.True(t, f.Scope.IsAll())
	assert.Equal(t, ExcludeDeleted, f.Deleted)

	f = RequestFilter[string]{IDs: []string{"a"}, ExcludeID: "b", ID: "c"}.ToFilter()
	assert.True(t, f.Scope.IsCurrent())
	assert.Equal(t, []string{"a"}, f.IncludeIDs)
	assert.Equal(t, "b", f.ExcludeID)
	assert.Equal(t, "c", f.ID)
}

func TestRepository_EnsureIndexes(t *testing.T) {
	repo, _ := newRepo(t)
	require.NoError(t, repo.EnsureIndexes(context.Background()))
	require.NoError(t, repo.EnsureIndexes(context.Background()))
	assert.Equal(t, "accounts", repo.Name())
}
