package repository

import (
	"context"

	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"github.com/goliatone/go-repository-core/tenant"
	"github.com/goliatone/go-repository-core/unitofwork"
	"go.uber.org/zap"
)

// Create stores doc for the calling tenant. A document without a tenant is
// stamped with it; one that names another tenant is rejected.
func (r *Repository[D, ID]) Create(ctx context.Context, doc D) error {
	tenantID, err := r.currentTenant(ctx)
	if err != nil {
		return err
	}
	switch owner := doc.OrganizationID(); {
	case owner == "":
		doc.AssignOrganization(tenantID)
	case owner != tenantID:
		return ErrTenantMismatch
	}

	return r.execute(ctx, "create", func(ctx context.Context) error {
		return r.collection.InsertOne(ctx, doc)
	})
}

// Update replaces the live document of the calling tenant that has doc's id.
func (r *Repository[D, ID]) Update(ctx context.Context, doc D) error {
	tenantID, err := r.currentTenant(ctx)
	if err != nil {
		return err
	}
	if doc.OrganizationID() != tenantID {
		return ErrTenantMismatch
	}
	preds, err := r.scopedByID(ctx, doc.DocumentID(), tenantID, ExcludeDeleted)
	if err != nil {
		return err
	}

	return r.execute(ctx, "update", func(ctx context.Context) error {
		matched, err := r.collection.ReplaceOne(ctx, preds, doc)
		if err != nil {
			return err
		}
		if matched == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SoftDelete flags the live document with id as deleted.
func (r *Repository[D, ID]) SoftDelete(ctx context.Context, id ID) error {
	return r.setDeleted(ctx, "soft_delete", id, ExcludeDeleted, true)
}

// Restore clears the soft-delete flag of the document with id.
func (r *Repository[D, ID]) Restore(ctx context.Context, id ID) error {
	return r.setDeleted(ctx, "restore", id, OnlyDeleted, false)
}

// Delete permanently removes the document with id, deleted or not.
func (r *Repository[D, ID]) Delete(ctx context.Context, id ID) error {
	tenantID, err := r.currentTenant(ctx)
	if err != nil {
		return err
	}
	preds, err := r.scopedByID(ctx, id, tenantID, IncludeDeleted)
	if err != nil {
		return err
	}
	return r.execute(ctx, "delete", func(ctx context.Context) error {
		n, err := r.collection.DeleteMany(ctx, preds)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// EnsureIndexes creates the (organizationId, isDeleted) index every tenant
// scoped query uses.
func (r *Repository[D, ID]) EnsureIndexes(ctx context.Context) error {
	return r.collection.CreateIndex(ctx, document.IndexSpec{
		Name:   TenantIndexName,
		Fields: []string{document.FieldOrganizationID, document.FieldIsDeleted},
	})
}

func (r *Repository[D, ID]) setDeleted(ctx context.Context, op string, id ID, state Deleted, deleted bool) error {
	tenantID, err := r.currentTenant(ctx)
	if err != nil {
		return err
	}
	preds, err := r.scopedByID(ctx, id, tenantID, state)
	if err != nil {
		return err
	}
	return r.execute(ctx, op, func(ctx context.Context) error {
		n, err := r.collection.UpdateMany(ctx, preds, map[string]any{document.FieldIsDeleted: deleted})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// scopedByID builds the predicates of a single document write. The tenant was
// resolved at call time so a queued command keeps it.
func (r *Repository[D, ID]) scopedByID(ctx context.Context, id ID, tenantID string, state Deleted) (document.Filter, error) {
	var zero ID
	if id == zero {
		return nil, ErrInvalidID
	}
	return r.BuildPredicates(ctx, Filter[ID]{ID: id, Scope: tenant.Explicit(tenantID), Deleted: state})
}

// Tenant returns the tenant of the calling context.
func (r *Repository[D, ID]) Tenant(ctx context.Context) (string, error) {
	return r.currentTenant(ctx)
}

func (r *Repository[D, ID]) currentTenant(ctx context.Context) (string, error) {
	scope, err := tenant.Current().Resolve(ctx, r.provider)
	if err != nil {
		return "", err
	}
	return scope.TenantID, nil
}

// execute runs cmd now, or queues it when a unit of work is configured.
func (r *Repository[D, ID]) execute(ctx context.Context, op string, cmd unitofwork.Command) error {
	log := logger.From(ctx, r.logger)
	if r.uow != nil {
		r.uow.AddCommand(cmd)
		log.Debug("write queued", zap.String("op", op))
		return nil
	}
	if err := cmd(ctx); err != nil {
		return err
	}
	log.Debug("write applied", zap.String("op", op))
	return nil
}
