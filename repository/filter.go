package repository

import (
	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/tenant"
)

// Deleted selects documents by soft-delete state. The zero value excludes
// soft-deleted documents.
type Deleted uint8

const (
	ExcludeDeleted Deleted = iota
	OnlyDeleted
	IncludeDeleted
)

// Filter is the set of optional predicates a query is built from. Zero fields
// impose no constraint, except Scope and Deleted whose zero values mean
// "current tenant" and "not soft-deleted".
type Filter[ID comparable] struct {
	ID    ID
	Scope tenant.Scope
	// Deleted defaults to ExcludeDeleted.
	Deleted Deleted
	// IncludeIDs restricts results to the listed ids when non-nil. An empty
	// non-nil slice matches nothing.
	IncludeIDs []ID
	ExcludeID  ID
	// Extra is AND-ed after the standard predicates.
	Extra document.Filter
}

// RequestFilter is the request-shaped filter handlers usually bind from query
// parameters. ToFilter maps it onto Filter.
type RequestFilter[ID comparable] struct {
	ID                    ID     `json:"id"`
	OrganizationID        string `json:"organizationId"`
	QueryAllOrganizations bool   `json:"queryAllOrganizations"`
	// IsDeleted nil excludes soft-deleted documents, true returns only
	// soft-deleted ones, false only live ones.
	IsDeleted *bool `json:"isDeleted"`
	IDs       []ID  `json:"ids"`
	ExcludeID ID    `json:"excludeId"`
}

// ToFilter maps the request fields onto a Filter.
func (r RequestFilter[ID]) ToFilter() Filter[ID] {
	f := Filter[ID]{
		ID:         r.ID,
		Scope:      tenant.ScopeFromFlags(r.OrganizationID, r.QueryAllOrganizations),
		IncludeIDs: r.IDs,
		ExcludeID:  r.ExcludeID,
	}
	if r.IsDeleted != nil && *r.IsDeleted {
		f.Deleted = OnlyDeleted
	}
	return f
}

// Mapper converts an entity specific filter into a Filter. Mappers are plain
// functions written per entity.
type Mapper[F any, ID comparable] func(F) Filter[ID]

// compose turns a filter and its resolved tenant into store predicates.
func compose[ID comparable](f Filter[ID], scope tenant.Resolved) document.Filter {
	var zero ID
	var preds document.Filter

	if f.ID != zero {
		preds = append(preds, document.Eq(document.FieldID, f.ID))
	}
	if !scope.AllTenants {
		preds = append(preds, document.Eq(document.FieldOrganizationID, scope.TenantID))
	}
	switch f.Deleted {
	case ExcludeDeleted:
		preds = append(preds, document.Eq(document.FieldIsDeleted, false))
	case OnlyDeleted:
		preds = append(preds, document.Eq(document.FieldIsDeleted, true))
	}
	if f.IncludeIDs != nil {
		preds = append(preds, document.In(document.FieldID, f.IncludeIDs...))
	}
	if f.ExcludeID != zero {
		preds = append(preds, document.Ne(document.FieldID, f.ExcludeID))
	}
	return append(preds, f.Extra...)
}
