package tenant

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingTenant = errors.New("tenant: no tenant in context")
	ErrInvalidScope  = errors.New("tenant: invalid scope")
)

type scopeKind uint8

const (
	kindCurrent scopeKind = iota
	kindExplicit
	kindAll
)

// Scope selects which tenant a query is restricted to. The zero value is
// Current, so a forgotten scope never widens a query.
type Scope struct {
	kind     scopeKind
	tenantID string
}

// Current scopes a query to the tenant of the calling context.
func Current() Scope {
	return Scope{kind: kindCurrent}
}

// Explicit scopes a query to the given tenant, whatever the caller's tenant is.
func Explicit(tenantID string) Scope {
	return Scope{kind: kindExplicit, tenantID: tenantID}
}

// All opts a query out of tenant filtering.
func All() Scope {
	return Scope{kind: kindAll}
}

// ScopeFromFlags maps the request-shaped pair used by filters: an explicit
// organization id wins, then the all-organizations flag, then the current tenant.
func ScopeFromFlags(organizationID string, queryAll bool) Scope {
	switch {
	case organizationID != "":
		return Explicit(organizationID)
	case queryAll:
		return All()
	default:
		return Current()
	}
}

func (s Scope) IsCurrent() bool { return s.kind == kindCurrent }

func (s Scope) IsAll() bool { return s.kind == kindAll }

// TenantID returns the explicit tenant, if this is an Explicit scope.
func (s Scope) TenantID() (string, bool) {
	return s.tenantID, s.kind == kindExplicit
}

func (s Scope) String() string {
	switch s.kind {
	case kindExplicit:
		return "explicit(" + s.tenantID + ")"
	case kindAll:
		return "all"
	default:
		return "current"
	}
}

// Resolved is a scope after the caller's tenant has been looked up.
// AllTenants means no tenant predicate applies.
type Resolved struct {
	TenantID   string
	AllTenants bool
}

// Resolve turns the scope into a concrete tenant using p.
func (s Scope) Resolve(ctx context.Context, p Provider) (Resolved, error) {
	switch s.kind {
	case kindAll:
		return Resolved{AllTenants: true}, nil
	case kindExplicit:
		if s.tenantID == "" {
			return Resolved{}, fmt.Errorf("%w: explicit scope needs a tenant id", ErrInvalidScope)
		}
		return Resolved{TenantID: s.tenantID}, nil
	case kindCurrent:
		if p == nil {
			return Resolved{}, ErrMissingTenant
		}
		id, ok := p.CurrentTenantID(ctx)
		if !ok || id == "" {
			return Resolved{}, ErrMissingTenant
		}
		return Resolved{TenantID: id}, nil
	default:
		return Resolved{}, ErrInvalidScope
	}
}
