// Package tenant carries the caller's tenant through a request and turns a
// query Scope into the tenant predicate a repository applies.
//
// A Scope is one of Current, Explicit(id) or All. There is no nullable
// "organization id" whose meaning depends on a second flag: every query states
// which of the three it wants, and resolving Current without a tenant in the
// context is an error rather than an unfiltered query.
//
//	ctx = tenant.WithInfo(ctx, tenant.Info{TenantID: "org-1", UserID: "u-7"})
//	r, err := tenant.Current().Resolve(ctx, tenant.ContextProvider{})
//	// r.TenantID == "org-1"
package tenant
