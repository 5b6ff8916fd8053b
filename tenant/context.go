package tenant

import (
	"context"
	"strings"
)

// Info is the caller identity resolved for one logical request.
type Info struct {
	TenantID      string
	UserID        string
	CorrelationID string
}

type infoKey struct{}

// WithInfo adds the caller identity to ctx.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// WithTenantID is WithInfo for callers that only know the tenant. Any user and
// correlation ids already in ctx are kept.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	info, _ := FromContext(ctx)
	info.TenantID = tenantID
	return WithInfo(ctx, info)
}

// FromContext returns the caller identity stored in ctx.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// Provider supplies the current caller's tenant. It is read-only.
type Provider interface {
	CurrentTenantID(ctx context.Context) (string, bool)
}

// ContextProvider reads the tenant placed in the context by WithInfo.
type ContextProvider struct{}

// CurrentTenantID implements Provider. A blank tenant id counts as absent.
func (ContextProvider) CurrentTenantID(ctx context.Context) (string, bool) {
	info, ok := FromContext(ctx)
	if !ok || strings.TrimSpace(info.TenantID) == "" {
		return "", false
	}
	return info.TenantID, true
}

// StaticProvider always reports the same tenant. Useful for jobs and tests.
type StaticProvider string

// CurrentTenantID implements Provider.
func (p StaticProvider) CurrentTenantID(context.Context) (string, bool) {
	if p == "" {
		return "", false
	}
	return string(p), true
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, bool)

// CurrentTenantID implements Provider.
func (f ProviderFunc) CurrentTenantID(ctx context.Context) (string, bool) {
	return f(ctx)
}
