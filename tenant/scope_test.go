package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_Resolve(t *testing.T) {
	withTenant := WithInfo(context.Background(), Info{TenantID: "org-1", UserID: "u-1"})
	empty := context.Background()

	tests := []struct {
		name    string
		scope   Scope
		ctx     context.Context
		want    Resolved
		wantErr error
	}{
		{name: "current with tenant", scope: Current(), ctx: withTenant, want: Resolved{TenantID: "org-1"}},
		{name: "current without tenant", scope: Current(), ctx: empty, wantErr: ErrMissingTenant},
		{name: "zero value is current", scope: Scope{}, ctx: withTenant, want: Resolved{TenantID: "org-1"}},
		{name: "explicit overrides context", scope: Explicit("org-2"), ctx: withTenant, want: Resolved{TenantID: "org-2"}},
		{name: "explicit without context", scope: Explicit("org-2"), ctx: empty, want: Resolved{TenantID: "org-2"}},
		{name: "explicit blank", scope: Explicit(""), ctx: withTenant, wantErr: ErrInvalidScope},
		{name: "all", scope: All(), ctx: empty, want: Resolved{AllTenants: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.scope.Resolve(tt.ctx, ContextProvider{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScope_ResolveNilProvider(t *testing.T) {
	_, err := Current().Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestScopeFromFlags(t *testing.T) {
	assert.Equal(t, Explicit("org-9"), ScopeFromFlags("org-9", true))
	assert.True(t, ScopeFromFlags("", true).IsAll())
	assert.True(t, ScopeFromFlags("", false).IsCurrent())

	id, ok := ScopeFromFlags("org-9", false).TenantID()
	assert.True(t, ok)
	assert.Equal(t, "org-9", id)

	_, ok = All().TenantID()
	assert.False(t, ok)
	assert.Equal(t, "explicit(org-9)", Explicit("org-9").String())
}

func TestProviders(t *testing.T) {
	ctx := WithTenantID(WithInfo(context.Background(), Info{UserID: "u-1", CorrelationID: "c-1"}), "org-1")
	info, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, Info{TenantID: "org-1", UserID: "u-1", CorrelationID: "c-1"}, info)

	id, ok := ContextProvider{}.CurrentTenantID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "org-1", id)

	_, ok = ContextProvider{}.CurrentTenantID(WithTenantID(context.Background(), "  "))
	assert.False(t, ok)

	id, ok = StaticProvider("org-s").CurrentTenantID(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "org-s", id)

	_, ok = StaticProvider("").CurrentTenantID(context.Background())
	assert.False(t, ok)

	fn := ProviderFunc(func(context.Context) (string, bool) { return "org-f", true })
	id, _ = fn.CurrentTenantID(context.Background())
	assert.Equal(t, "org-f", id)
}
