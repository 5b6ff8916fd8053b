package repositorycache

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

type cacheTagsContextKey struct{}

// WithCacheTags attaches extra key names to the context. A read made with the
// context is also cached under each tag. Any later write of the document
// removes the tagged entries along with the id entry, whatever tags the
// writer carries.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}

	combined := dedupeStrings(append(cacheTagsFromContext(ctx), tags...))
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}

// dedupeStrings drops blanks, the reserved id key name and repeats, keeping
// first-seen order.
func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || s == idKeyName {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// tagRegistry remembers the tags each document key was cached under. It is
// local to the process.
type tagRegistry struct {
	tags *xsync.MapOf[string, []string]
}

func newTagRegistry() *tagRegistry {
	return &tagRegistry{tags: xsync.NewMapOf[string, []string]()}
}

func (r *tagRegistry) register(key string, tags []string) {
	if len(tags) == 0 {
		return
	}
	r.tags.Compute(key, func(old []string, _ bool) ([]string, bool) {
		return dedupeStrings(append(append([]string(nil), old...), tags...)), false
	})
}

func (r *tagRegistry) lookup(key string) []string {
	tags, _ := r.tags.Load(key)
	return append([]string(nil), tags...)
}

func (r *tagRegistry) forget(key string) {
	r.tags.Delete(key)
}
