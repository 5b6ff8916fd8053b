// Package cache provides the cache-aside service used by read paths, the
// cache repositories it stores entries in, and the key serializer that names
// those entries.
//
// # Keys
//
// An entry is addressed by three parts: the cached type, the name of the
// lookup key and its value. The default serializer joins them as
// {type}_{keyName}_{key}, so a user cached by id and by email lives under
// user_id_42 and user_email_ada@example.com. TypeName derives the type segment
// from a Go type and FormatKey renders non-string lookup values.
//
// # Reads
//
// Get and GetByKeys are functions rather than methods because Go methods cannot
// take type parameters:
//
//	user, err := cache.GetByKeys(ctx, svc, "user",
//		map[string]string{"id": id, "email": email},
//		func(ctx context.Context) (*User, error) {
//			return users.Get(ctx, id)
//		})
//
// On a miss under every key the populate function runs once and its result is
// stored under all of them. A nil result is returned but not cached. Concurrent
// misses on the same key are not collapsed: each caller runs populate, which
// must therefore be idempotent.
//
// A payload that cannot be decoded is returned as a *DecodeError. It is never
// treated as a miss, since that would hide corrupted entries.
//
// # Writes
//
// Set and Remove take the same keyName->key map so an object cached under
// several lookups is updated or invalidated everywhere at once. A nil map is a
// no-op.
//
// # Backends
//
// NewCoordinationRepository stores entries in a coordination.Store (redis in
// production) and NewMemoryRepository keeps them in process on sturdyc. Neither
// the service nor the repositories impose a ttl beyond the one they are
// configured with.
package cache
