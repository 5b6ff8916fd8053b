// Package repositorycache provides a cached decorator for the tenant scoped
// repository base.
//
// # Overview
//
// CachedRepository wraps a *repository.Repository and serves single document
// reads through the cache-aside service of the cache package. Every other read
// and all writes go to the base repository.
//
//	base := repository.New[*Account, string](db.Collection("accounts"), nil)
//	svc := cache.NewService(cacheRepo)
//	accounts := repositorycache.New(base, svc)
//
//	acc, err := accounts.Get(ctx, "acc-1")
//
// # Cached vs Pass-through Operations
//
// Cached:
//   - Get, and GetScoped without crossTenant
//
// Pass-through:
//   - GetAll, GetAllScoped, GetByFilter, Count
//   - Create, Update, SoftDelete, Restore, Delete
//   - GetScoped with crossTenant, which never reads or fills the cache
//
// # Keys
//
// Entries live under (type, "id", tenant:id), where the type segment defaults to
// cache.TypeName of the document type and the tenant is the one of the calling
// context. A document cached for one tenant can therefore never be served to
// another, even though ids are not tenant qualified in the store.
//
// Cache tags attached with WithCacheTags add key names alongside "id". A read
// made with tags is cached under each of them as well, and a write made with
// the same tags removes them.
//
// # Invalidation
//
// Update, SoftDelete, Restore and Delete remove the entries of the id they
// touched once the base call succeeds. When the base repository defers writes
// to a unit of work, the entries are removed again after SaveChanges commits,
// so a read between queueing and saving cannot leave the old version cached.
//
// # Error Handling
//
// Errors from the base repository and from the cache backend are returned
// unchanged. A cache payload that cannot be decoded surfaces as a
// *cache.DecodeError.
package repositorycache
