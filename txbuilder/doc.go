// Package txbuilder composes several tenant scoped repositories, one explicit
// transaction and a unit of work for a single multi-repository operation.
//
//	b := txbuilder.New(txService, uow)
//	txbuilder.AddService(b, users)
//	txbuilder.AddService(b, orders)
//	defer b.Close(ctx)
//
//	txCtx, err := b.Context(ctx)
//	if err != nil {
//		return err
//	}
//	_ = txbuilder.MustGetService[*User, string](b).Create(txCtx, user)
//	_ = txbuilder.MustGetService[*Order, string](b).Create(txCtx, order)
//	if _, err := b.UnitOfWork().SaveChanges(txCtx); err != nil {
//		return err
//	}
//	return b.Commit(ctx)
//
// Tasks are a list the caller fills and drains; the builder only holds them.
package txbuilder
