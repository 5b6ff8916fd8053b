// Package transaction provides explicit transactions over a document store
// session.
//
// A Transaction is owned by whoever called Create:
//
//	tx, err := svc.Create(ctx)
//	if err != nil {
//		return err
//	}
//	defer tx.End(ctx)
//	txCtx := tx.Context(ctx)
//	// ... store calls and unit of work flushes with txCtx ...
//	return svc.Commit(ctx, tx)
//
// A unit of work flushed with a context bound to a transaction enlists its
// commands in that transaction instead of opening its own, so both mechanisms
// compose into a single commit owned by the caller.
package transaction
