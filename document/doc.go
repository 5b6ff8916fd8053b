// Package document defines the persisted document model and the driver contract
// every document store backend implements.
//
// A Filter is a flat conjunction of predicates built with Eq, Ne and In. Drivers
// compile it to their native query language: mongostore to bson, sqlstore to bun
// WHERE clauses and memstore evaluates it in process.
//
//	filter := document.Filter{
//		document.Eq(document.FieldOrganizationID, "org-1"),
//		document.Eq(document.FieldIsDeleted, false),
//		document.In(document.FieldID, "a", "b"),
//	}
//	var users []*User
//	err := db.Collection("users").Find(ctx, filter, &users)
//
// Sessions are started from a Database and bound to a context with
// Session.Context; collection calls made with that context join the session and
// its transaction.
package document
