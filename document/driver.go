package document

import (
	"context"
	"errors"
)

var (
	ErrDuplicateKey          = errors.New("document: duplicate key")
	ErrNoTransaction         = errors.New("document: no transaction in progress")
	ErrTransactionInProgress = errors.New("document: transaction already in progress")
	ErrUnsupportedPredicate  = errors.New("document: unsupported predicate")
	ErrInvalidOutput         = errors.New("document: output must be a pointer to a slice")
	ErrSessionEnded          = errors.New("document: session ended")
)

// Client opens logical databases by name.
type Client interface {
	Database(name string) Database
	Disconnect(ctx context.Context) error
}

// Database is a named set of collections that supports multi-statement sessions.
type Database interface {
	Name() string
	Collection(name string) Collection
	StartSession(ctx context.Context) (Session, error)
}

// Collection executes queries and commands against one schemaless collection.
//
// Calls made with a context returned by Session.Context run inside that session.
type Collection interface {
	Name() string
	// Find decodes every matching document into out, which must be a pointer to a slice.
	Find(ctx context.Context, filter Filter, out any) error
	Count(ctx context.Context, filter Filter) (int64, error)
	InsertOne(ctx context.Context, doc any) error
	// ReplaceOne replaces the first match and reports how many documents matched.
	ReplaceOne(ctx context.Context, filter Filter, doc any) (int64, error)
	UpdateMany(ctx context.Context, filter Filter, set map[string]any) (int64, error)
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
	CreateIndex(ctx context.Context, index IndexSpec) error
}

// Session brackets a sequence of operations with atomic commit/abort semantics.
// A session is owned by whoever started it and must always be ended.
type Session interface {
	StartTransaction() error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
	// Context binds ctx to the session so collection calls join it.
	Context(ctx context.Context) context.Context
}

// IndexSpec describes a secondary index over one or more fields.
type IndexSpec struct {
	Name   string
	Fields []string
	Unique bool
}
