package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-repository-core/document"
)

var (
	ErrMissingID   = errors.New("memstore: document has no _id")
	ErrImmutableID = errors.New("memstore: _id cannot be changed by a replace")
	// ErrWriteConflict reports a commit that raced a write it depended on.
	ErrWriteConflict = errors.New("memstore: write conflict")
)

var (
	_ document.Client     = (*Client)(nil)
	_ document.Database   = (*Database)(nil)
	_ document.Collection = (*Collection)(nil)
	_ document.Session    = (*Session)(nil)
)

// Client hands out in-memory databases by name. The same name always yields the same database.
type Client struct {
	mu  sync.Mutex
	dbs map[string]*Database
}

// NewClient creates an empty client.
func NewClient() *Client {
	return &Client{dbs: make(map[string]*Database)}
}

// Database returns the named database, creating it on first use.
func (c *Client) Database(name string) document.Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	db, ok := c.dbs[name]
	if !ok {
		db = New(name)
		c.dbs[name] = db
	}
	return db
}

// Disconnect is a no-op; data stays available to the process.
func (c *Client) Disconnect(context.Context) error {
	return nil
}

// Database is an in-memory set of collections.
type Database struct {
	name        string
	mu          sync.RWMutex
	collections map[string]*table
}

// New creates a standalone database.
func New(name string) *Database {
	return &Database{name: name, collections: make(map[string]*table)}
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// Collection returns a handle on the named collection.
func (d *Database) Collection(name string) document.Collection {
	return &Collection{db: d, name: name}
}

// StartSession opens a session. Transactions started on it work on private
// copies of the collections they touch until commit.
func (d *Database) StartSession(context.Context) (document.Session, error) {
	return &Session{db: d}, nil
}

// committed returns the live table for name, creating it if needed.
// Caller must hold d.mu for writing.
func (d *Database) committed(name string) *table {
	t, ok := d.collections[name]
	if !ok {
		t = newTable()
		d.collections[name] = t
	}
	return t
}

// snapshot returns a journaling copy of the live table for name.
func (d *Database) snapshot(name string) *table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.collections[name]
	if !ok {
		t = newTable()
	} else {
		t = t.clone()
	}
	t.staged = true
	return t
}

type sessionKey struct{}

// Session tracks one optional transaction.
type Session struct {
	db     *Database
	mu     sync.Mutex
	inTxn  bool
	ended  bool
	staged map[string]*table
}

// StartTransaction begins a transaction on the session.
func (s *Session) StartTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return document.ErrSessionEnded
	}
	if s.inTxn {
		return document.ErrTransactionInProgress
	}
	s.inTxn = true
	s.staged = make(map[string]*table)
	return nil
}

// CommitTransaction replays the writes of the transaction onto the live
// collections. Writes made outside the transaction since it started are kept.
// Either every collection is updated or, on a conflict, none is and the
// transaction ends.
func (s *Session) CommitTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTxn {
		return document.ErrNoTransaction
	}
	staged := s.staged
	s.inTxn = false
	s.staged = nil

	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	next := make(map[string]*table, len(staged))
	for name, t := range staged {
		if len(t.journal) == 0 {
			continue
		}
		live := s.db.committed(name).clone()
		if err := live.apply(t.journal); err != nil {
			return fmt.Errorf("memstore: commit %s: %w", name, err)
		}
		next[name] = live
	}
	for name, t := range next {
		s.db.collections[name] = t
	}
	return nil
}

// AbortTransaction discards every staged change.
func (s *Session) AbortTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTxn {
		return document.ErrNoTransaction
	}
	s.inTxn = false
	s.staged = nil
	return nil
}

// EndSession aborts any open transaction and retires the session.
func (s *Session) EndSession(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTxn = false
	s.staged = nil
	s.ended = true
}

// Context binds ctx to the session.
func (s *Session) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context, db *Database) *Session {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok || s.db != db {
		return nil
	}
	return s
}
