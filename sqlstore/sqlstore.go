// Package sqlstore implements the document driver on SQLite through bun.
//
// Each collection is a table of (id, data) rows where data holds the document
// as relaxed extended JSON, so the bson field names used everywhere else stay
// the query keys. A logical database maps to a table name prefix.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/goliatone/go-repository-core/document"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrMissingID   = errors.New("sqlstore: document has no _id")
	ErrImmutableID = errors.New("sqlstore: _id cannot be changed by a replace")
	ErrInvalidName = errors.New("sqlstore: invalid table name")
)

var (
	_ document.Client     = (*Client)(nil)
	_ document.Database   = (*Database)(nil)
	_ document.Collection = (*Collection)(nil)
	_ document.Session    = (*Session)(nil)
)

// Client opens logical databases on one SQLite file.
type Client struct {
	db *bun.DB

	mu  sync.Mutex
	dbs map[string]*Database
}

// Open opens dsn with the sqlite3 driver.
func Open(dsn string) (*Client, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	return NewClient(bun.NewDB(sqldb, sqlitedialect.New())), nil
}

// NewClient wraps an existing bun database.
func NewClient(db *bun.DB) *Client {
	return &Client{db: db, dbs: make(map[string]*Database)}
}

// DB returns the underlying bun database.
func (c *Client) DB() *bun.DB {
	return c.db
}

func (c *Client) Database(name string) document.Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.dbs[name]
	if !ok {
		d = &Database{db: c.db, name: name, tables: make(map[string]error)}
		c.dbs[name] = d
	}
	return d
}

func (c *Client) Disconnect(context.Context) error {
	return c.db.Close()
}

// Database is a table prefix on the shared connection pool.
type Database struct {
	db   *bun.DB
	name string

	mu     sync.Mutex
	tables map[string]error
}

func (d *Database) Name() string {
	return d.name
}

// Collection returns the collection, creating its table on first use.
func (d *Database) Collection(name string) document.Collection {
	table := name
	if d.name != "" {
		table = d.name + "_" + name
	}
	return &Collection{db: d, name: name, table: table, err: d.ensure(table)}
}

func (d *Database) ensure(table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, done := d.tables[table]; done {
		return err
	}
	var err error
	if !identPattern.MatchString(table) {
		err = fmt.Errorf("%w: %q", ErrInvalidName, table)
	} else {
		_, err = d.db.ExecContext(context.Background(),
			"CREATE TABLE IF NOT EXISTS ? (id TEXT PRIMARY KEY, data TEXT NOT NULL)", bun.Ident(table))
	}
	d.tables[table] = err
	return err
}

func (d *Database) StartSession(context.Context) (document.Session, error) {
	return &Session{db: d.db}, nil
}

type sessionKey struct{}

// Session runs a sql transaction. Calls made with its context are serialized.
type Session struct {
	db *bun.DB

	mu    sync.Mutex
	tx    *bun.Tx
	ended bool
}

func (s *Session) StartTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return document.ErrSessionEnded
	}
	if s.tx != nil {
		return document.ErrTransactionInProgress
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	s.tx = &tx
	return nil
}

func (s *Session) CommitTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return document.ErrNoTransaction
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

func (s *Session) AbortTransaction(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return document.ErrNoTransaction
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

// EndSession rolls back a transaction still open.
func (s *Session) EndSession(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	s.ended = true
}

func (s *Session) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// Collection is one table.
type Collection struct {
	db    *Database
	name  string
	table string
	err   error
}

func (c *Collection) Name() string {
	return c.name
}

// with runs fn on the transaction bound to ctx or, outside a session, on a
// new transaction when write is set and on the pool otherwise.
func (c *Collection) with(ctx context.Context, write bool, fn func(bun.IDB) error) error {
	if c.err != nil {
		return c.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ended {
			return document.ErrSessionEnded
		}
		if s.tx != nil {
			return fn(*s.tx)
		}
	}
	if write {
		return c.db.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return fn(tx)
		})
	}
	return fn(c.db.db)
}

type row struct {
	ID   string `bun:"id"`
	Data string `bun:"data"`
}

func (c *Collection) scan(ctx context.Context, idb bun.IDB, filter document.Filter, limit int) ([]row, error) {
	cond, args, err := where(filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, data FROM ? WHERE " + cond + " ORDER BY rowid"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var rows []row
	if err := idb.NewRaw(query, append([]any{bun.Ident(c.table)}, args...)...).Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Find decodes every match into out, a pointer to a slice of structs or struct pointers.
func (c *Collection) Find(ctx context.Context, filter document.Filter, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return document.ErrInvalidOutput
	}

	var rows []row
	err := c.with(ctx, false, func(idb bun.IDB) error {
		var err error
		rows, err = c.scan(ctx, idb, filter, 0)
		return err
	})
	if err != nil {
		return err
	}

	sliceType := rv.Elem().Type()
	elemType := sliceType.Elem()
	result := reflect.MakeSlice(sliceType, 0, len(rows))
	for _, r := range rows {
		isPtr := elemType.Kind() == reflect.Ptr
		target := elemType
		if isPtr {
			target = elemType.Elem()
		}
		item := reflect.New(target)
		if err := bson.UnmarshalExtJSON([]byte(r.Data), false, item.Interface()); err != nil {
			return fmt.Errorf("sqlstore: decode %s: %w", r.ID, err)
		}
		if !isPtr {
			item = item.Elem()
		}
		result = reflect.Append(result, item)
	}
	rv.Elem().Set(result)
	return nil
}

func (c *Collection) Count(ctx context.Context, filter document.Filter) (int64, error) {
	cond, args, err := where(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	err = c.with(ctx, false, func(idb bun.IDB) error {
		return idb.NewRaw("SELECT count(*) FROM ? WHERE "+cond, append([]any{bun.Ident(c.table)}, args...)...).Scan(ctx, &n)
	})
	return n, err
}

func (c *Collection) InsertOne(ctx context.Context, doc any) error {
	id, data, err := encode(doc)
	if err != nil {
		return err
	}
	return c.with(ctx, true, func(idb bun.IDB) error {
		_, err := idb.ExecContext(ctx, "INSERT INTO ? (id, data) VALUES (?, ?)", bun.Ident(c.table), id, data)
		return mapError(err)
	})
}

// ReplaceOne replaces the first match with doc, keeping its _id.
func (c *Collection) ReplaceOne(ctx context.Context, filter document.Filter, doc any) (int64, error) {
	id, data, err := encode(doc)
	if err != nil {
		return 0, err
	}
	var matched int64
	err = c.with(ctx, true, func(idb bun.IDB) error {
		rows, err := c.scan(ctx, idb, filter, 1)
		if err != nil || len(rows) == 0 {
			return err
		}
		matched = 1
		if rows[0].ID != id {
			return ErrImmutableID
		}
		_, err = idb.ExecContext(ctx, "UPDATE ? SET data = ? WHERE id = ?", bun.Ident(c.table), data, id)
		return mapError(err)
	})
	return matched, err
}

// UpdateMany overwrites the given top-level fields on every match.
func (c *Collection) UpdateMany(ctx context.Context, filter document.Filter, set map[string]any) (int64, error) {
	if _, ok := set[document.FieldID]; ok {
		return 0, ErrImmutableID
	}
	var matched int64
	err := c.with(ctx, true, func(idb bun.IDB) error {
		rows, err := c.scan(ctx, idb, filter, 0)
		if err != nil {
			return err
		}
		for _, r := range rows {
			data, err := withFields(r.Data, set)
			if err != nil {
				return err
			}
			if _, err := idb.ExecContext(ctx, "UPDATE ? SET data = ? WHERE id = ?", bun.Ident(c.table), data, r.ID); err != nil {
				return mapError(err)
			}
			matched++
		}
		return nil
	})
	return matched, err
}

func (c *Collection) DeleteMany(ctx context.Context, filter document.Filter) (int64, error) {
	cond, args, err := where(filter)
	if err != nil {
		return 0, err
	}
	var deleted int64
	err = c.with(ctx, true, func(idb bun.IDB) error {
		res, err := idb.ExecContext(ctx, "DELETE FROM ? WHERE "+cond, append([]any{bun.Ident(c.table)}, args...)...)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// CreateIndex creates an expression index over the json fields of index.
func (c *Collection) CreateIndex(ctx context.Context, index document.IndexSpec) error {
	if c.err != nil {
		return c.err
	}
	name := c.table + "_" + index.Name
	if index.Name == "" || !identPattern.MatchString(name) {
		return fmt.Errorf("%w: index %q", ErrInvalidName, index.Name)
	}
	expr, err := indexExpr(index.Fields)
	if err != nil {
		return err
	}
	stmt := "CREATE INDEX IF NOT EXISTS ? ON ? (" + expr + ")"
	if index.Unique {
		stmt = "CREATE UNIQUE INDEX IF NOT EXISTS ? ON ? (" + expr + ")"
	}
	_, err = c.db.db.ExecContext(ctx, stmt, bun.Ident(name), bun.Ident(c.table))
	return mapError(err)
}

// encode returns the id key and the relaxed extended JSON of doc.
func encode(doc any) (string, string, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("sqlstore: encode document: %w", err)
	}
	id, err := bson.Raw(raw).LookupErr(document.FieldID)
	if err != nil {
		return "", "", ErrMissingID
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return "", "", fmt.Errorf("sqlstore: decode document: %w", err)
	}
	data, err := bson.MarshalExtJSON(d, false, false)
	if err != nil {
		return "", "", fmt.Errorf("sqlstore: encode document: %w", err)
	}
	return id.String(), string(data), nil
}

func withFields(data string, set map[string]any) (string, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(data), false, &d); err != nil {
		return "", fmt.Errorf("sqlstore: decode document: %w", err)
	}
	for name, v := range set {
		replaced := false
		for i := range d {
			if d[i].Key == name {
				d[i].Value = v
				replaced = true
				break
			}
		}
		if !replaced {
			d = append(d, bson.E{Key: name, Value: v})
		}
	}
	out, err := bson.MarshalExtJSON(d, false, false)
	if err != nil {
		return "", fmt.Errorf("sqlstore: encode document: %w", err)
	}
	return string(out), nil
}
