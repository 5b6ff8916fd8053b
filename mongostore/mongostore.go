// Package mongostore implements the document driver on the official mongo
// driver.
//
// Mongo sessions are not safe for concurrent use, while a unit of work runs
// its commands concurrently on one session. Every call made with a session
// context therefore holds that session's mutex for the duration of the round
// trip.
package mongostore

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/goliatone/go-repository-core/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	_ document.Client     = (*Client)(nil)
	_ document.Database   = (*Database)(nil)
	_ document.Collection = (*Collection)(nil)
	_ document.Session    = (*Session)(nil)
)

const defaultConnectTimeout = 10 * time.Second

// Client wraps a connected *mongo.Client.
type Client struct {
	client *mongo.Client
}

// Connect dials uri and pings the primary within timeout.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return NewClient(client), nil
}

// NewClient wraps an already connected client.
func NewClient(client *mongo.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Database(name string) document.Database {
	return &Database{client: c.client, db: c.client.Database(name)}
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Database is one mongo database.
type Database struct {
	client *mongo.Client
	db     *mongo.Database
}

func (d *Database) Name() string {
	return d.db.Name()
}

func (d *Database) Collection(name string) document.Collection {
	return &Collection{coll: d.db.Collection(name)}
}

// StartSession opens a mongo session. Transactions need a replica set or a
// sharded cluster.
func (d *Database) StartSession(context.Context) (document.Session, error) {
	s, err := d.client.StartSession()
	if err != nil {
		return nil, err
	}
	return &Session{session: s}, nil
}

type sessionKey struct{}

// Session serializes the use of one mongo session.
type Session struct {
	mu      sync.Mutex
	session mongo.Session
}

func (s *Session) StartTransaction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.StartTransaction()
}

func (s *Session) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.CommitTransaction(ctx)
}

func (s *Session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.AbortTransaction(ctx)
}

func (s *Session) EndSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.EndSession(ctx)
}

// Context binds ctx to the session.
func (s *Session) Context(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, sessionKey{}, s)
	return mongo.NewSessionContext(ctx, s.session)
}

// guard locks the session bound to ctx, if any.
func guard(ctx context.Context) func() {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Collection is one mongo collection.
type Collection struct {
	coll *mongo.Collection
}

func (c *Collection) Name() string {
	return c.coll.Name()
}

func (c *Collection) Find(ctx context.Context, filter document.Filter, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return document.ErrInvalidOutput
	}
	q, err := compile(filter)
	if err != nil {
		return err
	}
	defer guard(ctx)()

	cur, err := c.coll.Find(ctx, q)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

func (c *Collection) Count(ctx context.Context, filter document.Filter) (int64, error) {
	q, err := compile(filter)
	if err != nil {
		return 0, err
	}
	defer guard(ctx)()
	return c.coll.CountDocuments(ctx, q)
}

func (c *Collection) InsertOne(ctx context.Context, doc any) error {
	defer guard(ctx)()
	_, err := c.coll.InsertOne(ctx, doc)
	return mapError(err)
}

func (c *Collection) ReplaceOne(ctx context.Context, filter document.Filter, doc any) (int64, error) {
	q, err := compile(filter)
	if err != nil {
		return 0, err
	}
	defer guard(ctx)()
	res, err := c.coll.ReplaceOne(ctx, q, doc)
	if err != nil {
		return 0, mapError(err)
	}
	return res.MatchedCount, nil
}

func (c *Collection) UpdateMany(ctx context.Context, filter document.Filter, set map[string]any) (int64, error) {
	q, err := compile(filter)
	if err != nil {
		return 0, err
	}
	defer guard(ctx)()
	res, err := c.coll.UpdateMany(ctx, q, bson.D{{Key: "$set", Value: bson.M(set)}})
	if err != nil {
		return 0, mapError(err)
	}
	return res.MatchedCount, nil
}

func (c *Collection) DeleteMany(ctx context.Context, filter document.Filter) (int64, error) {
	q, err := compile(filter)
	if err != nil {
		return 0, err
	}
	defer guard(ctx)()
	res, err := c.coll.DeleteMany(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c *Collection) CreateIndex(ctx context.Context, index document.IndexSpec) error {
	if len(index.Fields) == 0 {
		return fmt.Errorf("mongostore: index %q has no fields", index.Name)
	}
	opts := options.Index().SetUnique(index.Unique)
	if index.Name != "" {
		opts.SetName(index.Name)
	}
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    indexKeys(index.Fields),
		Options: opts,
	})
	return err
}

// mapError exposes duplicate key failures as document.ErrDuplicateKey while
// keeping the driver error in the chain.
func mapError(err error) error {
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", document.ErrDuplicateKey, err)
	}
	return err
}
