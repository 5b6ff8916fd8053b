package unitofwork

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/metrics"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"github.com/goliatone/go-repository-core/transaction"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed            = errors.New("unitofwork: closed")
	ErrCloseTimeout      = errors.New("unitofwork: timed out waiting for in-flight transaction")
	ErrTransactionActive = errors.New("unitofwork: transaction in flight")
	ErrNoConnector       = errors.New("unitofwork: no connector")
)

const DefaultCloseTimeout = 30 * time.Second

// Command is a deferred mutation. Commands queued for the same save run
// concurrently and must not depend on each other.
type Command func(ctx context.Context) error

// Connector opens the named logical database.
type Connector func(ctx context.Context, database string) (document.Database, error)

// ClientConnector returns a Connector that opens databases from client.
func ClientConnector(client document.Client) Connector {
	return func(_ context.Context, database string) (document.Database, error) {
		return client.Database(database), nil
	}
}

// DatabaseConnector returns a Connector bound to a single database, whatever
// name is asked for.
func DatabaseConnector(db document.Database) Connector {
	return func(context.Context, string) (document.Database, error) {
		return db, nil
	}
}

// UnitOfWork buffers commands and flushes them on SaveChanges, inside one
// transaction when transactions are enabled.
type UnitOfWork struct {
	connector      Connector
	transactions   bool
	closeTimeout   time.Duration
	maxConcurrency int
	logger         *zap.Logger
	metrics        *metrics.Collectors

	mu       sync.Mutex
	queue    []Command
	hooks    []func(context.Context)
	database string
	db       document.Database
	closed   bool
	inFlight int
	idle     chan struct{}
}

// New creates a unit of work that opens its database through connector.
func New(connector Connector, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		connector:    connector,
		transactions: true,
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = logger.OrNop(u.logger)
	return u
}

// AddCommand queues cmd. Nothing runs until SaveChanges.
func (u *UnitOfWork) AddCommand(cmd Command) {
	if cmd == nil {
		return
	}
	u.mu.Lock()
	u.queue = append(u.queue, cmd)
	u.mu.Unlock()
}

// AfterSave registers fn to run once the next SaveChanges succeeds. It is
// dropped with the queue when that save fails or the unit of work closes.
func (u *UnitOfWork) AfterSave(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	u.mu.Lock()
	u.hooks = append(u.hooks, fn)
	u.mu.Unlock()
}

// Pending returns the number of queued commands.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.queue)
}

// DatabaseName returns the logical database commands run against.
func (u *UnitOfWork) DatabaseName() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.database
}

// UseDatabase switches the logical database. The connection is re-opened on
// next use.
func (u *UnitOfWork) UseDatabase(name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	if u.inFlight > 0 {
		return ErrTransactionActive
	}
	if name != u.database {
		u.database = name
		u.db = nil
	}
	return nil
}

// Database returns the current database, connecting if needed.
func (u *UnitOfWork) Database(ctx context.Context) (document.Database, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connectLocked(ctx)
}

func (u *UnitOfWork) connectLocked(ctx context.Context) (document.Database, error) {
	if u.db != nil {
		return u.db, nil
	}
	if u.connector == nil {
		return nil, ErrNoConnector
	}
	db, err := u.connector(ctx, u.database)
	if err != nil {
		return nil, fmt.Errorf("unitofwork: connect %q: %w", u.database, err)
	}
	u.db = db
	return db, nil
}

// SaveChanges runs every queued command and reports how many were queued.
// The queue is empty afterwards whatever the outcome, so a retry never
// replays a command.
//
// If ctx is bound to an explicit transaction on the same database the
// commands enlist in it and committing is left to its owner; AfterSave hooks
// then run once that transaction commits. Otherwise, with
// transactions enabled, the commands run in a new transaction that commits
// only if all of them succeed.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int, error) {
	start := time.Now()
	cmds, hooks, db, err := u.begin(ctx)
	if err != nil {
		return len(cmds), err
	}
	n := len(cmds)
	if n == 0 {
		u.metrics.SaveCompleted(0, 0, nil)
		runHooks(ctx, hooks)
		return 0, nil
	}
	defer u.end()

	log := logger.From(ctx, u.logger).With(logger.Database(db.Name()), logger.Count(n))

	switch tx, ok := transaction.FromContext(ctx); {
	case ok && tx.Database() == db.Name():
		err = u.run(ctx, cmds, false)
		log.Debug("commands enlisted in caller transaction", zap.Error(err))
		if err == nil {
			// the writes are not visible until the owner commits
			err = deferHooks(tx, hooks)
			hooks = nil
		}
	case u.transactions:
		err = u.runInTransaction(ctx, db, cmds)
		if err != nil {
			log.Warn("unit of work aborted", zap.Error(err))
		} else {
			log.Debug("unit of work committed")
		}
	default:
		err = u.run(ctx, cmds, false)
		log.Debug("commands flushed without transaction", zap.Error(err))
	}

	u.metrics.SaveCompleted(n, time.Since(start), err)
	if err == nil {
		runHooks(ctx, hooks)
	}
	return n, err
}

func deferHooks(tx *transaction.SessionTransaction, hooks []func(context.Context)) error {
	for _, fn := range hooks {
		if err := tx.OnCommit(fn); err != nil {
			return err
		}
	}
	return nil
}

func runHooks(ctx context.Context, hooks []func(context.Context)) {
	for _, fn := range hooks {
		fn(ctx)
	}
}

// begin drains the queue and marks a flush as in flight.
func (u *UnitOfWork) begin(ctx context.Context) ([]Command, []func(context.Context), document.Database, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	cmds, hooks := u.queue, u.hooks
	u.queue, u.hooks = nil, nil
	if u.closed {
		return cmds, nil, nil, ErrClosed
	}
	if len(cmds) == 0 {
		return nil, hooks, nil, nil
	}
	db, err := u.connectLocked(ctx)
	if err != nil {
		return cmds, nil, nil, err
	}
	u.inFlight++
	if u.inFlight == 1 {
		u.idle = make(chan struct{})
	}
	return cmds, hooks, db, nil
}

func (u *UnitOfWork) end() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inFlight--
	if u.inFlight == 0 && u.idle != nil {
		close(u.idle)
		u.idle = nil
	}
}

func (u *UnitOfWork) runInTransaction(ctx context.Context, db document.Database, cmds []Command) error {
	session, err := db.StartSession(ctx)
	if err != nil {
		return err
	}
	defer session.EndSession(context.WithoutCancel(ctx))

	if err := session.StartTransaction(); err != nil {
		return err
	}
	if err := u.run(session.Context(ctx), cmds, true); err != nil {
		if abortErr := session.AbortTransaction(context.WithoutCancel(ctx)); abortErr != nil {
			logger.From(ctx, u.logger).Warn("abort failed", zap.Error(abortErr))
		}
		return err
	}
	return session.CommitTransaction(ctx)
}

// run executes cmds concurrently and returns the first error. When failFast is
// set the first failure cancels the context handed to the remaining commands.
func (u *UnitOfWork) run(ctx context.Context, cmds []Command, failFast bool) error {
	var g *errgroup.Group
	if failFast {
		g, ctx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}
	if u.maxConcurrency > 0 {
		g.SetLimit(u.maxConcurrency)
	}
	for _, cmd := range cmds {
		g.Go(func() error {
			return cmd(ctx)
		})
	}
	return g.Wait()
}

// Close rejects further saves and waits for an in-flight flush to finish.
// The wait is bounded by the close timeout and by ctx; on expiry it returns
// ErrCloseTimeout and the flush keeps running.
func (u *UnitOfWork) Close(ctx context.Context) error {
	u.mu.Lock()
	u.closed = true
	u.queue = nil
	u.hooks = nil
	idle := u.idle
	u.mu.Unlock()

	if idle == nil {
		return nil
	}

	timer := time.NewTimer(u.closeTimeout)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-timer.C:
		logger.From(ctx, u.logger).Warn("unit of work close timed out", zap.Duration("timeout", u.closeTimeout))
		return ErrCloseTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCloseTimeout, ctx.Err())
	}
}
