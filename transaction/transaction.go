package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTransactionDone = errors.New("transaction: already committed or aborted")
	ErrNoDatabase      = errors.New("transaction: service has no database")
)

// Transaction is a handle on an explicit transaction. The creator owns it and
// must call End on every path.
type Transaction interface {
	// Context binds ctx to the transaction so store calls made with it join it.
	Context(ctx context.Context) context.Context
	// End releases the transaction, aborting it if it is still open.
	End(ctx context.Context)
}

type txKey struct{}

// FromContext returns the store-native transaction bound to ctx by Context.
func FromContext(ctx context.Context) (*SessionTransaction, bool) {
	tx, ok := ctx.Value(txKey{}).(*SessionTransaction)
	return tx, ok && tx != nil
}

// SessionTransaction is the store-native Transaction over a document session.
type SessionTransaction struct {
	id       string
	session  document.Session
	database string

	mu       sync.Mutex
	done     bool
	ended    bool
	onCommit []func(context.Context)
}

func (t *SessionTransaction) Context(ctx context.Context) context.Context {
	return t.session.Context(context.WithValue(ctx, txKey{}, t))
}

// ID identifies the transaction in logs.
func (t *SessionTransaction) ID() string {
	return t.id
}

// Database is the name of the database the transaction was opened on.
func (t *SessionTransaction) Database() string {
	return t.database
}

// Done reports whether the transaction was committed or aborted.
func (t *SessionTransaction) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// OnCommit registers fn to run after the transaction commits. Registered
// functions are dropped if it aborts or fails to commit. On a finished
// transaction OnCommit returns ErrTransactionDone and fn never runs.
func (t *SessionTransaction) OnCommit(fn func(ctx context.Context)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || t.ended {
		return ErrTransactionDone
	}
	t.onCommit = append(t.onCommit, fn)
	return nil
}

func (t *SessionTransaction) finish(ctx context.Context, commit bool) error {
	t.mu.Lock()
	if t.done || t.ended {
		t.mu.Unlock()
		return ErrTransactionDone
	}
	t.done = true
	hooks := t.onCommit
	t.onCommit = nil

	if !commit {
		defer t.mu.Unlock()
		return t.session.AbortTransaction(ctx)
	}
	err := t.session.CommitTransaction(ctx)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

func (t *SessionTransaction) End(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return
	}
	t.ended = true
	ctx = context.WithoutCancel(ctx)
	if !t.done {
		t.done = true
		t.onCommit = nil
		_ = t.session.AbortTransaction(ctx)
	}
	t.session.EndSession(ctx)
}

// Service opens explicit transactions on one database.
type Service struct {
	db     document.Database
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a Service over db.
func NewService(db document.Database, opts ...Option) *Service {
	s := &Service{db: db}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNop(s.logger)
	return s
}

// Create starts a session and a transaction on it.
func (s *Service) Create(ctx context.Context) (Transaction, error) {
	if s == nil || s.db == nil {
		return nil, ErrNoDatabase
	}
	session, err := s.db.StartSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("transaction: start session: %w", err)
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return nil, fmt.Errorf("transaction: start: %w", err)
	}
	tx := &SessionTransaction{id: uuid.NewString(), session: session, database: s.db.Name()}
	logger.From(ctx, s.logger).Debug("transaction started",
		logger.Database(tx.database),
		zap.String("tx_id", tx.id),
	)
	return tx, nil
}

// Commit commits tx. Handles that are not a *SessionTransaction are ignored.
func (s *Service) Commit(ctx context.Context, tx Transaction) error {
	st, ok := tx.(*SessionTransaction)
	if !ok || st == nil {
		return nil
	}
	if err := st.finish(ctx, true); err != nil {
		return err
	}
	logger.From(ctx, s.logger).Debug("transaction committed", zap.String("tx_id", st.id))
	return nil
}

// Abort aborts tx. Handles that are not a *SessionTransaction are ignored.
func (s *Service) Abort(ctx context.Context, tx Transaction) error {
	st, ok := tx.(*SessionTransaction)
	if !ok || st == nil {
		return nil
	}
	return st.finish(context.WithoutCancel(ctx), false)
}

// Run executes fn inside a new transaction, committing when fn returns nil and
// aborting otherwise. A panic in fn aborts the transaction and is re-raised.
func (s *Service) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := s.Create(ctx)
	if err != nil {
		return err
	}
	defer tx.End(ctx)

	defer func() {
		if r := recover(); r != nil {
			_ = s.Abort(ctx, tx)
			panic(r)
		}
	}()

	if err := fn(tx.Context(ctx)); err != nil {
		if abortErr := s.Abort(ctx, tx); abortErr != nil {
			logger.From(ctx, s.logger).Warn("transaction abort failed", zap.Error(abortErr))
		}
		return err
	}
	return s.Commit(ctx, tx)
}
