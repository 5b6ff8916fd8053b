package txbuilder

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/goliatone/go-repository-core/document"
	"github.com/goliatone/go-repository-core/repository"
	"github.com/goliatone/go-repository-core/transaction"
	"github.com/goliatone/go-repository-core/unitofwork"
)

type serviceKey struct {
	entity reflect.Type
	id     reflect.Type
}

func keyFor[D document.OrganizationDocument[ID], ID comparable]() serviceKey {
	return serviceKey{entity: reflect.TypeFor[D](), id: reflect.TypeFor[ID]()}
}

// Builder composes repositories, one transaction and a unit of work into a
// single unit for one request. It is not safe to share across requests.
type Builder struct {
	txService *transaction.Service
	uow       *unitofwork.UnitOfWork

	mu       sync.Mutex
	services map[serviceKey]any
	tx       transaction.Transaction
	tasks    []unitofwork.Command
}

// New creates a builder. txService may be nil when no explicit transaction is
// needed.
func New(txService *transaction.Service, uow *unitofwork.UnitOfWork) *Builder {
	return &Builder{
		txService: txService,
		uow:       uow,
		services:  make(map[serviceKey]any),
	}
}

// AddService registers repo under its (entity, id) type pair and returns the
// builder for chaining. A later registration for the same pair replaces it.
func AddService[D document.OrganizationDocument[ID], ID comparable](b *Builder, repo *repository.Repository[D, ID]) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.services[keyFor[D, ID]()] = repo
	return b
}

// GetService returns the repository registered for (D, ID).
func GetService[D document.OrganizationDocument[ID], ID comparable](b *Builder) (*repository.Repository[D, ID], bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	repo, ok := b.services[keyFor[D, ID]()].(*repository.Repository[D, ID])
	return repo, ok
}

// MustGetService is GetService that panics when nothing is registered.
func MustGetService[D document.OrganizationDocument[ID], ID comparable](b *Builder) *repository.Repository[D, ID] {
	repo, ok := GetService[D, ID](b)
	if !ok {
		k := keyFor[D, ID]()
		panic(fmt.Sprintf("txbuilder: no repository registered for (%s, %s)", k.entity, k.id))
	}
	return repo
}

// GetTransaction returns the builder transaction, creating it on first call.
// A failed creation is not remembered so the next call retries.
func (b *Builder) GetTransaction(ctx context.Context) (transaction.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tx != nil {
		return b.tx, nil
	}
	tx, err := b.txService.Create(ctx)
	if err != nil {
		return nil, err
	}
	b.tx = tx
	return tx, nil
}

// Context binds ctx to the builder transaction, creating it if needed. A unit
// of work flushed with the result enlists in the transaction.
func (b *Builder) Context(ctx context.Context) (context.Context, error) {
	tx, err := b.GetTransaction(ctx)
	if err != nil {
		return nil, err
	}
	return tx.Context(ctx), nil
}

// AddTask appends a deferred operation. The builder never runs tasks.
func (b *Builder) AddTask(task unitofwork.Command) *Builder {
	if task == nil {
		return b
	}
	b.mu.Lock()
	b.tasks = append(b.tasks, task)
	b.mu.Unlock()
	return b
}

// Tasks returns a copy of the queued tasks in insertion order.
func (b *Builder) Tasks() []unitofwork.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]unitofwork.Command(nil), b.tasks...)
}

func (b *Builder) UnitOfWork() *unitofwork.UnitOfWork {
	return b.uow
}

func (b *Builder) TransactionService() *transaction.Service {
	return b.txService
}

// Commit commits the builder transaction if one was created.
func (b *Builder) Commit(ctx context.Context) error {
	b.mu.Lock()
	tx := b.tx
	b.mu.Unlock()
	if tx == nil {
		return nil
	}
	return b.txService.Commit(ctx, tx)
}

// Close ends the builder transaction, aborting it if it was not committed.
func (b *Builder) Close(ctx context.Context) {
	b.mu.Lock()
	tx := b.tx
	b.tx = nil
	b.mu.Unlock()
	if tx != nil {
		tx.End(ctx)
	}
}
