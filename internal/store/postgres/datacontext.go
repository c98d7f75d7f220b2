// Package postgres is the pgx-backed implementation of the store
// abstraction, grounded on the teacher's
// internal/repo/postgres/jobs_repo.go: a held pool/tx, an observe()
// wrapper around every query for metrics, and pgconn-based error
// classification.
package postgres

import (
	"context"

	"github.com/chainsharp/scheduler/internal/observability"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx this package
// drives its repos through, so every repo works unchanged whether it
// is handed the pool or a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DataContext is the pgx-backed store.DataContext.
type DataContext struct {
	db   querier
	pool *pgxpool.Pool // nil when this DataContext is transaction-scoped
	prom *observability.Prom
}

func New(pool *pgxpool.Pool, prom *observability.Prom) *DataContext {
	return &DataContext{db: pool, pool: pool, prom: prom}
}

func (dc *DataContext) observe(op string, fn func() error) error {
	if dc.prom != nil {
		return dc.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (dc *DataContext) ManifestGroups() store.ManifestGroupStore {
	return &manifestGroupRepo{dc: dc}
}

func (dc *DataContext) Manifests() store.ManifestStore {
	return &manifestRepo{dc: dc}
}

func (dc *DataContext) WorkQueue() store.WorkQueueStore {
	return &workQueueRepo{dc: dc}
}

func (dc *DataContext) Executions() store.ExecutionStore {
	return &executionRepo{dc: dc}
}

func (dc *DataContext) DeadLetters() store.DeadLetterStore {
	return &deadLetterRepo{dc: dc}
}

// BeginTransaction starts a transaction and returns a DataContext
// bound to it, per the store.DataContext contract.
func (dc *DataContext) BeginTransaction(ctx context.Context) (store.DataContext, store.Tx, error) {
	if dc.pool == nil {
		return nil, nil, errNestedTransaction
	}
	tx, err := dc.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	txDC := &DataContext{db: tx, prom: dc.prom}
	return txDC, tx, nil
}

// TryAdvisoryLock acquires a transaction-scoped advisory lock, per
// spec.md §9. Must be called on a DataContext returned from
// BeginTransaction.
func (dc *DataContext) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var acquired bool
	err := dc.observe("advisory_lock.try", func() error {
		return dc.db.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, key).Scan(&acquired)
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}
