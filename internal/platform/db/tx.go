package db

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const txKey contextKey = "db_tx"

// Querier is the subset of pgx operations the repositories use. Both
// *pgxpool.Pool and pgx.Tx satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxFromContext returns the transaction carried in ctx, or nil when the
// caller is not inside a unit of work.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// Runner executes units of work. Services depend on this interface so tests
// can run the function directly without a database.
type Runner interface {
	// InTx runs fn inside a transaction. The transaction is stored in the
	// context handed to fn; repositories pick it up via TxFromContext. The
	// transaction commits when fn returns nil and rolls back otherwise,
	// including on context cancellation.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// AdvisoryLock takes a transaction-scoped advisory lock on the given key.
	// Must be called inside InTx; the lock releases at commit or rollback.
	AdvisoryLock(ctx context.Context, key int64) error
}

type pgRunner struct {
	pool *pgxpool.Pool
}

func NewRunner(pool *pgxpool.Pool) Runner { return &pgRunner{pool: pool} }

func (r *pgRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		// Already inside a unit of work; join it.
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *pgRunner) AdvisoryLock(ctx context.Context, key int64) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return pgx.ErrTxClosed
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key)
	return err
}

// SlotLockKey derives the advisory-lock key serializing appointment placement
// for one provider calendar day. Concurrent writers for the same (provider,
// date) queue behind it; distinct days proceed in parallel.
func SlotLockKey(providerID uuid.UUID, date time.Time) int64 {
	h := fnv.New64a()
	h.Write(providerID[:])
	h.Write([]byte(date.Format("2006-01-02")))
	return int64(h.Sum64())
}

// InvoiceLockKey derives the advisory-lock key serializing invoice generation
// for one (patient, period) pair.
func InvoiceLockKey(patientID uuid.UUID, periodStart time.Time) int64 {
	h := fnv.New64a()
	h.Write(patientID[:])
	h.Write([]byte(periodStart.Format("2006-01-02")))
	return int64(h.Sum64())
}
