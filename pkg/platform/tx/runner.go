package tx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Runner provides a transactional boundary for multi-store mutations.
// Implementations bind a database transaction to the derived context so
// stores using the execer pattern join it transparently.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// beginTxer is the subset of *sql.DB the SQL runner needs.
type beginTxer interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// NopRunner runs the function without a transaction, for memory stores.
type NopRunner struct{}

func (NopRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// SQLRunner wraps mutations in a database transaction.
type SQLRunner struct {
	pool beginTxer
}

func NewSQLRunner(pool beginTxer) *SQLRunner {
	return &SQLRunner{pool: pool}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txn, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(WithTx(ctx, txn)); err != nil {
		if rbErr := txn.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback transaction: %w", rbErr))
		}
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
