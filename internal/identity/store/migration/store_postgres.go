package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"phonegate/internal/identity/models"
	"phonegate/pkg/platform/sentinel"
	"phonegate/pkg/platform/tx"
	"phonegate/pkg/requestcontext"
)

const uniqueViolation = pq.ErrorCode("23505")

// PostgresStore persists the migration ledger in Postgres.
type PostgresStore struct {
	pool *sql.DB
}

func NewPostgres(pool *sql.DB) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) execer(ctx context.Context) interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
} {
	if txn, ok := tx.From(ctx); ok {
		return txn
	}
	return s.pool
}

func (s *PostgresStore) Claim(ctx context.Context, name string) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO backfill_migrations (name, applied_at) VALUES ($1, $2)`,
		name, requestcontext.Now(ctx),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("claim migration %q: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, name string) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM backfill_migrations WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("release migration %q: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) IsApplied(ctx context.Context, name string) (bool, error) {
	var applied bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM backfill_migrations WHERE name = $1)`, name,
	).Scan(&applied)
	if err != nil {
		return false, fmt.Errorf("check migration %q: %w", name, err)
	}
	return applied, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.MigrationLedgerEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT name, applied_at FROM backfill_migrations ORDER BY applied_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	entries := make([]models.MigrationLedgerEntry, 0)
	for rows.Next() {
		var entry models.MigrationLedgerEntry
		if err := rows.Scan(&entry.Name, &entry.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migrations: %w", err)
	}
	return entries, nil
}
