// Package db opens the PostgreSQL pool and bootstraps the schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
)

// Open connects to PostgreSQL through an OpenTelemetry-instrumented driver so
// every query shows up in traces and connection-pool metrics.
func Open(databaseURL string) (*sql.DB, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.AllowRoot(),
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsAffected(),
		otelsql.WithDatabaseName("phonegate"),
		otelsql.WithSystem(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("register instrumented driver: %w", err)
	}

	pool, err := sql.Open(driverName, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := otelsql.RecordStats(pool, otelsql.WithDatabaseName("phonegate")); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("record pool stats: %w", err)
	}

	return pool, nil
}

// schemaLockID serializes schema bootstrap across concurrently starting
// processes via a pg advisory lock.
const schemaLockID = 4846821

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		owner_operator_id UUID NOT NULL,
		channel_id UUID NOT NULL,
		fingerprint TEXT NOT NULL,
		fingerprint_scheme TEXT NOT NULL,
		legacy_signature TEXT NOT NULL DEFAULT '',
		phone_encrypted TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT customers_tenant_fingerprint_key UNIQUE (tenant_id, fingerprint)
	)`,
	`CREATE INDEX IF NOT EXISTS customers_tenant_signature_idx
		ON customers (tenant_id, legacy_signature)`,
	`CREATE TABLE IF NOT EXISTS duplicates (
		id UUID PRIMARY KEY,
		customer_id UUID NOT NULL,
		tenant_id UUID NOT NULL,
		first_owner_operator_id UUID NOT NULL,
		duplicate_operator_id UUID NOT NULL,
		duplicate_channel_id UUID NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS duplicates_customer_idx ON duplicates (customer_id)`,
	`CREATE INDEX IF NOT EXISTS duplicates_tenant_idx ON duplicates (tenant_id)`,
	`CREATE TABLE IF NOT EXISTS backfill_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS operators (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_outbox (
		id UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS audit_outbox_unpublished_idx
		ON audit_outbox (created_at) WHERE published_at IS NULL`,
}

// Migrate creates the schema if it does not exist yet, guarded by an advisory
// lock so concurrently starting instances do not race on DDL.
func Migrate(ctx context.Context, pool *sql.DB) error {
	conn, err := pool.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, schemaLockID)
	}()

	for _, stmt := range schemaStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
