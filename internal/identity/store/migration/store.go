// Package migration persists the ledger of applied backfill migrations.
//
// A migration claims its ledger entry before doing any work. The entry name
// is the primary key, so a concurrent or repeated run of the same migration
// fails to claim and becomes a no-op. A failed run releases its entry so the
// migration can be retried.
package migration

import (
	"context"

	"phonegate/internal/identity/models"
)

// Store is the append-mostly ledger of applied migrations.
type Store interface {
	// Claim inserts the ledger entry for name. It returns
	// sentinel.ErrConflict when the entry already exists.
	Claim(ctx context.Context, name string) error

	// Release removes the ledger entry for a failed run. Releasing a
	// missing entry is not an error.
	Release(ctx context.Context, name string) error

	// IsApplied reports whether the named migration holds a ledger entry.
	IsApplied(ctx context.Context, name string) (bool, error)

	// List returns all ledger entries ordered by application time.
	List(ctx context.Context) ([]models.MigrationLedgerEntry, error)
}
