// Package duplicate persists the append-only audit trail of rejected
// duplicate submissions.
package duplicate

import (
	"context"

	"phonegate/internal/identity/models"
	id "phonegate/pkg/domain"
)

// ListFilter narrows List to a tenant or operator scope. Nil IDs mean
// unscoped (super admin).
type ListFilter struct {
	TenantID   id.TenantID
	OperatorID id.OperatorID
	Offset     int
	Limit      int
}

// Store is the duplicate-ledger contract. Record always succeeds for a valid
// record; repeated calls against the same customer each add a distinct row.
// The ledger is a full collision history, not a deduplicated set.
type Store interface {
	Record(ctx context.Context, record *models.DuplicateRecord) error
	List(ctx context.Context, filter ListFilter) ([]models.DuplicateRecord, error)
	CountByCustomer(ctx context.Context, customerID id.CustomerID) (int, error)

	// CleanupOrphans removes rows whose customer no longer exists (external
	// cascade deletions) and reports how many were removed.
	CleanupOrphans(ctx context.Context) (int, error)
}

const defaultPageSize = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}
