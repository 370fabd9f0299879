// Package customer persists registered customers and resolves
// insert-vs-duplicate outcomes.
//
// Error Contract:
// All store methods follow this pattern:
//   - Return sentinel.ErrNotFound (wrapped) when the requested entity does not exist
//   - Return sentinel.ErrConflict (wrapped) when a uniqueness violation cannot be
//     resolved to an owning row
//   - Return wrapped errors with context for infrastructure failures
package customer

import (
	"context"

	"phonegate/internal/identity/models"
	id "phonegate/pkg/domain"
)

// ListFilter narrows List to a tenant or operator scope. Nil IDs mean
// unscoped (super admin). Limit of zero applies the default page size.
type ListFilter struct {
	TenantID   id.TenantID
	OperatorID id.OperatorID
	Offset     int
	Limit      int
}

// SignatureGroup is a set of live customers sharing one legacy signature
// within a tenant. Members are ordered by creation time ascending, so
// Members[0] is the canonical first-written row.
type SignatureGroup struct {
	TenantID  id.TenantID
	Signature string
	Members   []models.Customer
}

// Store is the identity store contract.
//
// TryRegister attempts an unconditional insert guarded by the
// (tenant_id, fingerprint) uniqueness constraint, which is the sole
// serialization point for the at-most-one-live-customer invariant. On a
// uniqueness conflict it re-reads by fingerprint, then by legacy signature,
// earliest-created first; if neither lookup finds a row after a bounded
// number of retries the conflict is surfaced as sentinel.ErrConflict.
type Store interface {
	TryRegister(ctx context.Context, customer *models.Customer) (models.Outcome, error)
	FindByID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
	FindByFingerprint(ctx context.Context, tenantID id.TenantID, fingerprint string) (*models.Customer, error)
	List(ctx context.Context, filter ListFilter) ([]models.Customer, error)

	// Migration support.
	ListByScheme(ctx context.Context, scheme models.FingerprintScheme) ([]models.Customer, error)
	ListMissingSignature(ctx context.Context) ([]models.Customer, error)
	UpdateFingerprint(ctx context.Context, customerID id.CustomerID, fingerprint string, scheme models.FingerprintScheme, signature string) error
	UpdateSignature(ctx context.Context, customerID id.CustomerID, signature string) error
	SignatureGroups(ctx context.Context) ([]SignatureGroup, error)
	Delete(ctx context.Context, customerID id.CustomerID) error
}

const defaultPageSize = 20

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}
