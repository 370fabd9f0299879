// Package directory resolves operators for tenant-scope checks.
package directory

import (
	"context"

	id "phonegate/pkg/domain"
)

// Operator is a registered operator account. TenantID is the admin tenant the
// operator belongs to.
type Operator struct {
	ID       id.OperatorID
	TenantID id.TenantID
	Active   bool
}

// Lookup resolves operators by ID. Implementations return
// sentinel.ErrNotFound for unknown operators.
type Lookup interface {
	FindOperator(ctx context.Context, operatorID id.OperatorID) (*Operator, error)
}
