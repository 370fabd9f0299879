package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/sentinel"
)

// PostgresStore reads the operator directory from Postgres.
type PostgresStore struct {
	pool *sql.DB
}

func NewPostgres(pool *sql.DB) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindOperator(ctx context.Context, operatorID id.OperatorID) (*Operator, error) {
	var (
		opID     uuid.UUID
		tenantID uuid.UUID
		operator Operator
	)
	err := s.pool.QueryRowContext(ctx,
		`SELECT id, tenant_id, is_active FROM operators WHERE id = $1`,
		operatorID.String(),
	).Scan(&opID, &tenantID, &operator.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find operator: %w", err)
	}
	operator.ID = id.OperatorID(opID)
	operator.TenantID = id.TenantID(tenantID)
	return &operator, nil
}
