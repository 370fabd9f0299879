package duplicate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"phonegate/internal/identity/models"
	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/tx"
)

// PostgresStore persists the duplicate ledger in Postgres.
type PostgresStore struct {
	pool *sql.DB
}

func NewPostgres(pool *sql.DB) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// execer returns the transaction bound to ctx when one is present, so ledger
// writes can join the registration transaction.
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

const duplicateColumns = `id, customer_id, tenant_id, first_owner_operator_id, duplicate_operator_id, duplicate_channel_id, occurred_at`

func (s *PostgresStore) Record(ctx context.Context, record *models.DuplicateRecord) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO duplicates (`+duplicateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID.String(),
		record.CustomerID.String(),
		record.TenantID.String(),
		record.FirstOwnerOperatorID.String(),
		record.DuplicateOperatorID.String(),
		record.DuplicateChannelID.String(),
		record.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert duplicate record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]models.DuplicateRecord, error) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if !filter.TenantID.IsNil() {
		args = append(args, filter.TenantID.String())
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if !filter.OperatorID.IsNil() {
		args = append(args, filter.OperatorID.String())
		clauses = append(clauses, fmt.Sprintf("(first_owner_operator_id = $%d OR duplicate_operator_id = $%d)", len(args), len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	args = append(args, normalizeLimit(filter.Limit))
	limitPos := len(args)
	args = append(args, filter.Offset)
	offsetPos := len(args)

	query := `SELECT ` + duplicateColumns + ` FROM duplicates` + where +
		fmt.Sprintf(` ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, limitPos, offsetPos)

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list duplicates: %w", err)
	}
	defer rows.Close()

	records := make([]models.DuplicateRecord, 0)
	for rows.Next() {
		record, err := scanDuplicate(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duplicates: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) CountByCustomer(ctx context.Context, customerID id.CustomerID) (int, error) {
	var count int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM duplicates WHERE customer_id = $1`,
		customerID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count duplicates: %w", err)
	}
	return count, nil
}

// CleanupOrphans removes ledger rows whose customer no longer exists.
func (s *PostgresStore) CleanupOrphans(ctx context.Context) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM duplicates d
		WHERE NOT EXISTS (SELECT 1 FROM customers c WHERE c.id = d.customer_id)`)
	if err != nil {
		return 0, fmt.Errorf("cleanup orphan duplicates: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup orphan duplicates affected rows: %w", err)
	}
	return int(affected), nil
}

func scanDuplicate(rows *sql.Rows) (*models.DuplicateRecord, error) {
	var (
		recordID   uuid.UUID
		customerID uuid.UUID
		tenantID   uuid.UUID
		firstOwner uuid.UUID
		dupOwner   uuid.UUID
		dupChannel uuid.UUID
		record     models.DuplicateRecord
	)
	if err := rows.Scan(
		&recordID,
		&customerID,
		&tenantID,
		&firstOwner,
		&dupOwner,
		&dupChannel,
		&record.OccurredAt,
	); err != nil {
		return nil, fmt.Errorf("scan duplicate record: %w", err)
	}
	record.ID = id.DuplicateID(recordID)
	record.CustomerID = id.CustomerID(customerID)
	record.TenantID = id.TenantID(tenantID)
	record.FirstOwnerOperatorID = id.OperatorID(firstOwner)
	record.DuplicateOperatorID = id.OperatorID(dupOwner)
	record.DuplicateChannelID = id.ChannelID(dupChannel)
	return &record, nil
}
