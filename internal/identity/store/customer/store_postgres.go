package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"phonegate/internal/identity/models"
	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/sentinel"
	txcontext "phonegate/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL error code raised when a fingerprint
// recomputation collides with the customers_tenant_fingerprint_key constraint.
const uniqueViolation = pq.ErrorCode("23505")

// reReadAttempts bounds the visibility window after a uniqueness conflict:
// under read-committed isolation the winning row becomes visible once its
// transaction commits, so a handful of re-reads suffices.
const reReadAttempts = 3

const customerColumns = `id, tenant_id, owner_operator_id, channel_id, fingerprint, fingerprint_scheme, legacy_signature, phone_encrypted, created_at`

// PostgresStore persists customers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed customer store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) TryRegister(ctx context.Context, customer *models.Customer) (models.Outcome, error) {
	// DO NOTHING instead of a raised 23505: TryRegister runs inside the
	// registration transaction, and a raised error would abort it, so the
	// conflict re-reads below would fail with 25P02. The constraint is still
	// the sole serialization point; zero rows affected is the conflict signal.
	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ON CONSTRAINT customers_tenant_fingerprint_key DO NOTHING
	`
	result, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(customer.ID),
		uuid.UUID(customer.TenantID),
		uuid.UUID(customer.OwnerOperatorID),
		uuid.UUID(customer.ChannelID),
		customer.Fingerprint,
		string(customer.Scheme),
		customer.LegacySignature,
		customer.EncryptedPhone,
		customer.CreatedAt,
	)
	if err != nil {
		return models.Outcome{}, fmt.Errorf("insert customer: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return models.Outcome{}, fmt.Errorf("insert customer: %w", err)
	}
	if inserted == 1 {
		return models.Outcome{Registered: true, CustomerID: customer.ID}, nil
	}

	// The constraint swallowed the insert; resolve the canonical owner.
	// First write wins: earliest created_at, by fingerprint, then by the
	// legacy signature for pre-migration rows.
	for attempt := 0; attempt < reReadAttempts; attempt++ {
		existing, err := s.findEarliest(ctx,
			`tenant_id = $1 AND fingerprint = $2`,
			uuid.UUID(customer.TenantID), customer.Fingerprint)
		if err == nil {
			return models.Outcome{Existing: existing}, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return models.Outcome{}, err
		}
		if customer.LegacySignature == "" {
			continue
		}
		existing, err = s.findEarliest(ctx,
			`tenant_id = $1 AND legacy_signature = $2`,
			uuid.UUID(customer.TenantID), customer.LegacySignature)
		if err == nil {
			return models.Outcome{Existing: existing}, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return models.Outcome{}, err
		}
	}
	return models.Outcome{}, fmt.Errorf("uniqueness conflict with no visible owner: %w", sentinel.ErrConflict)
}

func (s *PostgresStore) findEarliest(ctx context.Context, where string, args ...any) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE ` + where + `
		ORDER BY created_at ASC, id ASC LIMIT 1`
	row := s.execer(ctx).QueryRowContext(ctx, query, args...)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	return s.findEarliest(ctx, `id = $1`, uuid.UUID(customerID))
}

func (s *PostgresStore) FindByFingerprint(ctx context.Context, tenantID id.TenantID, fingerprint string) (*models.Customer, error) {
	return s.findEarliest(ctx, `tenant_id = $1 AND fingerprint = $2`, uuid.UUID(tenantID), fingerprint)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers`
	where := ""
	args := []any{}
	if !filter.TenantID.IsNil() {
		args = append(args, uuid.UUID(filter.TenantID))
		where = fmt.Sprintf(" WHERE tenant_id = $%d", len(args))
	}
	if !filter.OperatorID.IsNil() {
		args = append(args, uuid.UUID(filter.OperatorID))
		if where == "" {
			where = fmt.Sprintf(" WHERE owner_operator_id = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND owner_operator_id = $%d", len(args))
		}
	}
	args = append(args, normalizeLimit(filter.Limit), filter.Offset)
	query += where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func (s *PostgresStore) ListByScheme(ctx context.Context, scheme models.FingerprintScheme) ([]models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers
		WHERE fingerprint_scheme = $1 ORDER BY created_at ASC, id ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(scheme))
	if err != nil {
		return nil, fmt.Errorf("list customers by scheme: %w", err)
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func (s *PostgresStore) ListMissingSignature(ctx context.Context) ([]models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers
		WHERE legacy_signature = '' ORDER BY created_at ASC, id ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list customers missing signature: %w", err)
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func (s *PostgresStore) UpdateFingerprint(ctx context.Context, customerID id.CustomerID, fingerprint string, scheme models.FingerprintScheme, signature string) error {
	query := `
		UPDATE customers
		SET fingerprint = $2, fingerprint_scheme = $3, legacy_signature = $4
		WHERE id = $1
	`
	result, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(customerID), fingerprint, string(scheme), signature)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("fingerprint already registered in tenant: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("update fingerprint: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update fingerprint: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateSignature(ctx context.Context, customerID id.CustomerID, signature string) error {
	result, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE customers SET legacy_signature = $2 WHERE id = $1`,
		uuid.UUID(customerID), signature)
	if err != nil {
		return fmt.Errorf("update signature: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update signature: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SignatureGroups(ctx context.Context) ([]SignatureGroup, error) {
	query := `
		SELECT ` + customerColumns + ` FROM customers
		WHERE legacy_signature <> ''
		  AND (tenant_id, legacy_signature) IN (
			SELECT tenant_id, legacy_signature FROM customers
			WHERE legacy_signature <> ''
			GROUP BY tenant_id, legacy_signature
			HAVING COUNT(*) > 1
		  )
		ORDER BY tenant_id, legacy_signature, created_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list signature groups: %w", err)
	}
	defer rows.Close()

	members, err := collectCustomers(rows)
	if err != nil {
		return nil, err
	}

	groups := make([]SignatureGroup, 0)
	for _, c := range members {
		n := len(groups)
		if n == 0 || groups[n-1].TenantID != c.TenantID || groups[n-1].Signature != c.LegacySignature {
			groups = append(groups, SignatureGroup{TenantID: c.TenantID, Signature: c.LegacySignature})
			n++
		}
		groups[n-1].Members = append(groups[n-1].Members, c)
	}
	return groups, nil
}

func (s *PostgresStore) Delete(ctx context.Context, customerID id.CustomerID) error {
	result, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM customers WHERE id = $1`, uuid.UUID(customerID))
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("customer not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var (
		c                                           models.Customer
		customerID, tenantID, operatorID, channelID uuid.UUID
		scheme                                      string
	)
	err := row.Scan(&customerID, &tenantID, &operatorID, &channelID,
		&c.Fingerprint, &scheme, &c.LegacySignature, &c.EncryptedPhone, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.ID = id.CustomerID(customerID)
	c.TenantID = id.TenantID(tenantID)
	c.OwnerOperatorID = id.OperatorID(operatorID)
	c.ChannelID = id.ChannelID(channelID)
	c.Scheme = models.FingerprintScheme(scheme)
	return &c, nil
}

func collectCustomers(rows *sql.Rows) ([]models.Customer, error) {
	customers := make([]models.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return customers, nil
}
