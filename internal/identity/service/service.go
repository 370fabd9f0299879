// Package service orchestrates customer registration, duplicate listing and
// migration runs. It keeps orchestration out of handlers and domain logic thin.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backfillmodels "phonegate/internal/backfill/models"
	"phonegate/internal/directory"
	"phonegate/internal/identity/cipher"
	"phonegate/internal/identity/fingerprint"
	"phonegate/internal/identity/metrics"
	"phonegate/internal/identity/models"
	"phonegate/internal/identity/normalize"
	"phonegate/internal/identity/store/customer"
	"phonegate/internal/identity/store/duplicate"
	id "phonegate/pkg/domain"
	dErrors "phonegate/pkg/domain-errors"
	"phonegate/pkg/platform/audit"
	"phonegate/pkg/platform/sentinel"
	"phonegate/pkg/platform/tx"
	"phonegate/pkg/requestcontext"

	"github.com/google/uuid"
)

// RegisterRequest carries one phone submission.
type RegisterRequest struct {
	Phone      string
	OperatorID id.OperatorID
	ChannelID  id.ChannelID
}

// RegisterStatus tells the caller whether the submission created a customer.
type RegisterStatus string

const (
	StatusSuccess   RegisterStatus = "success"
	StatusDuplicate RegisterStatus = "duplicate"
)

// RegisterResult reports the outcome of a registration. On a duplicate it
// attributes the existing customer to its first owner.
type RegisterResult struct {
	Status     RegisterStatus `json:"status"`
	CustomerID id.CustomerID  `json:"customer_id"`

	// Populated on StatusDuplicate only.
	FirstOwnerOperatorID id.OperatorID `json:"first_owner_operator_id,omitzero"`
	FirstRegisteredAt    time.Time     `json:"first_registered_at,omitzero"`
}

// Migrator runs a named backfill migration.
type Migrator interface {
	Run(ctx context.Context, name string) (*backfillmodels.Report, error)
}

// Service is the identity-resolution entry point.
type Service struct {
	customers    customer.Store
	duplicates   duplicate.Store
	operators    directory.Lookup
	fingerprints *fingerprint.Engine
	cipher       *cipher.Cipher
	txRunner     tx.Runner
	migrator     Migrator

	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.Store
}

// Option configures optional service collaborators.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit attaches the audit outbox. Audit appends join the registration
// transaction, so an event exists exactly when its mutation committed.
func WithAudit(store audit.Store) Option {
	return func(s *Service) { s.audit = store }
}

func WithMigrator(m Migrator) Option {
	return func(s *Service) { s.migrator = m }
}

func NewService(
	customers customer.Store,
	duplicates duplicate.Store,
	operators directory.Lookup,
	fingerprints *fingerprint.Engine,
	ciph *cipher.Cipher,
	txRunner tx.Runner,
	opts ...Option,
) *Service {
	s := &Service{
		customers:    customers,
		duplicates:   duplicates,
		operators:    operators,
		fingerprints: fingerprints,
		cipher:       ciph,
		txRunner:     txRunner,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterCustomer resolves one phone submission to either a fresh customer
// or the first-written owner of the same identity within the tenant.
func (s *Service) RegisterCustomer(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	started := time.Now()
	principal, ok := requestcontext.Principal(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "authentication required")
	}

	tenantID, err := s.resolveScope(ctx, principal, req.OperatorID)
	if err != nil {
		return nil, err
	}
	if req.ChannelID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "channel id is required")
	}

	canonical, err := normalize.Canonicalize(req.Phone)
	if err != nil {
		s.metrics.IncrementRegistration("rejected")
		return nil, err
	}

	encrypted, err := s.cipher.Encrypt(canonical)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encrypt phone")
	}
	candidate := &models.Customer{
		ID:              id.NewCustomerID(),
		TenantID:        tenantID,
		OwnerOperatorID: req.OperatorID,
		ChannelID:       req.ChannelID,
		Fingerprint:     s.fingerprints.Fingerprint(canonical),
		Scheme:          s.fingerprints.Scheme(),
		LegacySignature: s.fingerprints.LegacySignature(canonical),
		EncryptedPhone:  encrypted,
		CreatedAt:       requestcontext.Now(ctx),
	}

	var result *RegisterResult
	err = s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		outcome, err := s.customers.TryRegister(ctx, candidate)
		if err != nil {
			return err
		}
		if outcome.Registered {
			result = &RegisterResult{Status: StatusSuccess, CustomerID: outcome.CustomerID}
			return s.emit(ctx, audit.ActionCustomerRegistered, tenantID, outcome.CustomerID, req.OperatorID)
		}
		demoted, err := s.recordDuplicate(ctx, outcome.Existing, req, tenantID)
		if err != nil {
			return err
		}
		result = demoted
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "registration raced and no owner is visible")
		}
		var coded *dErrors.Error
		if errors.As(err, &coded) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "registration storage failure")
	}

	s.metrics.IncrementRegistration(string(result.Status))
	s.metrics.ObserveRegisterLatency(time.Since(started))
	s.logger.InfoContext(ctx, "registration resolved",
		"status", string(result.Status),
		"tenant_id", tenantID.String(),
		"operator_id", req.OperatorID.String(),
		"customer_id", result.CustomerID.String(),
	)
	return result, nil
}

func (s *Service) recordDuplicate(ctx context.Context, existing *models.Customer, req RegisterRequest, tenantID id.TenantID) (*RegisterResult, error) {
	record := &models.DuplicateRecord{
		ID:                   id.NewDuplicateID(),
		CustomerID:           existing.ID,
		TenantID:             tenantID,
		FirstOwnerOperatorID: existing.OwnerOperatorID,
		DuplicateOperatorID:  req.OperatorID,
		DuplicateChannelID:   req.ChannelID,
		OccurredAt:           requestcontext.Now(ctx),
	}
	if err := s.duplicates.Record(ctx, record); err != nil {
		return nil, fmt.Errorf("append duplicate ledger: %w", err)
	}
	s.metrics.IncrementDuplicate(string(existing.Scheme))
	if err := s.emit(ctx, audit.ActionDuplicateDetected, tenantID, existing.ID, req.OperatorID); err != nil {
		return nil, err
	}
	return &RegisterResult{
		Status:               StatusDuplicate,
		CustomerID:           existing.ID,
		FirstOwnerOperatorID: existing.OwnerOperatorID,
		FirstRegisteredAt:    existing.CreatedAt,
	}, nil
}

// resolveScope enforces who may register under which tenant: operators only
// as themselves, admins only for their child operators, super admins for any
// active operator.
func (s *Service) resolveScope(ctx context.Context, principal id.Principal, operatorID id.OperatorID) (id.TenantID, error) {
	if operatorID.IsNil() {
		return id.TenantID(uuid.Nil), dErrors.New(dErrors.CodeInvalidInput, "operator id is required")
	}

	switch principal.Role {
	case id.RoleOperator:
		if uuid.UUID(operatorID) != principal.ID {
			return id.TenantID(uuid.Nil), dErrors.New(dErrors.CodeForbidden, "operators may only register as themselves")
		}
		tenantID := principal.TenantID()
		if tenantID.IsNil() {
			return id.TenantID(uuid.Nil), dErrors.New(dErrors.CodeForbidden, "operator has no tenant")
		}
		return tenantID, nil

	case id.RoleAdmin, id.RoleSuperAdmin:
		operator, err := s.operators.FindOperator(ctx, operatorID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.TenantID(uuid.Nil), dErrors.New(dErrors.CodeNotFound, "operator not found")
		}
		if err != nil {
			return id.TenantID(uuid.Nil), dErrors.Wrap(err, dErrors.CodeUnavailable, "operator directory lookup")
		}
		if !operator.Active {
			return id.TenantID(uuid.Nil), dErrors.New(dErrors.CodeForbidden, "operator is deactivated")
		}
		if principal.Role == id.RoleAdmin && operator.TenantID != principal.TenantID() {
			return id.TenantID(uuid.Nil), dErrors.New(dErrors.CodeForbidden, "operator belongs to another tenant")
		}
		return operator.TenantID, nil
	}
	return id.TenantID(uuid.Nil), dErrors.New(dErrors.CodeForbidden, "unknown role")
}

// ListCustomers returns customer summaries visible to the principal,
// newest first. Operators see their own registrations, admins their tenant,
// super admins everything.
func (s *Service) ListCustomers(ctx context.Context, offset, limit int) ([]models.Summary, error) {
	principal, ok := requestcontext.Principal(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "authentication required")
	}

	filter := customer.ListFilter{Offset: offset, Limit: limit}
	switch principal.Role {
	case id.RoleOperator:
		filter.TenantID = principal.TenantID()
		filter.OperatorID = id.OperatorID(principal.ID)
	case id.RoleAdmin:
		filter.TenantID = principal.TenantID()
	case id.RoleSuperAdmin:
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "unknown role")
	}

	customers, err := s.customers.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list customers")
	}
	summaries := make([]models.Summary, len(customers))
	for i := range customers {
		summaries[i] = customers[i].Summarize()
	}
	return summaries, nil
}

// ListDuplicates returns the duplicate ledger visible to the principal,
// newest first.
func (s *Service) ListDuplicates(ctx context.Context, offset, limit int) ([]models.DuplicateRecord, error) {
	principal, ok := requestcontext.Principal(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "authentication required")
	}

	filter := duplicate.ListFilter{Offset: offset, Limit: limit}
	switch principal.Role {
	case id.RoleOperator:
		filter.TenantID = principal.TenantID()
		filter.OperatorID = id.OperatorID(principal.ID)
	case id.RoleAdmin:
		filter.TenantID = principal.TenantID()
	case id.RoleSuperAdmin:
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "unknown role")
	}

	records, err := s.duplicates.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list duplicates")
	}
	return records, nil
}

// RunMigration executes a named backfill migration. Super admins only.
func (s *Service) RunMigration(ctx context.Context, name string) (*backfillmodels.Report, error) {
	principal, ok := requestcontext.Principal(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeForbidden, "authentication required")
	}
	if principal.Role != id.RoleSuperAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "migrations require super admin")
	}
	if s.migrator == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "migration runner not configured")
	}

	report, err := s.migrator.Run(ctx, name)
	if err != nil {
		return nil, err
	}
	if report.Status == backfillmodels.StatusApplied {
		if err := s.emit(ctx, audit.ActionMigrationApplied, id.TenantID(uuid.Nil), id.CustomerID(uuid.Nil), id.OperatorID(principal.ID)); err != nil {
			s.logger.WarnContext(ctx, "audit append failed", "action", "migration_applied", "error", err)
		}
	}
	return report, nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, tenantID id.TenantID, customerID id.CustomerID, operatorID id.OperatorID) error {
	if s.audit == nil {
		return nil
	}
	event := audit.Event{
		ID:         uuid.New(),
		Action:     action,
		TenantID:   tenantID,
		CustomerID: customerID,
		OperatorID: operatorID,
		RequestID:  requestcontext.RequestID(ctx),
		OccurredAt: requestcontext.Now(ctx),
	}
	if err := s.audit.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
