//go:build integration

package customer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phonegate/internal/identity/models"
	"phonegate/internal/identity/store/customer"
	"phonegate/internal/platform/db"
	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/sentinel"
	"phonegate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *customer.PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.Require().NoError(db.Migrate(s.ctx, s.pg.Pool))
	s.store = customer.NewPostgres(s.pg.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateAll(s.ctx, "customers"))
}

func (s *PostgresStoreSuite) newCustomer(tenant id.TenantID, fingerprint string) *models.Customer {
	return &models.Customer{
		ID:              id.NewCustomerID(),
		TenantID:        tenant,
		OwnerOperatorID: id.NewOperatorID(),
		ChannelID:       id.NewChannelID(),
		Fingerprint:     fingerprint,
		Scheme:          models.SchemeHMACv1,
		LegacySignature: "sig-" + fingerprint,
		EncryptedPhone:  "enc-" + fingerprint,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestTryRegisterInsertsFirstRow() {
	cust := s.newCustomer(id.NewTenantID(), "fp-1")

	outcome, err := s.store.TryRegister(s.ctx, cust)
	s.Require().NoError(err)
	s.True(outcome.Registered)
	s.Equal(cust.ID, outcome.CustomerID)

	found, err := s.store.FindByID(s.ctx, cust.ID)
	s.Require().NoError(err)
	s.Equal(cust.Fingerprint, found.Fingerprint)
	s.Equal(cust.EncryptedPhone, found.EncryptedPhone)
}

func (s *PostgresStoreSuite) TestTryRegisterConflictReturnsEarliestOwner() {
	tenant := id.NewTenantID()
	first := s.newCustomer(tenant, "fp-dup")
	_, err := s.store.TryRegister(s.ctx, first)
	s.Require().NoError(err)

	second := s.newCustomer(tenant, "fp-dup")
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	outcome, err := s.store.TryRegister(s.ctx, second)
	s.Require().NoError(err)
	s.False(outcome.Registered)
	s.Require().NotNil(outcome.Existing)
	s.Equal(first.ID, outcome.Existing.ID)
	s.Equal(first.OwnerOperatorID, outcome.Existing.OwnerOperatorID)
}

func (s *PostgresStoreSuite) TestTryRegisterSameFingerprintAcrossTenants() {
	a := s.newCustomer(id.NewTenantID(), "fp-shared")
	b := s.newCustomer(id.NewTenantID(), "fp-shared")

	outA, err := s.store.TryRegister(s.ctx, a)
	s.Require().NoError(err)
	outB, err := s.store.TryRegister(s.ctx, b)
	s.Require().NoError(err)

	s.True(outA.Registered)
	s.True(outB.Registered)
}

func (s *PostgresStoreSuite) TestFindByFingerprint() {
	tenant := id.NewTenantID()
	cust := s.newCustomer(tenant, "fp-find")
	_, err := s.store.TryRegister(s.ctx, cust)
	s.Require().NoError(err)

	found, err := s.store.FindByFingerprint(s.ctx, tenant, "fp-find")
	s.Require().NoError(err)
	s.Equal(cust.ID, found.ID)

	_, err = s.store.FindByFingerprint(s.ctx, tenant, "fp-missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListScopesByTenantAndOperator() {
	tenant := id.NewTenantID()
	mine := s.newCustomer(tenant, "fp-mine")
	theirs := s.newCustomer(tenant, "fp-theirs")
	elsewhere := s.newCustomer(id.NewTenantID(), "fp-elsewhere")
	for _, c := range []*models.Customer{mine, theirs, elsewhere} {
		_, err := s.store.TryRegister(s.ctx, c)
		s.Require().NoError(err)
	}

	all, err := s.store.List(s.ctx, customer.ListFilter{TenantID: tenant})
	s.Require().NoError(err)
	s.Len(all, 2)

	scoped, err := s.store.List(s.ctx, customer.ListFilter{TenantID: tenant, OperatorID: mine.OwnerOperatorID})
	s.Require().NoError(err)
	s.Require().Len(scoped, 1)
	s.Equal(mine.ID, scoped[0].ID)
}

func (s *PostgresStoreSuite) TestUpdateFingerprintHitsUniqueConstraint() {
	tenant := id.NewTenantID()
	winner := s.newCustomer(tenant, "fp-winner")
	legacy := s.newCustomer(tenant, "fp-old")
	legacy.Scheme = models.SchemeLegacy
	for _, c := range []*models.Customer{winner, legacy} {
		_, err := s.store.TryRegister(s.ctx, c)
		s.Require().NoError(err)
	}

	err := s.store.UpdateFingerprint(s.ctx, legacy.ID, "fp-winner", models.SchemeHMACv1, "sig")
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestListBySchemeAndSignatureGroups() {
	tenant := id.NewTenantID()
	one := s.newCustomer(tenant, "fp-a")
	one.Scheme = models.SchemeLegacy
	one.LegacySignature = "shared-sig"
	two := s.newCustomer(tenant, "fp-b")
	two.LegacySignature = "shared-sig"
	two.CreatedAt = one.CreatedAt.Add(time.Second)
	for _, c := range []*models.Customer{one, two} {
		_, err := s.store.TryRegister(s.ctx, c)
		s.Require().NoError(err)
	}

	legacy, err := s.store.ListByScheme(s.ctx, models.SchemeLegacy)
	s.Require().NoError(err)
	s.Require().Len(legacy, 1)
	s.Equal(one.ID, legacy[0].ID)

	groups, err := s.store.SignatureGroups(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(groups, 1)
	s.Equal("shared-sig", groups[0].Signature)
	s.Require().Len(groups[0].Members, 2)
	s.Equal(one.ID, groups[0].Members[0].ID)
}

func (s *PostgresStoreSuite) TestDeleteFreesFingerprint() {
	tenant := id.NewTenantID()
	cust := s.newCustomer(tenant, "fp-reuse")
	_, err := s.store.TryRegister(s.ctx, cust)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(s.ctx, cust.ID))

	again := s.newCustomer(tenant, "fp-reuse")
	outcome, err := s.store.TryRegister(s.ctx, again)
	s.Require().NoError(err)
	s.True(outcome.Registered)
}
