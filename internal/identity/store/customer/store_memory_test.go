package customer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"phonegate/internal/identity/models"
	id "phonegate/pkg/domain"
	"phonegate/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store  *InMemoryStore
	tenant id.TenantID
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.tenant = id.NewTenantID()
}

func (s *InMemoryStoreSuite) newCustomer(fingerprint, signature string, createdAt time.Time) *models.Customer {
	return &models.Customer{
		ID:              id.NewCustomerID(),
		TenantID:        s.tenant,
		OwnerOperatorID: id.NewOperatorID(),
		ChannelID:       id.NewChannelID(),
		Fingerprint:     fingerprint,
		Scheme:          models.SchemeHMACv1,
		LegacySignature: signature,
		EncryptedPhone:  "ciphertext",
		CreatedAt:       createdAt,
	}
}

func (s *InMemoryStoreSuite) TestRegisterThenDuplicate() {
	ctx := context.Background()
	now := time.Now()

	first := s.newCustomer("fp-1", "138000", now)
	outcome, err := s.store.TryRegister(ctx, first)
	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.Registered)
	assert.Equal(s.T(), first.ID, outcome.CustomerID)

	second := s.newCustomer("fp-1", "138000", now.Add(time.Second))
	outcome, err = s.store.TryRegister(ctx, second)
	require.NoError(s.T(), err)
	assert.False(s.T(), outcome.Registered)
	require.NotNil(s.T(), outcome.Existing)
	assert.Equal(s.T(), first.ID, outcome.Existing.ID)
	assert.Equal(s.T(), first.OwnerOperatorID, outcome.Existing.OwnerOperatorID)

	// The loser was not persisted.
	_, err = s.store.FindByID(ctx, second.ID)
	assert.ErrorIs(s.T(), err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestSameFingerprintDifferentTenants() {
	ctx := context.Background()
	first := s.newCustomer("fp-1", "138000", time.Now())
	other := s.newCustomer("fp-1", "138000", time.Now())
	other.TenantID = id.NewTenantID()

	outcome, err := s.store.TryRegister(ctx, first)
	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.Registered)

	outcome, err = s.store.TryRegister(ctx, other)
	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.Registered, "uniqueness is tenant-scoped")
}

func (s *InMemoryStoreSuite) TestDuplicateResolvesEarliestOwner() {
	ctx := context.Background()
	base := time.Now()

	// Two pre-migration rows sharing a signature but distinct fingerprints.
	older := s.newCustomer("fp-old", "138000", base)
	newer := s.newCustomer("fp-new", "138000", base.Add(time.Minute))
	for _, c := range []*models.Customer{older, newer} {
		outcome, err := s.store.TryRegister(ctx, c)
		require.NoError(s.T(), err)
		require.True(s.T(), outcome.Registered)
	}

	// A third submission colliding with the newer fingerprint resolves to
	// the earliest row by fingerprint first.
	colliding := s.newCustomer("fp-new", "138000", base.Add(time.Hour))
	outcome, err := s.store.TryRegister(ctx, colliding)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), outcome.Existing)
	assert.Equal(s.T(), newer.ID, outcome.Existing.ID)
}

func (s *InMemoryStoreSuite) TestConcurrentRegistrationsSingleWinner() {
	ctx := context.Background()
	const attempts = 16

	var wg sync.WaitGroup
	outcomes := make([]models.Outcome, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := s.newCustomer("fp-race", "138000", time.Now())
			outcomes[i], errs[i] = s.store.TryRegister(ctx, c)
		}(i)
	}
	wg.Wait()

	registered := 0
	for i := 0; i < attempts; i++ {
		require.NoError(s.T(), errs[i])
		if outcomes[i].Registered {
			registered++
		} else {
			require.NotNil(s.T(), outcomes[i].Existing)
		}
	}
	assert.Equal(s.T(), 1, registered, "exactly one concurrent registration wins")
}

func (s *InMemoryStoreSuite) TestUpdateFingerprintConflict() {
	ctx := context.Background()
	first := s.newCustomer("fp-1", "111111", time.Now())
	second := s.newCustomer("fp-2", "222222", time.Now())
	for _, c := range []*models.Customer{first, second} {
		_, err := s.store.TryRegister(ctx, c)
		require.NoError(s.T(), err)
	}

	err := s.store.UpdateFingerprint(ctx, second.ID, "fp-1", models.SchemeHMACv1, "222222")
	assert.ErrorIs(s.T(), err, sentinel.ErrConflict)

	err = s.store.UpdateFingerprint(ctx, second.ID, "fp-3", models.SchemeHMACv1, "222222")
	require.NoError(s.T(), err)

	updated, err := s.store.FindByID(ctx, second.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "fp-3", updated.Fingerprint)
}

func (s *InMemoryStoreSuite) TestSignatureGroups() {
	ctx := context.Background()
	base := time.Now()

	t1 := s.newCustomer("fp-a", "138000", base)
	t2 := s.newCustomer("fp-b", "138000", base.Add(time.Second))
	loner := s.newCustomer("fp-c", "999999", base)
	for _, c := range []*models.Customer{t2, t1, loner} {
		_, err := s.store.TryRegister(ctx, c)
		require.NoError(s.T(), err)
	}

	groups, err := s.store.SignatureGroups(ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), groups, 1)
	assert.Equal(s.T(), "138000", groups[0].Signature)
	require.Len(s.T(), groups[0].Members, 2)
	assert.Equal(s.T(), t1.ID, groups[0].Members[0].ID, "members ordered earliest first")
	assert.Equal(s.T(), t2.ID, groups[0].Members[1].ID)
}

func (s *InMemoryStoreSuite) TestDeleteFreesFingerprint() {
	ctx := context.Background()
	first := s.newCustomer("fp-1", "138000", time.Now())
	_, err := s.store.TryRegister(ctx, first)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.store.Delete(ctx, first.ID))

	again := s.newCustomer("fp-1", "138000", time.Now())
	outcome, err := s.store.TryRegister(ctx, again)
	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.Registered)
}

func (s *InMemoryStoreSuite) TestListPagination() {
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		c := s.newCustomer("fp-"+string(rune('a'+i)), "", base.Add(time.Duration(i)*time.Second))
		_, err := s.store.TryRegister(ctx, c)
		require.NoError(s.T(), err)
	}

	page, err := s.store.List(ctx, ListFilter{TenantID: s.tenant, Limit: 2})
	require.NoError(s.T(), err)
	require.Len(s.T(), page, 2)
	assert.True(s.T(), page[0].CreatedAt.After(page[1].CreatedAt), "newest first")

	rest, err := s.store.List(ctx, ListFilter{TenantID: s.tenant, Limit: 10, Offset: 2})
	require.NoError(s.T(), err)
	assert.Len(s.T(), rest, 3)
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}
