package backfill

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	backfillmodels "phonegate/internal/backfill/models"
	"phonegate/internal/identity/cipher"
	"phonegate/internal/identity/fingerprint"
	"phonegate/internal/identity/models"
	"phonegate/internal/identity/store/customer"
	"phonegate/internal/identity/store/duplicate"
	"phonegate/internal/identity/store/migration"
	id "phonegate/pkg/domain"
	dErrors "phonegate/pkg/domain-errors"
	"phonegate/pkg/platform/tx"
)

type RunnerSuite struct {
	suite.Suite
	customers  *customer.InMemoryStore
	duplicates *duplicate.InMemoryStore
	ledger     *migration.InMemoryStore
	engine     *fingerprint.Engine
	cipher     *cipher.Cipher
	runner     *Runner
	tenant     id.TenantID
}

func (s *RunnerSuite) SetupTest() {
	var err error
	s.customers = customer.NewInMemory()
	s.duplicates = duplicate.NewInMemory(s.customers)
	s.ledger = migration.NewInMemory()
	s.engine, err = fingerprint.New([]byte("test-pepper"))
	require.NoError(s.T(), err)
	s.cipher, err = cipher.New(bytes.Repeat([]byte("k"), 32))
	require.NoError(s.T(), err)
	s.tenant = id.NewTenantID()
	s.runner = NewRunner(
		s.customers, s.duplicates, s.ledger,
		s.engine, s.cipher, tx.NopRunner{},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

// seedLegacy inserts a customer whose fingerprint still carries the legacy
// derivation. The stored ciphertext holds the canonical phone so backfills
// can recover it.
func (s *RunnerSuite) seedLegacy(canonical, legacyPrint string, createdAt time.Time) *models.Customer {
	encrypted, err := s.cipher.Encrypt(canonical)
	require.NoError(s.T(), err)
	c := &models.Customer{
		ID:              id.NewCustomerID(),
		TenantID:        s.tenant,
		OwnerOperatorID: id.NewOperatorID(),
		ChannelID:       id.NewChannelID(),
		Fingerprint:     legacyPrint,
		Scheme:          models.SchemeLegacy,
		LegacySignature: s.engine.LegacySignature(canonical),
		EncryptedPhone:  encrypted,
		CreatedAt:       createdAt,
	}
	outcome, err := s.customers.TryRegister(context.Background(), c)
	require.NoError(s.T(), err)
	require.True(s.T(), outcome.Registered)
	return c
}

func (s *RunnerSuite) TestUnknownMigration() {
	_, err := s.runner.Run(context.Background(), "no_such_migration")
	assert.True(s.T(), dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RunnerSuite) TestBackfillFingerprints() {
	ctx := context.Background()
	row := s.seedLegacy("13800138000", "legacy-1", time.Now())

	report, err := s.runner.Run(ctx, MigrationFingerprints)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), backfillmodels.StatusApplied, report.Status)
	assert.Equal(s.T(), 1, report.Total)
	assert.Equal(s.T(), 1, report.Updated)
	assert.Zero(s.T(), report.Skipped)

	updated, err := s.customers.FindByID(ctx, row.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), s.engine.Fingerprint("13800138000"), updated.Fingerprint)
	assert.Equal(s.T(), models.SchemeHMACv1, updated.Scheme)
	assert.Equal(s.T(), "138000", updated.LegacySignature)
}

func (s *RunnerSuite) TestBackfillFingerprintsIsIdempotent() {
	ctx := context.Background()
	s.seedLegacy("13800138000", "legacy-1", time.Now())

	_, err := s.runner.Run(ctx, MigrationFingerprints)
	require.NoError(s.T(), err)

	// The ledger entry makes the second run a no-op.
	report, err := s.runner.Run(ctx, MigrationFingerprints)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), backfillmodels.StatusAlreadyApplied, report.Status)
	assert.Zero(s.T(), report.Updated)

	// Even released and re-run, there are no legacy rows left to touch.
	require.NoError(s.T(), s.ledger.Release(ctx, MigrationFingerprints))
	report, err = s.runner.Run(ctx, MigrationFingerprints)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), backfillmodels.StatusApplied, report.Status)
	assert.Zero(s.T(), report.Total)
	assert.Zero(s.T(), report.Updated)
}

func (s *RunnerSuite) TestBackfillFingerprintCollisionDemotesLaterRow() {
	ctx := context.Background()
	now := time.Now()

	// Same phone stored twice under distinct legacy fingerprints. After
	// recomputation both map to one keyed fingerprint.
	winner := s.seedLegacy("13800138000", "legacy-a", now)
	loser := s.seedLegacy("13800138000", "legacy-b", now.Add(time.Minute))

	report, err := s.runner.Run(ctx, MigrationFingerprints)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, report.Total)
	assert.Equal(s.T(), 1, report.Updated)
	assert.Equal(s.T(), 1, report.RowsConverted)
	assert.Zero(s.T(), report.Skipped)

	_, err = s.customers.FindByID(ctx, winner.ID)
	assert.NoError(s.T(), err, "earliest row keeps the identity")
	_, err = s.customers.FindByID(ctx, loser.ID)
	assert.Error(s.T(), err, "later row is removed")

	records, err := s.duplicates.List(ctx, duplicate.ListFilter{TenantID: s.tenant})
	require.NoError(s.T(), err)
	require.Len(s.T(), records, 1)
	assert.Equal(s.T(), winner.ID, records[0].CustomerID)
	assert.Equal(s.T(), winner.OwnerOperatorID, records[0].FirstOwnerOperatorID)
	assert.Equal(s.T(), loser.OwnerOperatorID, records[0].DuplicateOperatorID)
	assert.Equal(s.T(), loser.ChannelID, records[0].DuplicateChannelID)
	assert.Equal(s.T(), loser.CreatedAt.Unix(), records[0].OccurredAt.Unix())
}

func (s *RunnerSuite) TestBackfillSkipsUndecryptableRow() {
	ctx := context.Background()
	good := s.seedLegacy("13800138000", "legacy-good", time.Now())
	bad := s.seedLegacy("13900139000", "legacy-bad", time.Now())
	require.NoError(s.T(), s.customers.Delete(ctx, bad.ID))
	bad.EncryptedPhone = "not-a-ciphertext"
	outcome, err := s.customers.TryRegister(ctx, bad)
	require.NoError(s.T(), err)
	require.True(s.T(), outcome.Registered)

	report, err := s.runner.Run(ctx, MigrationFingerprints)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, report.Total)
	assert.Equal(s.T(), 1, report.Updated)
	assert.Equal(s.T(), 1, report.Skipped)

	updated, err := s.customers.FindByID(ctx, good.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.SchemeHMACv1, updated.Scheme)
	untouched, err := s.customers.FindByID(ctx, bad.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.SchemeLegacy, untouched.Scheme, "skipped row is left alone")
}

func (s *RunnerSuite) TestBackfillSignatures() {
	ctx := context.Background()
	row := s.seedLegacy("13800138000", "legacy-1", time.Now())
	require.NoError(s.T(), s.customers.UpdateSignature(ctx, row.ID, ""))

	report, err := s.runner.Run(ctx, MigrationSignatures)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, report.Total)
	assert.Equal(s.T(), 1, report.Updated)

	updated, err := s.customers.FindByID(ctx, row.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "138000", updated.LegacySignature)
}

func (s *RunnerSuite) TestReconcileDuplicateGroups() {
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	// Three rows sharing one signature: the two later ones become ledger
	// entries preserving their own operator, channel and submission time.
	first := s.seedLegacy("13800138000", "legacy-1", base)
	second := s.seedLegacy("13800138000", "legacy-2", base.Add(time.Hour))
	third := s.seedLegacy("13800138000", "legacy-3", base.Add(2*time.Hour))

	report, err := s.runner.Run(ctx, MigrationReconcile)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, report.GroupsProcessed)
	assert.Equal(s.T(), 2, report.RowsConverted)
	assert.Zero(s.T(), report.Skipped)

	_, err = s.customers.FindByID(ctx, first.ID)
	assert.NoError(s.T(), err)
	_, err = s.customers.FindByID(ctx, second.ID)
	assert.Error(s.T(), err)
	_, err = s.customers.FindByID(ctx, third.ID)
	assert.Error(s.T(), err)

	records, err := s.duplicates.List(ctx, duplicate.ListFilter{TenantID: s.tenant})
	require.NoError(s.T(), err)
	require.Len(s.T(), records, 2)
	for _, record := range records {
		assert.Equal(s.T(), first.ID, record.CustomerID)
		assert.Equal(s.T(), first.OwnerOperatorID, record.FirstOwnerOperatorID)
	}
	assert.Equal(s.T(), third.CreatedAt.Unix(), records[0].OccurredAt.Unix())
	assert.Equal(s.T(), second.CreatedAt.Unix(), records[1].OccurredAt.Unix())

	// A second run finds no remaining groups.
	require.NoError(s.T(), s.ledger.Release(ctx, MigrationReconcile))
	report, err = s.runner.Run(ctx, MigrationReconcile)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), report.GroupsProcessed)
	assert.Zero(s.T(), report.RowsConverted)
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}
