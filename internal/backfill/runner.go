// Package backfill runs named, idempotent data migrations over the customer
// table.
//
// Each migration claims an entry in the migration ledger before touching any
// rows. The claim is a unique-name insert, so a repeated or concurrent run of
// the same migration observes the claim and reports without doing work. A run
// that fails mid-way releases its claim so the migration can be retried; every
// row mutation is individually idempotent, so a partial run followed by a
// retry converges.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"phonegate/internal/backfill/models"
	"phonegate/internal/identity/cipher"
	"phonegate/internal/identity/fingerprint"
	identitymodels "phonegate/internal/identity/models"
	"phonegate/internal/identity/normalize"
	"phonegate/internal/identity/store/customer"
	"phonegate/internal/identity/store/duplicate"
	"phonegate/internal/identity/store/migration"
	id "phonegate/pkg/domain"
	dErrors "phonegate/pkg/domain-errors"
	"phonegate/pkg/platform/sentinel"
	"phonegate/pkg/platform/tx"
)

// Migration names. The name is the ledger key; changing one turns a finished
// migration back into a pending one.
const (
	MigrationFingerprints = "backfill_fingerprints_hmac_v1"
	MigrationSignatures   = "backfill_legacy_signatures"
	MigrationReconcile    = "reconcile_duplicate_groups"
)

// Metrics is the slice of the identity metrics the runner reports through.
type Metrics interface {
	IncrementBackfillRow(migration, result string)
}

// Runner executes the known migrations.
type Runner struct {
	customers    customer.Store
	duplicates   duplicate.Store
	ledger       migration.Store
	fingerprints *fingerprint.Engine
	cipher       *cipher.Cipher
	txRunner     tx.Runner
	logger       *slog.Logger
	metrics      Metrics
}

// Option configures optional runner collaborators.
type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(r *Runner) { r.metrics = metrics }
}

func NewRunner(
	customers customer.Store,
	duplicates duplicate.Store,
	ledger migration.Store,
	fingerprints *fingerprint.Engine,
	ciph *cipher.Cipher,
	txRunner tx.Runner,
	opts ...Option,
) *Runner {
	r := &Runner{
		customers:    customers,
		duplicates:   duplicates,
		ledger:       ledger,
		fingerprints: fingerprints,
		cipher:       ciph,
		txRunner:     txRunner,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the named migration. A migration that already holds a ledger
// entry reports StatusAlreadyApplied without touching any rows.
func (r *Runner) Run(ctx context.Context, name string) (*models.Report, error) {
	step, ok := r.step(name)
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown migration: "+name)
	}

	if err := r.ledger.Claim(ctx, name); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			r.logger.InfoContext(ctx, "migration already applied", "migration", name)
			return &models.Report{Name: name, Status: models.StatusAlreadyApplied}, nil
		}
		return nil, fmt.Errorf("claim migration ledger: %w", err)
	}

	report, err := step(ctx)
	if err != nil {
		if releaseErr := r.ledger.Release(ctx, name); releaseErr != nil {
			r.logger.ErrorContext(ctx, "release failed migration claim",
				"migration", name, "error", releaseErr)
		}
		return nil, fmt.Errorf("run migration %s: %w", name, err)
	}

	report.Name = name
	report.Status = models.StatusApplied
	r.logger.InfoContext(ctx, "migration applied",
		"migration", name,
		"total", report.Total,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"groups", report.GroupsProcessed,
		"converted", report.RowsConverted,
	)
	return report, nil
}

func (r *Runner) step(name string) (func(context.Context) (*models.Report, error), bool) {
	switch name {
	case MigrationFingerprints:
		return r.backfillFingerprints, true
	case MigrationSignatures:
		return r.backfillSignatures, true
	case MigrationReconcile:
		return r.reconcileDuplicateGroups, true
	}
	return nil, false
}

// backfillFingerprints recomputes the keyed fingerprint for every row still
// tagged with the legacy scheme. A recomputed fingerprint that collides with
// an existing row resolves the same way live traffic does: the earliest
// created row keeps the identity and the later one becomes a ledger entry.
func (r *Runner) backfillFingerprints(ctx context.Context) (*models.Report, error) {
	rows, err := r.customers.ListByScheme(ctx, identitymodels.SchemeLegacy)
	if err != nil {
		return nil, fmt.Errorf("list legacy rows: %w", err)
	}

	report := &models.Report{Total: len(rows)}
	for _, row := range rows {
		canonical, err := r.recoverCanonical(ctx, &row)
		if err != nil {
			r.skipRow(ctx, report, MigrationFingerprints, row.ID, err)
			continue
		}

		recomputed := r.fingerprints.Fingerprint(canonical)
		signature := r.fingerprints.LegacySignature(canonical)
		err = r.customers.UpdateFingerprint(ctx, row.ID, recomputed, r.fingerprints.Scheme(), signature)
		switch {
		case err == nil:
			report.Updated++
			r.countRow(MigrationFingerprints, "updated")
		case errors.Is(err, sentinel.ErrConflict):
			if convErr := r.convertToDuplicate(ctx, &row, recomputed); convErr != nil {
				r.skipRow(ctx, report, MigrationFingerprints, row.ID, convErr)
				continue
			}
			report.RowsConverted++
			r.countRow(MigrationFingerprints, "converted")
		default:
			r.skipRow(ctx, report, MigrationFingerprints, row.ID, err)
		}
	}
	return report, nil
}

// backfillSignatures fills the legacy signature for rows that predate the
// signature column.
func (r *Runner) backfillSignatures(ctx context.Context) (*models.Report, error) {
	rows, err := r.customers.ListMissingSignature(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rows missing signature: %w", err)
	}

	report := &models.Report{Total: len(rows)}
	for _, row := range rows {
		canonical, err := r.recoverCanonical(ctx, &row)
		if err != nil {
			r.skipRow(ctx, report, MigrationSignatures, row.ID, err)
			continue
		}
		signature := r.fingerprints.LegacySignature(canonical)
		if signature == "" {
			r.skipRow(ctx, report, MigrationSignatures, row.ID,
				dErrors.New(dErrors.CodeInvalidInput, "canonical phone yields empty signature"))
			continue
		}
		if err := r.customers.UpdateSignature(ctx, row.ID, signature); err != nil {
			r.skipRow(ctx, report, MigrationSignatures, row.ID, err)
			continue
		}
		report.Updated++
		r.countRow(MigrationSignatures, "updated")
	}
	return report, nil
}

// reconcileDuplicateGroups collapses groups of live customers that share a
// legacy signature within a tenant. The earliest created member keeps the
// identity; every later member is converted into a duplicate ledger entry
// preserving its original operator, channel and submission time, then removed.
// A failure inside a group skips that group and moves on.
func (r *Runner) reconcileDuplicateGroups(ctx context.Context) (*models.Report, error) {
	groups, err := r.customers.SignatureGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list signature groups: %w", err)
	}

	report := &models.Report{Total: len(groups)}
	for _, group := range groups {
		winner := group.Members[0]
		converted := 0
		err := r.txRunner.RunInTx(ctx, func(ctx context.Context) error {
			for _, loser := range group.Members[1:] {
				if err := r.demote(ctx, &winner, &loser); err != nil {
					return err
				}
				converted++
			}
			return nil
		})
		if err != nil {
			report.Skipped++
			r.countRow(MigrationReconcile, "skipped")
			r.logger.WarnContext(ctx, "signature group skipped",
				"tenant_id", group.TenantID.String(),
				"signature", group.Signature,
				"error", err)
			continue
		}
		report.GroupsProcessed++
		report.RowsConverted += converted
	}
	return report, nil
}

// convertToDuplicate demotes a row whose recomputed fingerprint collides with
// an already-migrated row.
func (r *Runner) convertToDuplicate(ctx context.Context, loser *identitymodels.Customer, recomputed string) error {
	winner, err := r.customers.FindByFingerprint(ctx, loser.TenantID, recomputed)
	if err != nil {
		return fmt.Errorf("resolve collision owner: %w", err)
	}
	return r.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		return r.demote(ctx, winner, loser)
	})
}

// demote records the loser as a duplicate of the winner and deletes its row.
func (r *Runner) demote(ctx context.Context, winner, loser *identitymodels.Customer) error {
	record := &identitymodels.DuplicateRecord{
		ID:                   id.NewDuplicateID(),
		CustomerID:           winner.ID,
		TenantID:             loser.TenantID,
		FirstOwnerOperatorID: winner.OwnerOperatorID,
		DuplicateOperatorID:  loser.OwnerOperatorID,
		DuplicateChannelID:   loser.ChannelID,
		OccurredAt:           loser.CreatedAt,
	}
	if err := r.duplicates.Record(ctx, record); err != nil {
		return fmt.Errorf("record demoted duplicate: %w", err)
	}
	if err := r.customers.Delete(ctx, loser.ID); err != nil {
		return fmt.Errorf("delete demoted customer: %w", err)
	}
	return nil
}

// recoverCanonical decrypts a stored phone and re-canonicalizes it.
func (r *Runner) recoverCanonical(ctx context.Context, row *identitymodels.Customer) (string, error) {
	plaintext, err := r.cipher.Decrypt(row.EncryptedPhone)
	if err != nil {
		return "", fmt.Errorf("decrypt stored phone: %w", err)
	}
	canonical, err := normalize.Canonicalize(plaintext)
	if err != nil {
		return "", fmt.Errorf("canonicalize stored phone: %w", err)
	}
	return canonical, nil
}

func (r *Runner) skipRow(ctx context.Context, report *models.Report, migrationName string, customerID id.CustomerID, err error) {
	report.Skipped++
	r.countRow(migrationName, "skipped")
	r.logger.WarnContext(ctx, "backfill row skipped",
		"migration", migrationName,
		"customer_id", customerID.String(),
		"error", err)
}

func (r *Runner) countRow(migrationName, result string) {
	if r.metrics != nil {
		r.metrics.IncrementBackfillRow(migrationName, result)
	}
}
