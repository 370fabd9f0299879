package models

import (
	"time"

	id "phonegate/pkg/domain"
)

// DuplicateRecord is one append-only audit row for a rejected duplicate
// submission. The ledger is a full collision history: repeated submissions
// against the same customer each add a distinct row.
//
// TenantID is denormalized from the canonical customer so listings can be
// tenant-scoped without a join surviving customer deletion.
type DuplicateRecord struct {
	ID                   id.DuplicateID `json:"id"`
	CustomerID           id.CustomerID  `json:"customer_id"`
	TenantID             id.TenantID    `json:"tenant_id"`
	FirstOwnerOperatorID id.OperatorID  `json:"first_owner_operator_id"`
	DuplicateOperatorID  id.OperatorID  `json:"duplicate_operator_id"`
	DuplicateChannelID   id.ChannelID   `json:"duplicate_channel_id"`
	OccurredAt           time.Time      `json:"occurred_at"`
}

// MigrationLedgerEntry marks a named backfill as applied. Its name uniqueness
// both makes re-runs no-ops and keeps the runner from racing itself.
type MigrationLedgerEntry struct {
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}
