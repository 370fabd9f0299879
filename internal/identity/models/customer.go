// Package models holds the identity-resolution domain entities.
package models

import (
	"time"

	id "phonegate/pkg/domain"
)

// FingerprintScheme tags which derivation produced a customer's fingerprint,
// so migration logic can query "which scheme produced this row" directly.
type FingerprintScheme string

const (
	// SchemeHMACv1 is the current generation: HMAC-SHA256 of the canonical
	// phone under the process pepper.
	SchemeHMACv1 FingerprintScheme = "hmac-v1"

	// SchemeLegacy marks pre-migration rows whose fingerprint column still
	// holds an older derivation and needs backfilling.
	SchemeLegacy FingerprintScheme = "legacy"
)

// Customer is one live registered customer.
//
// Invariants:
//   - Exactly one live Customer per (TenantID, Fingerprint); the storage
//     uniqueness constraint is the only serialization point.
//   - Immutable after creation except for migration-driven recomputation of
//     Fingerprint, Scheme and LegacySignature.
//   - Fingerprint and EncryptedPhone never leave the data layer; API output
//     goes through Summary.
type Customer struct {
	ID              id.CustomerID
	TenantID        id.TenantID
	OwnerOperatorID id.OperatorID
	ChannelID       id.ChannelID
	Fingerprint     string
	Scheme          FingerprintScheme
	LegacySignature string
	EncryptedPhone  string
	CreatedAt       time.Time
}

// Summary is the caller-facing projection of a Customer. It deliberately
// carries no fingerprint, signature, or phone material.
type Summary struct {
	ID              id.CustomerID `json:"id"`
	TenantID        id.TenantID   `json:"tenant_id"`
	OwnerOperatorID id.OperatorID `json:"owner_operator_id"`
	ChannelID       id.ChannelID  `json:"channel_id"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Summarize strips the confidential columns for API output.
func (c *Customer) Summarize() Summary {
	return Summary{
		ID:              c.ID,
		TenantID:        c.TenantID,
		OwnerOperatorID: c.OwnerOperatorID,
		ChannelID:       c.ChannelID,
		CreatedAt:       c.CreatedAt,
	}
}

// Outcome is the result of a TryRegister attempt.
// Exactly one of the two shapes holds: Registered with the new CustomerID, or
// not registered with Existing set to the canonical (earliest-created) owner.
type Outcome struct {
	Registered bool
	CustomerID id.CustomerID
	Existing   *Customer
}
