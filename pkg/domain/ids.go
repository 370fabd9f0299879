// Package domain holds the typed identifiers shared across modules.
//
// Every entity ID is a distinct UUID type so the compiler rejects a
// ChannelID where an OperatorID is expected. Parse helpers enforce the
// trust-boundary invariant: IDs must be valid, non-empty, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "phonegate/pkg/domain-errors"
)

type (
	// TenantID identifies the administrative boundary (the owning admin)
	// within which phone uniqueness is enforced.
	TenantID uuid.UUID

	// OperatorID identifies an operator account.
	OperatorID uuid.UUID

	// ChannelID identifies an acquisition channel.
	ChannelID uuid.UUID

	// CustomerID identifies a registered customer.
	CustomerID uuid.UUID

	// DuplicateID identifies a duplicate-submission audit row.
	DuplicateID uuid.UUID
)

func parseUUID(raw, what string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" must not be the nil UUID")
	}
	return parsed, nil
}

// ParseTenantID parses and validates a tenant ID from its string form.
func ParseTenantID(raw string) (TenantID, error) {
	parsed, err := parseUUID(raw, "tenant id")
	return TenantID(parsed), err
}

// ParseOperatorID parses and validates an operator ID from its string form.
func ParseOperatorID(raw string) (OperatorID, error) {
	parsed, err := parseUUID(raw, "operator id")
	return OperatorID(parsed), err
}

// ParseChannelID parses and validates a channel ID from its string form.
func ParseChannelID(raw string) (ChannelID, error) {
	parsed, err := parseUUID(raw, "channel id")
	return ChannelID(parsed), err
}

// ParseCustomerID parses and validates a customer ID from its string form.
func ParseCustomerID(raw string) (CustomerID, error) {
	parsed, err := parseUUID(raw, "customer id")
	return CustomerID(parsed), err
}

func (t TenantID) String() string    { return uuid.UUID(t).String() }
func (o OperatorID) String() string  { return uuid.UUID(o).String() }
func (c ChannelID) String() string   { return uuid.UUID(c).String() }
func (c CustomerID) String() string  { return uuid.UUID(c).String() }
func (d DuplicateID) String() string { return uuid.UUID(d).String() }

func (t TenantID) IsNil() bool   { return uuid.UUID(t) == uuid.Nil }
func (o OperatorID) IsNil() bool { return uuid.UUID(o) == uuid.Nil }
func (c ChannelID) IsNil() bool  { return uuid.UUID(c) == uuid.Nil }
func (c CustomerID) IsNil() bool { return uuid.UUID(c) == uuid.Nil }

// The IDs marshal as canonical UUID strings in JSON payloads.

func (t TenantID) MarshalText() ([]byte, error)    { return []byte(t.String()), nil }
func (o OperatorID) MarshalText() ([]byte, error)  { return []byte(o.String()), nil }
func (c ChannelID) MarshalText() ([]byte, error)   { return []byte(c.String()), nil }
func (c CustomerID) MarshalText() ([]byte, error)  { return []byte(c.String()), nil }
func (d DuplicateID) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (t *TenantID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*t = TenantID(parsed)
	return nil
}

func (o *OperatorID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*o = OperatorID(parsed)
	return nil
}

func (c *ChannelID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*c = ChannelID(parsed)
	return nil
}

func (c *CustomerID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*c = CustomerID(parsed)
	return nil
}

func (d *DuplicateID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*d = DuplicateID(parsed)
	return nil
}

// NewTenantID mints a fresh tenant ID.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewOperatorID mints a fresh operator ID.
func NewOperatorID() OperatorID { return OperatorID(uuid.New()) }

// NewChannelID mints a fresh channel ID.
func NewChannelID() ChannelID { return ChannelID(uuid.New()) }

// NewCustomerID mints a fresh customer ID.
func NewCustomerID() CustomerID { return CustomerID(uuid.New()) }

// NewDuplicateID mints a fresh duplicate-record ID.
func NewDuplicateID() DuplicateID { return DuplicateID(uuid.New()) }
