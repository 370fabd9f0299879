// Package audit captures key domain actions through a transactional outbox.
//
// Events are appended in the same database transaction as the mutation they
// describe, then shipped to Kafka by a background worker. A crash between
// commit and publish therefore loses nothing; the worker picks the row up on
// the next poll.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "phonegate/pkg/domain"
)

// Action identifies what happened.
type Action string

const (
	ActionCustomerRegistered Action = "customer_registered"
	ActionDuplicateDetected  Action = "duplicate_detected"
	ActionMigrationApplied   Action = "migration_applied"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Action     Action            `json:"action"`
	TenantID   id.TenantID       `json:"tenant_id"`
	CustomerID id.CustomerID     `json:"customer_id,omitzero"`
	OperatorID id.OperatorID     `json:"operator_id,omitzero"`
	RequestID  string            `json:"request_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Store is the outbox. Append joins the caller's transaction when one is
// bound to the context.
type Store interface {
	Append(ctx context.Context, event Event) error
	Unpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}
