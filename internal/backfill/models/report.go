// Package models holds the backfill reporting types.
package models

// Status tells whether a migration run did work or found its ledger entry
// already present.
type Status string

const (
	StatusApplied        Status = "applied"
	StatusAlreadyApplied Status = "already_applied"
)

// Report summarizes one migration run.
type Report struct {
	Name   string `json:"name"`
	Status Status `json:"status"`

	// Row-oriented migrations.
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`

	// Group-oriented migrations.
	GroupsProcessed int `json:"groups_processed,omitempty"`
	RowsConverted   int `json:"rows_converted,omitempty"`
}
