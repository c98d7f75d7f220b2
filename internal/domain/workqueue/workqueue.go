// Package workqueue holds the pending-unit-of-work value the
// evaluator (C3) writes and the dispatcher (C4) claims.
package workqueue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusDispatched Status = "dispatched"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusDispatched, StatusCancelled:
		return true
	default:
		return false
	}
}

var (
	ErrEntryNotFound = errors.New("work queue entry not found")

	// ErrDuplicateQueued is returned by both store implementations when
	// a manifest already has a queued entry: the memory store checks
	// its own index directly, the Postgres store translates the
	// partial-unique-index violation via postgres.IsUniqueViolation.
	ErrDuplicateQueued = errors.New("work queue: manifest already has a queued entry")
)

// Entry is one pending or dispatched unit of work, per spec.md §3.
type Entry struct {
	ID            int64           `json:"id"`
	ExternalID    string          `json:"externalId"`
	WorkflowName  string          `json:"workflowName"`
	Input         json.RawMessage `json:"input,omitempty"`
	InputTypeName string          `json:"inputTypeName"`
	Status        Status          `json:"status"`
	ManifestID    *int64          `json:"manifestId,omitempty"`
	MetadataID    *int64          `json:"metadataId,omitempty"`
	Priority      int             `json:"priority"`
	CreatedAt     time.Time       `json:"createdAt"`
	DispatchedAt  *time.Time      `json:"dispatchedAt,omitempty"`
}

type CreateRequest struct {
	WorkflowName  string
	Input         json.RawMessage
	InputTypeName string
	ManifestID    *int64
	Priority      int
}

// New constructs a fresh queued entry. ManifestID is nil for work not
// tied to a manifest; Trigger-API entries carry the triggered
// manifest's id.
func New(req CreateRequest) Entry {
	return Entry{
		ExternalID:    uuid.NewString(),
		WorkflowName:  req.WorkflowName,
		Input:         req.Input,
		InputTypeName: req.InputTypeName,
		Status:        StatusQueued,
		ManifestID:    req.ManifestID,
		Priority:      req.Priority,
		CreatedAt:     time.Now().UTC(),
	}
}
