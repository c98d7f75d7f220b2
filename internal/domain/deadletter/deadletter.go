// Package deadletter holds the marker row created when a manifest
// exhausts its retry budget (C7), and the operator resolution states.
package deadletter

import (
	"errors"
	"time"
)

type Status string

const (
	StatusAwaitingIntervention Status = "awaiting_intervention"
	StatusRetried              Status = "retried"
	StatusAcknowledged         Status = "acknowledged"
)

var (
	ErrNotFound          = errors.New("dead letter not found")
	ErrAlreadyResolved   = errors.New("dead letter already resolved")
	ErrNotAwaitingRetry  = errors.New("dead letter is not awaiting intervention")
)

// DeadLetter marks that a manifest has exhausted its retry budget and
// needs operator intervention, per spec.md §3.
type DeadLetter struct {
	ID                     int64      `json:"id"`
	ManifestID             int64      `json:"manifestId"`
	DeadLetteredAt         time.Time  `json:"deadLetteredAt"`
	Status                 Status     `json:"status"`
	ResolvedAt             *time.Time `json:"resolvedAt,omitempty"`
	ResolutionNote         *string    `json:"resolutionNote,omitempty"`
	Reason                 string     `json:"reason"`
	RetryCountAtDeadLetter int        `json:"retryCountAtDeadLetter"`
	RetryMetadataID        *int64     `json:"retryMetadataId,omitempty"`
}

// ReasonMaxRetriesExceeded is the reap-phase reason string from
// spec.md §4.7.
const ReasonMaxRetriesExceeded = "max retries exceeded"

type CreateRequest struct {
	ManifestID      int64
	Reason          string
	FailedCountNow  int
}

// New creates a fresh awaiting_intervention row.
func New(req CreateRequest) DeadLetter {
	return DeadLetter{
		ManifestID:             req.ManifestID,
		DeadLetteredAt:         time.Now().UTC(),
		Status:                 StatusAwaitingIntervention,
		Reason:                 req.Reason,
		RetryCountAtDeadLetter: req.FailedCountNow,
	}
}

// Retry marks the dead-letter retried, recording the fresh execution
// id, per spec.md §4.7: "create a fresh execution row linked to the
// same manifest, mark dead-letter retried, store the new
// retry_metadata_id".
func (d *DeadLetter) Retry(retryMetadataID int64) error {
	if d.Status != StatusAwaitingIntervention {
		return ErrNotAwaitingRetry
	}
	now := time.Now().UTC()
	d.Status = StatusRetried
	d.ResolvedAt = &now
	d.RetryMetadataID = &retryMetadataID
	return nil
}

// Acknowledge resolves without retrying, for an operator who just
// wants to silence the alert without re-running the work.
func (d *DeadLetter) Acknowledge(note string) error {
	if d.Status != StatusAwaitingIntervention {
		return ErrNotAwaitingRetry
	}
	now := time.Now().UTC()
	d.Status = StatusAcknowledged
	d.ResolvedAt = &now
	if note != "" {
		d.ResolutionNote = &note
	}
	return nil
}

// Open reports whether this dead-letter still blocks the evaluator
// from scheduling its manifest (spec.md §3: "A manifest with
// status=awaiting_intervention blocks further automatic scheduling").
func (d DeadLetter) Open() bool {
	return d.Status == StatusAwaitingIntervention
}
