// Package execution holds the per-attempt metadata row C6 (the
// executor) loads, transitions, and finalizes.
package execution

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type WorkflowState string

const (
	StatePending    WorkflowState = "pending"
	StateInProgress WorkflowState = "in_progress"
	StateCompleted  WorkflowState = "completed"
	StateFailed     WorkflowState = "failed"
)

func (s WorkflowState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	ErrMetadataNotFound  = errors.New("execution metadata not found")
	ErrInvalidTransition = errors.New("execution: invalid state transition")
)

// Metadata is one row per execution attempt, per spec.md §3.
type Metadata struct {
	ID                   int64           `json:"id"`
	ExternalID            string          `json:"externalId"`
	Name                 string          `json:"name"`
	InputTypeName        string          `json:"inputTypeName"`
	WorkflowState        WorkflowState   `json:"workflowState"`
	StartTime            time.Time       `json:"startTime"`
	EndTime              *time.Time      `json:"endTime,omitempty"`
	Input                json.RawMessage `json:"input,omitempty"`
	Output                json.RawMessage `json:"output,omitempty"`
	FailureStep          *string         `json:"failureStep,omitempty"`
	FailureException     *string         `json:"failureException,omitempty"`
	FailureReason        *string         `json:"failureReason,omitempty"`
	StackTrace           *string         `json:"stackTrace,omitempty"`
	ParentID             *int64          `json:"parentId,omitempty"`
	ManifestID           *int64          `json:"manifestId,omitempty"`
	CancelRequested      bool            `json:"cancelRequested"`
	CurrentlyRunningStep *string         `json:"currentlyRunningStep,omitempty"`
	StepStartedAt        *time.Time      `json:"stepStartedAt,omitempty"`
}

type CreateRequest struct {
	Name          string
	InputTypeName string
	Input         json.RawMessage
	ParentID      *int64
	ManifestID    *int64
}

// New creates a fresh pending metadata row, mirroring spec.md §4.4
// step 2: "Create an execution metadata row {state=pending,
// manifest_id, external_id=new uuid} and flush so it receives a
// durable id." InputTypeName, carried over from the dispatched
// work-queue entry, is what the registry resolves on (§4.6 step 5);
// Name is the human-facing workflow_name used for logs and metrics
// labels and may differ from it.
func New(req CreateRequest) Metadata {
	inputTypeName := req.InputTypeName
	if inputTypeName == "" {
		inputTypeName = req.Name
	}
	return Metadata{
		ExternalID:    uuid.NewString(),
		Name:          req.Name,
		InputTypeName: inputTypeName,
		WorkflowState: StatePending,
		StartTime:     time.Now().UTC(),
		Input:         req.Input,
		ParentID:      req.ParentID,
		ManifestID:    req.ManifestID,
	}
}

// Start transitions pending -> in_progress.
func (m *Metadata) Start() error {
	if m.WorkflowState != StatePending {
		return ErrInvalidTransition
	}
	m.WorkflowState = StateInProgress
	return nil
}

// Complete transitions in_progress -> completed, recording output.
func (m *Metadata) Complete(output json.RawMessage) error {
	if m.WorkflowState != StateInProgress {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	m.WorkflowState = StateCompleted
	m.EndTime = &now
	m.Output = output
	m.CurrentlyRunningStep = nil
	m.StepStartedAt = nil
	return nil
}

// Fail transitions in_progress -> failed, recording the failure
// detail triple spec.md §3 lists.
func (m *Metadata) Fail(step, exception, reason, stackTrace string) error {
	if m.WorkflowState != StateInProgress {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	m.WorkflowState = StateFailed
	m.EndTime = &now
	m.FailureStep = &step
	m.FailureException = &exception
	m.FailureReason = &reason
	if stackTrace != "" {
		m.StackTrace = &stackTrace
	}
	m.CurrentlyRunningStep = nil
	m.StepStartedAt = nil
	return nil
}

// EnterStep records which step is currently running and when it
// started; RecoverStuck reads these fields. No pass compares them with
// timeout_seconds, so an execution is never failed for running past its
// timeout.
func (m *Metadata) EnterStep(name string) {
	now := time.Now().UTC()
	m.CurrentlyRunningStep = &name
	m.StepStartedAt = &now
}
