// Package manifest holds the durable definition of what to run and
// when (C2). A Manifest is the unit the evaluator (C3) scans every
// tick to decide whether new work is due.
package manifest

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/schedule"
)

var (
	ErrManifestNotFound = errors.New("manifest not found")
	ErrDuplicateExternalID = errors.New("manifest: external_id already registered")
)

// Manifest is the durable "what to run and when" definition from
// spec.md §3.
type Manifest struct {
	ID                  int64              `json:"id"`
	ExternalID          string             `json:"externalId"`
	WorkflowName        string             `json:"workflowName"`
	InputTypeName       string             `json:"inputTypeName"`
	InputProperties     json.RawMessage    `json:"inputProperties,omitempty"`
	IsEnabled           bool               `json:"isEnabled"`
	ScheduleType        schedule.Type      `json:"scheduleType"`
	CronExpression      *string            `json:"cronExpression,omitempty"`
	IntervalSeconds     *int               `json:"intervalSeconds,omitempty"`
	DependsOnManifestID *int64             `json:"dependsOnManifestId,omitempty"`
	ManifestGroupID     int64              `json:"manifestGroupId"`
	Priority            int                `json:"priority"`
	MaxRetries          int                `json:"maxRetries"`
	TimeoutSeconds      *int               `json:"timeoutSeconds,omitempty"`
	LastSuccessfulRun   *time.Time         `json:"lastSuccessfulRun,omitempty"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// CreateRequest is the upsert payload ScheduleMany accepts.
type CreateRequest struct {
	ExternalID          string
	WorkflowName        string
	InputTypeName       string
	InputProperties     json.RawMessage
	IsEnabled           *bool
	ScheduleType        schedule.Type
	CronExpression      *string
	IntervalSeconds     *int
	DependsOnManifestID *int64
	ManifestGroupID     int64
	Priority            int
	MaxRetries          int
	TimeoutSeconds      *int
}

// DefaultMaxRetries is the manifest-level retry budget New applies when
// a request leaves MaxRetries unset; it matches the max_retries column
// default in the Postgres schema.
const DefaultMaxRetries = 3

// New applies defaults and returns the pure value; callers persist it
// through the store. Validation of the schedule invariants is the
// caller's responsibility via Schedule().Validate().
func New(req CreateRequest) Manifest {
	now := time.Now().UTC()

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return Manifest{
		ExternalID:          req.ExternalID,
		WorkflowName:        req.WorkflowName,
		InputTypeName:       req.InputTypeName,
		InputProperties:     req.InputProperties,
		IsEnabled:           enabled,
		ScheduleType:        req.ScheduleType,
		CronExpression:      req.CronExpression,
		IntervalSeconds:     req.IntervalSeconds,
		DependsOnManifestID: req.DependsOnManifestID,
		ManifestGroupID:     req.ManifestGroupID,
		Priority:            req.Priority,
		MaxRetries:          maxRetries,
		TimeoutSeconds:      req.TimeoutSeconds,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Schedule reconstructs the pure schedule.Schedule value this manifest
// declares, for use by the evaluator's ShouldRunNow/NextFire calls.
func (m Manifest) Schedule() schedule.Schedule {
	s := schedule.Schedule{Kind: m.ScheduleType, DependsOnID: m.DependsOnManifestID}
	if m.CronExpression != nil {
		s.CronExpression = *m.CronExpression
	}
	if m.IntervalSeconds != nil {
		s.IntervalSeconds = *m.IntervalSeconds
	}
	return s
}

// Validate enforces the schedule_type invariants from spec.md §3.
func (m Manifest) Validate() error {
	if m.ExternalID == "" {
		return errors.New("manifest: external_id required")
	}
	if m.WorkflowName == "" {
		return errors.New("manifest: workflow_name required")
	}
	if !m.ScheduleType.IsValid() {
		return errors.New("manifest: unknown schedule_type")
	}
	return m.Schedule().Validate()
}

// DependentPriorityBoost is added to a dependent manifest's enqueued
// priority per spec.md §4.3 step 5, so chained work is not starved
// behind unrelated top-of-priority manifests that happen to fire at
// the same tick.
const DependentPriorityBoost = 1000

// EnqueuePriority computes the priority a WorkQueue row gets when this
// manifest fires, per spec.md §4.3 step 5.
func (m Manifest) EnqueuePriority(groupPriority int) int {
	p := groupPriority
	if m.ScheduleType == schedule.TypeDependent {
		p += DependentPriorityBoost
	}
	return p
}
