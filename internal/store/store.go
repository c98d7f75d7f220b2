// Package store defines the data-context abstraction (spec.md §6) the
// core scheduler components are built against, plus the typed
// repository contracts for each durable entity. Concrete
// implementations live in store/postgres (production) and
// store/memory (tests).
package store

import (
	"context"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/deadletter"
	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
	"github.com/chainsharp/scheduler/internal/domain/workqueue"
)

// Tx is a single unit-of-work transaction handle. Callers obtain one
// from DataContext.BeginTransaction and must Commit or Rollback it.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DataContext is the store-wide entry point: it hands out the typed
// repositories and the transaction boundary every multi-step operation
// in §4 (ScheduleMany, the evaluator cycle, dormant activation) needs.
type DataContext interface {
	ManifestGroups() ManifestGroupStore
	Manifests() ManifestStore
	WorkQueue() WorkQueueStore
	Executions() ExecutionStore
	DeadLetters() DeadLetterStore

	// BeginTransaction starts a transaction and returns a DataContext
	// bound to it; every repository obtained from the returned
	// DataContext participates in the same transaction until Commit or
	// Rollback is called on the returned Tx.
	BeginTransaction(ctx context.Context) (DataContext, Tx, error)

	// TryAdvisoryLock attempts to acquire a transaction-scoped
	// Postgres advisory lock keyed by key, per spec.md §9. It must be
	// called within a transaction begun by BeginTransaction; the lock
	// is released automatically on Commit/Rollback.
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
}

// ManifestGroupStore persists ManifestGroup rows.
type ManifestGroupStore interface {
	Upsert(ctx context.Context, g manifestgroup.ManifestGroup) (manifestgroup.ManifestGroup, error)
	GetByName(ctx context.Context, name string) (manifestgroup.ManifestGroup, error)
	GetByID(ctx context.Context, id int64) (manifestgroup.ManifestGroup, error)
	List(ctx context.Context) ([]manifestgroup.ManifestGroup, error)
}

// CandidateView is the lightweight per-manifest aggregate projection
// spec.md §4.3 step 2 describes: "failed_count ... has_awaiting_
// dead_letter, has_queued_work, has_active_execution, and the group
// row", pushed into the database rather than computed in application
// code.
type CandidateView struct {
	Manifest              manifest.Manifest
	Group                 manifestgroup.ManifestGroup
	FailedCount           int
	HasAwaitingDeadLetter bool
	HasActiveExecution    bool
	HasQueuedWork         bool
	ParentLastSuccessful  *time.Time
}

// ManifestStore persists Manifest rows and the evaluator's candidate
// aggregation query.
type ManifestStore interface {
	Upsert(ctx context.Context, m manifest.Manifest) (manifest.Manifest, error)
	GetByExternalID(ctx context.Context, externalID string) (manifest.Manifest, error)
	GetByID(ctx context.Context, id int64) (manifest.Manifest, error)
	List(ctx context.Context) ([]manifest.Manifest, error)

	// PruneExcept cascade-deletes every manifest whose external_id
	// begins with prefix and is not in the keep set, along with its
	// child dead-letters and metadata, per spec.md §4.2.
	PruneExcept(ctx context.Context, prefix string, keepExternalIDs []string) (int64, error)

	SetEnabled(ctx context.Context, externalID string, enabled bool) (manifest.Manifest, error)
	SetLastSuccessfulRun(ctx context.Context, id int64, t time.Time) error

	// LoadCandidates returns the enabled-manifest projection the
	// evaluator scans each tick (spec.md §4.3 step 2).
	LoadCandidates(ctx context.Context) ([]CandidateView, error)
}

// WorkQueueStore persists WorkQueue entries.
type WorkQueueStore interface {
	// Enqueue inserts a queued entry. A unique-violation caused by the
	// partial index on (manifest_id) WHERE status=queued is reported
	// via ErrDuplicateQueued so callers can treat it as idempotent
	// absorption, per spec.md §3.
	Enqueue(ctx context.Context, e workqueue.Entry) (workqueue.Entry, error)

	// LoadQueuedForDispatch returns status=queued entries ordered per
	// spec.md §4.4 step 1 (group priority desc, entry priority desc,
	// created_at asc), joined to their manifest/group, dropping entries
	// whose group is disabled.
	LoadQueuedForDispatch(ctx context.Context) ([]workqueue.Entry, error)

	// MarkDispatched transitions queued -> dispatched, stamping
	// metadata_id and dispatched_at.
	MarkDispatched(ctx context.Context, id int64, metadataID int64) error

	Cancel(ctx context.Context, id int64) error
	GetByManifestID(ctx context.Context, manifestID int64) (workqueue.Entry, bool, error)
}

// ActiveCounts is the grouped active-execution count the dispatcher's
// capacity walk needs, per spec.md §4.4 step 2.
type ActiveCounts struct {
	GlobalActive int
	GroupActive  map[int64]int
}

// ExecutionStore persists execution metadata rows.
type ExecutionStore interface {
	Create(ctx context.Context, m execution.Metadata) (execution.Metadata, error)
	GetByID(ctx context.Context, id int64) (execution.Metadata, error)
	Update(ctx context.Context, m execution.Metadata) error

	// LoadActiveCounts computes ActiveCounts excluding the workflow
	// type names in excludedWorkflowNames, per spec.md §4.4 step 2.
	LoadActiveCounts(ctx context.Context, excludedWorkflowNames []string) (ActiveCounts, error)

	// CountFailed returns the cumulative terminal-failed count for a
	// manifest, per spec.md §4.7.
	CountFailed(ctx context.Context, manifestID int64) (int, error)

	// LoadFailuresInWindow returns every state=failed row for
	// workflowName with EndTime in [since, now], the single query
	// spec.md §4.10's windowed alert evaluation performs before the
	// in-memory filter pass.
	LoadFailuresInWindow(ctx context.Context, workflowName string, since time.Time) ([]execution.Metadata, error)

	// LoadLastSuccess returns the end_time of the most recent
	// state=completed row for workflowName, nil if there is none —
	// the "last-success instant" spec.md §4.10's AlertContext carries.
	LoadLastSuccess(ctx context.Context, workflowName string) (*time.Time, error)

	RequestCancel(ctx context.Context, id int64) error

	// HasActiveByManifestID reports whether manifestID has an execution
	// row in workflow_state pending or in_progress, the second half of
	// spec.md §4.8's dormant-activation idempotency check alongside
	// WorkQueueStore.GetByManifestID's status=queued check.
	HasActiveByManifestID(ctx context.Context, manifestID int64) (bool, error)

	// RecoverStuck marks as failed (failure_exception "process_restart")
	// every pending or in_progress metadata row whose start_time, and
	// step_started_at when set, predate cutoff, per SPEC_FULL.md §4.6's
	// one-shot startup reconciliation. It returns the number of rows.
	RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeadLetterStore persists DeadLetter rows.
type DeadLetterStore interface {
	Create(ctx context.Context, d deadletter.DeadLetter) (deadletter.DeadLetter, error)
	GetByID(ctx context.Context, id int64) (deadletter.DeadLetter, error)
	GetOpenForManifest(ctx context.Context, manifestID int64) (deadletter.DeadLetter, bool, error)
	Update(ctx context.Context, d deadletter.DeadLetter) error
	List(ctx context.Context, status *deadletter.Status) ([]deadletter.DeadLetter, error)
}
