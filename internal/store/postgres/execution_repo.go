package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/execution"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/jackc/pgx/v5"
)

type executionRepo struct {
	dc *DataContext
}

const metadataColumns = `
	id, external_id, name, input_type_name, workflow_state, start_time, end_time, input, output,
	failure_step, failure_exception, failure_reason, stack_trace, parent_id,
	manifest_id, cancel_requested, currently_running_step, step_started_at`

func scanMetadataRow(scan func(dest ...any) error, m *execution.Metadata) error {
	var state string
	if err := scan(
		&m.ID, &m.ExternalID, &m.Name, &m.InputTypeName, &state, &m.StartTime, &m.EndTime, &m.Input, &m.Output,
		&m.FailureStep, &m.FailureException, &m.FailureReason, &m.StackTrace, &m.ParentID,
		&m.ManifestID, &m.CancelRequested, &m.CurrentlyRunningStep, &m.StepStartedAt,
	); err != nil {
		return err
	}
	m.WorkflowState = execution.WorkflowState(state)
	return nil
}

func (r *executionRepo) Create(ctx context.Context, m execution.Metadata) (execution.Metadata, error) {
	op := "metadata.create"

	err := r.dc.observe(op, func() error {
		return scanMetadataRow(r.dc.db.QueryRow(ctx, `
			INSERT INTO metadata (
				external_id, name, input_type_name, workflow_state, start_time, input,
				parent_id, manifest_id, cancel_requested
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+metadataColumns,
			m.ExternalID, m.Name, m.InputTypeName, string(m.WorkflowState), m.StartTime, m.Input,
			m.ParentID, m.ManifestID, m.CancelRequested,
		).Scan, &m)
	})
	if err != nil {
		return execution.Metadata{}, err
	}
	return m, nil
}

func (r *executionRepo) GetByID(ctx context.Context, id int64) (execution.Metadata, error) {
	var m execution.Metadata
	op := "metadata.get_by_id"

	err := r.dc.observe(op, func() error {
		return scanMetadataRow(r.dc.db.QueryRow(ctx, `SELECT `+metadataColumns+` FROM metadata WHERE id = $1`, id).Scan, &m)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return execution.Metadata{}, execution.ErrMetadataNotFound
		}
		return execution.Metadata{}, err
	}
	return m, nil
}

func (r *executionRepo) Update(ctx context.Context, m execution.Metadata) error {
	op := "metadata.update"

	return r.dc.observe(op, func() error {
		tag, err := r.dc.db.Exec(ctx, `
			UPDATE metadata SET
				workflow_state = $2, end_time = $3, output = $4,
				failure_step = $5, failure_exception = $6, failure_reason = $7, stack_trace = $8,
				cancel_requested = $9, currently_running_step = $10, step_started_at = $11
			WHERE id = $1
		`,
			m.ID, string(m.WorkflowState), m.EndTime, m.Output,
			m.FailureStep, m.FailureException, m.FailureReason, m.StackTrace,
			m.CancelRequested, m.CurrentlyRunningStep, m.StepStartedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return execution.ErrMetadataNotFound
		}
		return nil
	})
}

// LoadActiveCounts implements spec.md §4.4 step 2: a single grouped
// query counting active executions bucketed by manifest_group_id
// (nulls for ad-hoc), excluding administrative workflow type-names.
func (r *executionRepo) LoadActiveCounts(ctx context.Context, excludedWorkflowNames []string) (store.ActiveCounts, error) {
	op := "metadata.load_active_counts"
	counts := store.ActiveCounts{GroupActive: map[int64]int{}}

	err := r.dc.observe(op, func() error {
		rows, err := r.dc.db.Query(ctx, `
			SELECT m.manifest_group_id, count(*)
			FROM metadata md
			LEFT JOIN manifest m ON m.id = md.manifest_id
			WHERE md.workflow_state IN ('pending', 'in_progress')
			  AND NOT (md.name = ANY($1))
			GROUP BY m.manifest_group_id
		`, excludedWorkflowNames)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var groupID *int64
			var n int
			if err := rows.Scan(&groupID, &n); err != nil {
				return err
			}
			counts.GlobalActive += n
			if groupID != nil {
				counts.GroupActive[*groupID] = n
			}
		}
		return rows.Err()
	})
	if err != nil {
		return store.ActiveCounts{}, err
	}
	return counts, nil
}

// CountFailed returns the cumulative terminal-failed count for a
// manifest, per spec.md §4.7: "Historical; not a rolling window."
func (r *executionRepo) CountFailed(ctx context.Context, manifestID int64) (int, error) {
	op := "metadata.count_failed"
	var n int

	err := r.dc.observe(op, func() error {
		return r.dc.db.QueryRow(ctx, `
			SELECT count(*) FROM metadata WHERE manifest_id = $1 AND workflow_state = 'failed'
		`, manifestID).Scan(&n)
	})
	return n, err
}

// LoadFailuresInWindow implements spec.md §4.10's single windowed
// query: every failed row for workflowName ending in [since, now],
// left for the caller to filter in-memory by exception/step/custom
// predicates.
func (r *executionRepo) LoadFailuresInWindow(ctx context.Context, workflowName string, since time.Time) ([]execution.Metadata, error) {
	op := "metadata.load_failures_in_window"
	var out []execution.Metadata

	err := r.dc.observe(op, func() error {
		rows, err := r.dc.db.Query(ctx, `
			SELECT `+metadataColumns+` FROM metadata
			WHERE name = $1 AND workflow_state = 'failed' AND end_time >= $2
			ORDER BY end_time ASC
		`, workflowName, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m execution.Metadata
			if err := scanMetadataRow(rows.Scan, &m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// LoadLastSuccess returns the most recent completed end_time for
// workflowName, nil if the workflow has never completed successfully.
func (r *executionRepo) LoadLastSuccess(ctx context.Context, workflowName string) (*time.Time, error) {
	op := "metadata.load_last_success"
	var last *time.Time

	err := r.dc.observe(op, func() error {
		err := r.dc.db.QueryRow(ctx, `
			SELECT max(end_time) FROM metadata WHERE name = $1 AND workflow_state = 'completed'
		`, workflowName).Scan(&last)
		return err
	})
	return last, err
}

func (r *executionRepo) RequestCancel(ctx context.Context, id int64) error {
	op := "metadata.request_cancel"

	return r.dc.observe(op, func() error {
		tag, err := r.dc.db.Exec(ctx, `
			UPDATE metadata SET cancel_requested = true
			WHERE id = $1 AND workflow_state IN ('pending', 'in_progress')
		`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return execution.ErrMetadataNotFound
		}
		return nil
	})
}

// HasActiveByManifestID reports whether manifestID has a pending or
// in_progress execution row, the half of spec.md §4.8's dormant
// idempotency check that the status=queued WorkQueueStore lookup alone
// cannot cover (a prior activation may already have been dispatched).
func (r *executionRepo) HasActiveByManifestID(ctx context.Context, manifestID int64) (bool, error) {
	op := "metadata.has_active_by_manifest_id"
	var exists bool

	err := r.dc.observe(op, func() error {
		return r.dc.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM metadata
				WHERE manifest_id = $1 AND workflow_state IN ('pending', 'in_progress')
			)
		`, manifestID).Scan(&exists)
	})
	return exists, err
}

// RecoverStuck marks as failed the pending or in_progress metadata rows
// whose start_time, and step_started_at when set, predate cutoff, per
// SPEC_FULL.md §4.6's one-shot startup reconciliation (the analog of the teacher's
// RequeueStaleProcessing, but run once at boot rather than on a
// ticker since executions are claimed by durable metadata_id, not a
// lock column).
func (r *executionRepo) RecoverStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	op := "metadata.recover_stuck"
	var n int64

	err := r.dc.observe(op, func() error {
		tag, err := r.dc.db.Exec(ctx, `
			UPDATE metadata
			SET workflow_state = 'failed', end_time = now(),
				failure_step = currently_running_step,
				failure_exception = 'process_restart',
				failure_reason = 'execution abandoned by a process restart'
			WHERE workflow_state IN ('pending', 'in_progress')
			  AND (step_started_at IS NULL OR step_started_at < $1)
			  AND start_time < $1
		`, cutoff)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}
