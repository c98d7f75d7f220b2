package postgres

import (
	"context"
	"errors"

	"github.com/chainsharp/scheduler/internal/domain/workqueue"
	"github.com/jackc/pgx/v5"
)

type workQueueRepo struct {
	dc *DataContext
}

const workQueueColumns = `
	id, external_id, workflow_name, input, input_type_name, status,
	manifest_id, metadata_id, priority, created_at, dispatched_at`

func scanWorkQueueRow(scan func(dest ...any) error, e *workqueue.Entry) error {
	var status string
	if err := scan(
		&e.ID, &e.ExternalID, &e.WorkflowName, &e.Input, &e.InputTypeName, &status,
		&e.ManifestID, &e.MetadataID, &e.Priority, &e.CreatedAt, &e.DispatchedAt,
	); err != nil {
		return err
	}
	e.Status = workqueue.Status(status)
	return nil
}

// Enqueue inserts a queued entry. A violation of the partial unique
// index on (manifest_id) WHERE status='queued' is translated into
// workqueue.ErrDuplicateQueued so callers treat idempotent absorption
// identically across both store implementations, per spec.md §3.
func (r *workQueueRepo) Enqueue(ctx context.Context, e workqueue.Entry) (workqueue.Entry, error) {
	op := "work_queue.enqueue"

	err := r.dc.observe(op, func() error {
		return scanWorkQueueRow(r.dc.db.QueryRow(ctx, `
			INSERT INTO work_queue (
				external_id, workflow_name, input, input_type_name, status,
				manifest_id, priority, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+workQueueColumns,
			e.ExternalID, e.WorkflowName, e.Input, e.InputTypeName, string(e.Status),
			e.ManifestID, e.Priority, e.CreatedAt,
		).Scan, &e)
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return workqueue.Entry{}, workqueue.ErrDuplicateQueued
		}
		return workqueue.Entry{}, err
	}
	return e, nil
}

// LoadQueuedForDispatch returns queued entries ordered per spec.md
// §4.4 step 1: group priority desc, then entry priority desc, then
// created_at asc, dropping entries whose group is disabled. Ad-hoc
// entries (no manifest_id, or a manifest with no group) sort as if
// their group priority were zero, the same default manifest_group
// rows get on insert.
func (r *workQueueRepo) LoadQueuedForDispatch(ctx context.Context) ([]workqueue.Entry, error) {
	op := "work_queue.load_queued_for_dispatch"
	var out []workqueue.Entry

	err := r.dc.observe(op, func() error {
		rows, err := r.dc.db.Query(ctx, `
			SELECT wq.`+workQueueColumnsQualified()+`
			FROM work_queue wq
			LEFT JOIN manifest m ON m.id = wq.manifest_id
			LEFT JOIN manifest_group g ON g.id = m.manifest_group_id
			WHERE wq.status = 'queued'
			  AND (wq.manifest_id IS NULL OR g.is_enabled)
			ORDER BY COALESCE(g.priority, 0) DESC, wq.priority DESC, wq.created_at ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var e workqueue.Entry
			if err := scanWorkQueueRow(rows.Scan, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func workQueueColumnsQualified() string {
	return "id, external_id, workflow_name, input, input_type_name, status, " +
		"manifest_id, metadata_id, priority, created_at, dispatched_at"
}

func (r *workQueueRepo) MarkDispatched(ctx context.Context, id int64, metadataID int64) error {
	op := "work_queue.mark_dispatched"

	return r.dc.observe(op, func() error {
		tag, err := r.dc.db.Exec(ctx, `
			UPDATE work_queue
			SET status = 'dispatched', metadata_id = $2, dispatched_at = now()
			WHERE id = $1 AND status = 'queued'
		`, id, metadataID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return workqueue.ErrEntryNotFound
		}
		return nil
	})
}

func (r *workQueueRepo) Cancel(ctx context.Context, id int64) error {
	op := "work_queue.cancel"

	return r.dc.observe(op, func() error {
		tag, err := r.dc.db.Exec(ctx, `
			UPDATE work_queue SET status = 'cancelled' WHERE id = $1 AND status = 'queued'
		`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return workqueue.ErrEntryNotFound
		}
		return nil
	})
}

func (r *workQueueRepo) GetByManifestID(ctx context.Context, manifestID int64) (workqueue.Entry, bool, error) {
	var e workqueue.Entry
	op := "work_queue.get_by_manifest_id"

	err := r.dc.observe(op, func() error {
		return scanWorkQueueRow(r.dc.db.QueryRow(ctx, `
			SELECT `+workQueueColumns+`
			FROM work_queue WHERE manifest_id = $1 AND status = 'queued'
		`, manifestID).Scan, &e)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return workqueue.Entry{}, false, nil
		}
		return workqueue.Entry{}, false, err
	}
	return e, true, nil
}
