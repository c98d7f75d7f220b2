package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/chainsharp/scheduler/internal/domain/manifest"
	"github.com/chainsharp/scheduler/internal/domain/schedule"
	"github.com/chainsharp/scheduler/internal/store"
	"github.com/jackc/pgx/v5"
)

type manifestRepo struct {
	dc *DataContext
}

const manifestColumns = `
	id, external_id, workflow_name, input_type_name, input_properties,
	is_enabled, schedule_type, cron_expression, interval_seconds,
	depends_on_manifest_id, manifest_group_id, priority, max_retries,
	timeout_seconds, last_successful_run, created_at, updated_at`

const manifestColumnsQualified = `
	m.id, m.external_id, m.workflow_name, m.input_type_name, m.input_properties,
	m.is_enabled, m.schedule_type, m.cron_expression, m.interval_seconds,
	m.depends_on_manifest_id, m.manifest_group_id, m.priority, m.max_retries,
	m.timeout_seconds, m.last_successful_run, m.created_at, m.updated_at`

func (r *manifestRepo) Upsert(ctx context.Context, m manifest.Manifest) (manifest.Manifest, error) {
	op := "manifest.upsert"

	err := r.dc.observe(op, func() error {
		var scheduleType string
		err := r.dc.db.QueryRow(ctx, `
			INSERT INTO manifest (
				external_id, workflow_name, input_type_name, input_properties,
				is_enabled, schedule_type, cron_expression, interval_seconds,
				depends_on_manifest_id, manifest_group_id, priority, max_retries,
				timeout_seconds, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now()
			)
			ON CONFLICT (external_id) DO UPDATE SET
				workflow_name = EXCLUDED.workflow_name,
				input_type_name = EXCLUDED.input_type_name,
				input_properties = EXCLUDED.input_properties,
				is_enabled = EXCLUDED.is_enabled,
				schedule_type = EXCLUDED.schedule_type,
				cron_expression = EXCLUDED.cron_expression,
				interval_seconds = EXCLUDED.interval_seconds,
				depends_on_manifest_id = EXCLUDED.depends_on_manifest_id,
				manifest_group_id = EXCLUDED.manifest_group_id,
				priority = EXCLUDED.priority,
				max_retries = EXCLUDED.max_retries,
				timeout_seconds = EXCLUDED.timeout_seconds,
				updated_at = now()
			RETURNING `+manifestColumns,
			m.ExternalID, m.WorkflowName, m.InputTypeName, m.InputProperties,
			m.IsEnabled, string(m.ScheduleType), m.CronExpression, m.IntervalSeconds,
			m.DependsOnManifestID, m.ManifestGroupID, m.Priority, m.MaxRetries,
			m.TimeoutSeconds,
		).Scan(
			&m.ID, &m.ExternalID, &m.WorkflowName, &m.InputTypeName, &m.InputProperties,
			&m.IsEnabled, &scheduleType, &m.CronExpression, &m.IntervalSeconds,
			&m.DependsOnManifestID, &m.ManifestGroupID, &m.Priority, &m.MaxRetries,
			&m.TimeoutSeconds, &m.LastSuccessfulRun, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return err
		}
		m.ScheduleType = schedule.Type(scheduleType)
		return nil
	})
	if err != nil {
		return manifest.Manifest{}, err
	}
	return m, nil
}

func (r *manifestRepo) GetByExternalID(ctx context.Context, externalID string) (manifest.Manifest, error) {
	var m manifest.Manifest
	var scheduleType string
	op := "manifest.get_by_external_id"

	err := r.dc.observe(op, func() error {
		err := r.dc.db.QueryRow(ctx, `SELECT `+manifestColumns+` FROM manifest WHERE external_id = $1`, externalID).Scan(
			&m.ID, &m.ExternalID, &m.WorkflowName, &m.InputTypeName, &m.InputProperties,
			&m.IsEnabled, &scheduleType, &m.CronExpression, &m.IntervalSeconds,
			&m.DependsOnManifestID, &m.ManifestGroupID, &m.Priority, &m.MaxRetries,
			&m.TimeoutSeconds, &m.LastSuccessfulRun, &m.CreatedAt, &m.UpdatedAt,
		)
		if err == nil {
			m.ScheduleType = schedule.Type(scheduleType)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return manifest.Manifest{}, manifest.ErrManifestNotFound
		}
		return manifest.Manifest{}, err
	}
	return m, nil
}

func (r *manifestRepo) GetByID(ctx context.Context, id int64) (manifest.Manifest, error) {
	var m manifest.Manifest
	var scheduleType string
	op := "manifest.get_by_id"

	err := r.dc.observe(op, func() error {
		err := r.dc.db.QueryRow(ctx, `SELECT `+manifestColumns+` FROM manifest WHERE id = $1`, id).Scan(
			&m.ID, &m.ExternalID, &m.WorkflowName, &m.InputTypeName, &m.InputProperties,
			&m.IsEnabled, &scheduleType, &m.CronExpression, &m.IntervalSeconds,
			&m.DependsOnManifestID, &m.ManifestGroupID, &m.Priority, &m.MaxRetries,
			&m.TimeoutSeconds, &m.LastSuccessfulRun, &m.CreatedAt, &m.UpdatedAt,
		)
		if err == nil {
			m.ScheduleType = schedule.Type(scheduleType)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return manifest.Manifest{}, manifest.ErrManifestNotFound
		}
		return manifest.Manifest{}, err
	}
	return m, nil
}

func (r *manifestRepo) List(ctx context.Context) ([]manifest.Manifest, error) {
	op := "manifest.list"
	var out []manifest.Manifest

	err := r.dc.observe(op, func() error {
		rows, err := r.dc.db.Query(ctx, `SELECT `+manifestColumns+` FROM manifest ORDER BY created_at DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m manifest.Manifest
			var scheduleType string
			if err := rows.Scan(
				&m.ID, &m.ExternalID, &m.WorkflowName, &m.InputTypeName, &m.InputProperties,
				&m.IsEnabled, &scheduleType, &m.CronExpression, &m.IntervalSeconds,
				&m.DependsOnManifestID, &m.ManifestGroupID, &m.Priority, &m.MaxRetries,
				&m.TimeoutSeconds, &m.LastSuccessfulRun, &m.CreatedAt, &m.UpdatedAt,
			); err != nil {
				return err
			}
			m.ScheduleType = schedule.Type(scheduleType)
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PruneExcept implements the prunePrefix cascade ScheduleMany accepts
// (spec.md §4.2): delete every manifest whose external_id begins with
// prefix and is not in keepExternalIDs. Child dead-letters and
// metadata cascade via the FK ON DELETE CASCADE in the bootstrap
// schema.
func (r *manifestRepo) PruneExcept(ctx context.Context, prefix string, keepExternalIDs []string) (int64, error) {
	op := "manifest.prune_except"
	var n int64

	err := r.dc.observe(op, func() error {
		tag, err := r.dc.db.Exec(ctx, `
			DELETE FROM manifest
			WHERE external_id LIKE $1 || '%'
			  AND NOT (external_id = ANY($2))
		`, prefix, keepExternalIDs)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

func (r *manifestRepo) SetEnabled(ctx context.Context, externalID string, enabled bool) (manifest.Manifest, error) {
	var m manifest.Manifest
	var scheduleType string
	op := "manifest.set_enabled"

	err := r.dc.observe(op, func() error {
		err := r.dc.db.QueryRow(ctx, `
			UPDATE manifest SET is_enabled = $2, updated_at = now()
			WHERE external_id = $1
			RETURNING `+manifestColumns,
			externalID, enabled,
		).Scan(
			&m.ID, &m.ExternalID, &m.WorkflowName, &m.InputTypeName, &m.InputProperties,
			&m.IsEnabled, &scheduleType, &m.CronExpression, &m.IntervalSeconds,
			&m.DependsOnManifestID, &m.ManifestGroupID, &m.Priority, &m.MaxRetries,
			&m.TimeoutSeconds, &m.LastSuccessfulRun, &m.CreatedAt, &m.UpdatedAt,
		)
		if err == nil {
			m.ScheduleType = schedule.Type(scheduleType)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return manifest.Manifest{}, manifest.ErrManifestNotFound
		}
		return manifest.Manifest{}, err
	}
	return m, nil
}

// SetLastSuccessfulRun advances the manifest's clock, per spec.md §4.6
// step 7: "This clock advance is what makes dependent manifests
// eligible on the next evaluator tick."
func (r *manifestRepo) SetLastSuccessfulRun(ctx context.Context, id int64, t time.Time) error {
	op := "manifest.set_last_successful_run"

	return r.dc.observe(op, func() error {
		tag, err := r.dc.db.Exec(ctx, `
			UPDATE manifest SET last_successful_run = $2, updated_at = now() WHERE id = $1
		`, id, t)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return manifest.ErrManifestNotFound
		}
		return nil
	})
}

// LoadCandidates implements the evaluator's candidate projection,
// spec.md §4.3 step 2: per-manifest aggregate counts computed in the
// database rather than by round-tripping N queries per manifest.
func (r *manifestRepo) LoadCandidates(ctx context.Context) ([]store.CandidateView, error) {
	op := "manifest.load_candidates"
	var out []store.CandidateView

	err := r.dc.observe(op, func() error {
		rows, err := r.dc.db.Query(ctx, `
			SELECT
				`+manifestColumnsQualified+`,
				g.id, g.name, g.priority, g.max_active_jobs, g.is_enabled, g.created_at, g.updated_at,
				(SELECT count(*) FROM metadata md WHERE md.manifest_id = m.id AND md.workflow_state = 'failed') AS failed_count,
				EXISTS(SELECT 1 FROM dead_letter dl WHERE dl.manifest_id = m.id AND dl.status = 'awaiting_intervention') AS has_awaiting_dead_letter,
				EXISTS(SELECT 1 FROM metadata md2 WHERE md2.manifest_id = m.id AND md2.workflow_state IN ('pending', 'in_progress')) AS has_active_execution,
				EXISTS(SELECT 1 FROM work_queue wq WHERE wq.manifest_id = m.id AND wq.status = 'queued') AS has_queued_work,
				parent.last_successful_run AS parent_last_successful_run
			FROM manifest m
			JOIN manifest_group g ON g.id = m.manifest_group_id
			LEFT JOIN manifest parent ON parent.id = m.depends_on_manifest_id
			WHERE m.is_enabled = true
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var v store.CandidateView
			var scheduleType string
			if err := rows.Scan(
				&v.Manifest.ID, &v.Manifest.ExternalID, &v.Manifest.WorkflowName, &v.Manifest.InputTypeName, &v.Manifest.InputProperties,
				&v.Manifest.IsEnabled, &scheduleType, &v.Manifest.CronExpression, &v.Manifest.IntervalSeconds,
				&v.Manifest.DependsOnManifestID, &v.Manifest.ManifestGroupID, &v.Manifest.Priority, &v.Manifest.MaxRetries,
				&v.Manifest.TimeoutSeconds, &v.Manifest.LastSuccessfulRun, &v.Manifest.CreatedAt, &v.Manifest.UpdatedAt,
				&v.Group.ID, &v.Group.Name, &v.Group.Priority, &v.Group.MaxActiveJobs, &v.Group.IsEnabled, &v.Group.CreatedAt, &v.Group.UpdatedAt,
				&v.FailedCount, &v.HasAwaitingDeadLetter, &v.HasActiveExecution, &v.HasQueuedWork,
				&v.ParentLastSuccessful,
			); err != nil {
				return err
			}
			v.Manifest.ScheduleType = schedule.Type(scheduleType)
			out = append(out, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
