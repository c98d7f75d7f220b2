package postgres

import (
	"context"
	"errors"

	"github.com/chainsharp/scheduler/internal/domain/manifestgroup"
	"github.com/jackc/pgx/v5"
)

type manifestGroupRepo struct {
	dc *DataContext
}

const manifestGroupColumns = `id, name, priority, max_active_jobs, is_enabled, created_at, updated_at`

func (r *manifestGroupRepo) Upsert(ctx context.Context, g manifestgroup.ManifestGroup) (manifestgroup.ManifestGroup, error) {
	op := "manifest_group.upsert"

	err := r.dc.observe(op, func() error {
		return r.dc.db.QueryRow(ctx, `
			INSERT INTO manifest_group (name, priority, max_active_jobs, is_enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (name) DO UPDATE SET
				priority = EXCLUDED.priority,
				max_active_jobs = EXCLUDED.max_active_jobs,
				is_enabled = EXCLUDED.is_enabled,
				updated_at = now()
			RETURNING `+manifestGroupColumns,
			g.Name, g.Priority, g.MaxActiveJobs, g.IsEnabled,
		).Scan(
			&g.ID, &g.Name, &g.Priority, &g.MaxActiveJobs, &g.IsEnabled, &g.CreatedAt, &g.UpdatedAt,
		)
	})
	if err != nil {
		return manifestgroup.ManifestGroup{}, err
	}
	return g, nil
}

func (r *manifestGroupRepo) GetByName(ctx context.Context, name string) (manifestgroup.ManifestGroup, error) {
	var g manifestgroup.ManifestGroup
	op := "manifest_group.get_by_name"

	err := r.dc.observe(op, func() error {
		return r.dc.db.QueryRow(ctx, `
			SELECT `+manifestGroupColumns+` FROM manifest_group WHERE name = $1
		`, name).Scan(&g.ID, &g.Name, &g.Priority, &g.MaxActiveJobs, &g.IsEnabled, &g.CreatedAt, &g.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return manifestgroup.ManifestGroup{}, manifestgroup.ErrGroupNotFound
		}
		return manifestgroup.ManifestGroup{}, err
	}
	return g, nil
}

func (r *manifestGroupRepo) GetByID(ctx context.Context, id int64) (manifestgroup.ManifestGroup, error) {
	var g manifestgroup.ManifestGroup
	op := "manifest_group.get_by_id"

	err := r.dc.observe(op, func() error {
		return r.dc.db.QueryRow(ctx, `
			SELECT `+manifestGroupColumns+` FROM manifest_group WHERE id = $1
		`, id).Scan(&g.ID, &g.Name, &g.Priority, &g.MaxActiveJobs, &g.IsEnabled, &g.CreatedAt, &g.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return manifestgroup.ManifestGroup{}, manifestgroup.ErrGroupNotFound
		}
		return manifestgroup.ManifestGroup{}, err
	}
	return g, nil
}

func (r *manifestGroupRepo) List(ctx context.Context) ([]manifestgroup.ManifestGroup, error) {
	op := "manifest_group.list"
	var out []manifestgroup.ManifestGroup

	err := r.dc.observe(op, func() error {
		rows, err := r.dc.db.Query(ctx, `
			SELECT `+manifestGroupColumns+` FROM manifest_group ORDER BY name ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var g manifestgroup.ManifestGroup
			if err := rows.Scan(&g.ID, &g.Name, &g.Priority, &g.MaxActiveJobs, &g.IsEnabled, &g.CreatedAt, &g.UpdatedAt); err != nil {
				return err
			}
			out = append(out, g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
