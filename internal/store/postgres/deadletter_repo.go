package postgres

import (
	"context"
	"errors"

	"github.com/chainsharp/scheduler/internal/domain/deadletter"
	"github.com/jackc/pgx/v5"
)

type deadLetterRepo struct {
	dc *DataContext
}

const deadLetterColumns = `
	id, manifest_id, dead_lettered_at, status, resolved_at, resolution_note,
	reason, retry_count_at_dead_letter, retry_metadata_id`

func scanDeadLetterRow(scan func(dest ...any) error, d *deadletter.DeadLetter) error {
	var status string
	if err := scan(
		&d.ID, &d.ManifestID, &d.DeadLetteredAt, &status, &d.ResolvedAt, &d.ResolutionNote,
		&d.Reason, &d.RetryCountAtDeadLetter, &d.RetryMetadataID,
	); err != nil {
		return err
	}
	d.Status = deadletter.Status(status)
	return nil
}

func (r *deadLetterRepo) Create(ctx context.Context, d deadletter.DeadLetter) (deadletter.DeadLetter, error) {
	op := "dead_letter.create"

	err := r.dc.observe(op, func() error {
		return scanDeadLetterRow(r.dc.db.QueryRow(ctx, `
			INSERT INTO dead_letter (
				manifest_id, dead_lettered_at, status, reason, retry_count_at_dead_letter
			) VALUES ($1, $2, $3, $4, $5)
			RETURNING `+deadLetterColumns,
			d.ManifestID, d.DeadLetteredAt, string(d.Status), d.Reason, d.RetryCountAtDeadLetter,
		).Scan, &d)
	})
	if err != nil {
		return deadletter.DeadLetter{}, err
	}
	return d, nil
}

func (r *deadLetterRepo) GetByID(ctx context.Context, id int64) (deadletter.DeadLetter, error) {
	var d deadletter.DeadLetter
	op := "dead_letter.get_by_id"

	err := r.dc.observe(op, func() error {
		return scanDeadLetterRow(r.dc.db.QueryRow(ctx, `
			SELECT `+deadLetterColumns+` FROM dead_letter WHERE id = $1
		`, id).Scan, &d)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return deadletter.DeadLetter{}, deadletter.ErrNotFound
		}
		return deadletter.DeadLetter{}, err
	}
	return d, nil
}

// GetOpenForManifest returns the awaiting_intervention row blocking a
// manifest, if any, per spec.md §3: "A manifest with status=awaiting_
// intervention blocks further automatic scheduling."
func (r *deadLetterRepo) GetOpenForManifest(ctx context.Context, manifestID int64) (deadletter.DeadLetter, bool, error) {
	var d deadletter.DeadLetter
	op := "dead_letter.get_open_for_manifest"

	err := r.dc.observe(op, func() error {
		return scanDeadLetterRow(r.dc.db.QueryRow(ctx, `
			SELECT `+deadLetterColumns+`
			FROM dead_letter
			WHERE manifest_id = $1 AND status = 'awaiting_intervention'
			ORDER BY dead_lettered_at DESC
			LIMIT 1
		`, manifestID).Scan, &d)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return deadletter.DeadLetter{}, false, nil
		}
		return deadletter.DeadLetter{}, false, err
	}
	return d, true, nil
}

func (r *deadLetterRepo) Update(ctx context.Context, d deadletter.DeadLetter) error {
	op := "dead_letter.update"

	return r.dc.observe(op, func() error {
		tag, err := r.dc.db.Exec(ctx, `
			UPDATE dead_letter SET
				status = $2, resolved_at = $3, resolution_note = $4, retry_metadata_id = $5
			WHERE id = $1
		`, d.ID, string(d.Status), d.ResolvedAt, d.ResolutionNote, d.RetryMetadataID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return deadletter.ErrNotFound
		}
		return nil
	})
}

// List returns dead-letters, optionally filtered by status, newest
// first, for the Trigger API's admin listing (spec.md §4.5).
func (r *deadLetterRepo) List(ctx context.Context, status *deadletter.Status) ([]deadletter.DeadLetter, error) {
	op := "dead_letter.list"
	var out []deadletter.DeadLetter

	err := r.dc.observe(op, func() error {
		var rows pgx.Rows
		var err error
		if status != nil {
			rows, err = r.dc.db.Query(ctx, `
				SELECT `+deadLetterColumns+` FROM dead_letter
				WHERE status = $1 ORDER BY dead_lettered_at DESC
			`, string(*status))
		} else {
			rows, err = r.dc.db.Query(ctx, `
				SELECT `+deadLetterColumns+` FROM dead_letter ORDER BY dead_lettered_at DESC
			`)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var d deadletter.DeadLetter
			if err := scanDeadLetterRow(rows.Scan, &d); err != nil {
				return err
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
