package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Bootstrap idempotently creates the scheduler's tables and indexes,
// per SPEC_FULL.md §4.2. The teacher has no migration tool; neither
// does this repo — CREATE TABLE/INDEX IF NOT EXISTS run once at
// process start against the pool.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range bootstrapStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var bootstrapStatements = []string{
	`CREATE TABLE IF NOT EXISTS manifest_group (
		id               BIGSERIAL PRIMARY KEY,
		name             TEXT NOT NULL UNIQUE,
		priority         INT NOT NULL DEFAULT 0,
		max_active_jobs  INT,
		is_enabled       BOOLEAN NOT NULL DEFAULT true,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS manifest (
		id                      BIGSERIAL PRIMARY KEY,
		external_id             TEXT NOT NULL UNIQUE,
		workflow_name           TEXT NOT NULL,
		input_type_name         TEXT NOT NULL,
		input_properties        JSONB,
		is_enabled              BOOLEAN NOT NULL DEFAULT true,
		schedule_type           TEXT NOT NULL,
		cron_expression         TEXT,
		interval_seconds        INT,
		depends_on_manifest_id  BIGINT REFERENCES manifest(id) ON DELETE CASCADE,
		manifest_group_id       BIGINT NOT NULL REFERENCES manifest_group(id),
		priority                INT NOT NULL DEFAULT 0,
		max_retries             INT NOT NULL DEFAULT 3,
		timeout_seconds         INT,
		last_successful_run     TIMESTAMPTZ,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS manifest_external_id_idx ON manifest(external_id)`,

	`CREATE TABLE IF NOT EXISTS work_queue (
		id              BIGSERIAL PRIMARY KEY,
		external_id     TEXT NOT NULL UNIQUE,
		workflow_name   TEXT NOT NULL,
		input           JSONB,
		input_type_name TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'queued',
		manifest_id     BIGINT REFERENCES manifest(id) ON DELETE CASCADE,
		metadata_id     BIGINT,
		priority        INT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		dispatched_at   TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS work_queue_manifest_queued_idx
		ON work_queue(manifest_id) WHERE status = 'queued' AND manifest_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS work_queue_dispatch_order_idx
		ON work_queue(status, priority DESC, created_at ASC) WHERE status = 'queued'`,

	`CREATE TABLE IF NOT EXISTS metadata (
		id                      BIGSERIAL PRIMARY KEY,
		external_id             TEXT NOT NULL UNIQUE,
		name                    TEXT NOT NULL,
		input_type_name         TEXT NOT NULL,
		workflow_state          TEXT NOT NULL DEFAULT 'pending',
		start_time              TIMESTAMPTZ NOT NULL DEFAULT now(),
		end_time                TIMESTAMPTZ,
		input                   JSONB,
		output                  JSONB,
		failure_step            TEXT,
		failure_exception       TEXT,
		failure_reason          TEXT,
		stack_trace             TEXT,
		parent_id               BIGINT REFERENCES metadata(id) ON DELETE CASCADE,
		manifest_id             BIGINT REFERENCES manifest(id) ON DELETE CASCADE,
		cancel_requested        BOOLEAN NOT NULL DEFAULT false,
		currently_running_step  TEXT,
		step_started_at         TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS metadata_manifest_id_idx ON metadata(manifest_id)`,
	`CREATE INDEX IF NOT EXISTS metadata_name_state_end_time_idx
		ON metadata(name, workflow_state, end_time)`,

	`CREATE TABLE IF NOT EXISTS dead_letter (
		id                          BIGSERIAL PRIMARY KEY,
		manifest_id                 BIGINT NOT NULL REFERENCES manifest(id) ON DELETE CASCADE,
		dead_lettered_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		status                      TEXT NOT NULL DEFAULT 'awaiting_intervention',
		resolved_at                 TIMESTAMPTZ,
		resolution_note             TEXT,
		reason                      TEXT NOT NULL,
		retry_count_at_dead_letter  INT NOT NULL,
		retry_metadata_id           BIGINT REFERENCES metadata(id)
	)`,

	`CREATE TABLE IF NOT EXISTS operator (
		id              TEXT PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		password_hash   TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS log (
		id          BIGSERIAL PRIMARY KEY,
		metadata_id BIGINT NOT NULL REFERENCES metadata(id) ON DELETE CASCADE,
		level       TEXT NOT NULL,
		message     TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS log_metadata_id_idx ON log(metadata_id)`,
}
