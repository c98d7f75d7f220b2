package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainsharp/scheduler/internal/config"
	"github.com/chainsharp/scheduler/internal/security"
)

// EnsureOperatorUser seeds the single bootstrap operator account from
// OPERATOR_EMAIL/OPERATOR_PASSWORD, per SPEC_FULL.md §4.5. A blank
// email or password skips seeding entirely.
func EnsureOperatorUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.OperatorEmail == "" || cfg.OperatorPassword == "" {
		return nil
	}

	var dummy string
	err := pool.QueryRow(ctx, `SELECT id FROM operator WHERE email = $1`, cfg.OperatorEmail).Scan(&dummy)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.OperatorPassword)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	_, err = pool.Exec(ctx,
		`INSERT INTO operator (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), cfg.OperatorEmail, hash, now, now,
	)

	return err
}
