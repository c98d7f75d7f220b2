package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainsharp/scheduler/internal/domain/operator"
)

// OperatorRepo looks up the bootstrap operator account for login. It
// is deliberately outside the store.DataContext abstraction: there is
// exactly one operator account and no upsert/list surface for it.
type OperatorRepo struct {
	pool *pgxpool.Pool
}

func NewOperatorRepo(pool *pgxpool.Pool) *OperatorRepo {
	return &OperatorRepo{pool: pool}
}

func (r *OperatorRepo) GetByEmail(ctx context.Context, email string) (operator.Operator, error) {
	var o operator.Operator
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM operator WHERE email = $1`,
		email,
	).Scan(&o.ID, &o.Email, &o.PasswordHash, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}
