package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var errNestedTransaction = errors.New("postgres: DataContext is already transaction-scoped")

// IsUniqueViolation reports whether err is a Postgres unique-violation
// (23505), the error WorkQueue.Enqueue's caller treats as idempotent
// absorption per spec.md §3.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
