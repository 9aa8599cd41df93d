package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleWrite is returned when a conditional update lost a race.
	ErrStaleWrite = errors.New("record changed concurrently")
	// ErrOpenRevisionExists is returned when a permit already has an open revision.
	ErrOpenRevisionExists = errors.New("open revision already exists for permit")
	// ErrAlreadyClaimed is returned when a queue claim finds the application taken.
	ErrAlreadyClaimed = errors.New("application already claimed")
	// ErrAlreadyResolved is returned when a transaction already has an outcome.
	ErrAlreadyResolved = errors.New("transaction already resolved")
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}
