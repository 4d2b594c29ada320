// Package storage holds the pgx repositories. Domain services consume these
// through their own interfaces; the error values below are the contract both
// the repositories and the in-memory test fakes honour.
package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict signals a lost optimistic-concurrency race; callers
	// reload and retry.
	ErrVersionConflict = errors.New("version conflict")
)

// StateError reports a guarded transition that found the row in a status the
// guard does not permit.
type StateError struct {
	Current string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state %q for requested transition", e.Current)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
