package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a row is locked by a concurrent
	// transition or a uniqueness constraint is violated.
	ErrConflict = errors.New("conflicting concurrent operation")
)

const (
	pqUniqueViolation  = "23505"
	pqLockNotAvailable = "55P03"
)

// toError maps driver errors onto the package sentinels.
func toError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation, pqLockNotAvailable:
			return fmt.Errorf("%s: %w: %s", msg, ErrConflict, pqErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
