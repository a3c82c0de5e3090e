package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	PGCodeUniqueViolation      = "23505"
	PGCodeSerializationFailure = "40001"
	PGCodeDeadlockDetected     = "40P01"
	PGCodeLockNotAvailable     = "55P03"
)

// HasPGCode reports whether err wraps a postgres error with the given SQLSTATE.
func HasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || HasPGCode(err, PGCodeUniqueViolation) {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value violates unique constraint"):
		return true
	case strings.Contains(msg, "Error 1062"):
		return true
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true
	}
	return false
}

// IsTransientErr reports store failures worth retrying: lock contention,
// serialization conflicts and dropped connections.
func IsTransientErr(err error) bool {
	if err == nil {
		return false
	}
	if HasPGCode(err, PGCodeSerializationFailure) ||
		HasPGCode(err, PGCodeDeadlockDetected) ||
		HasPGCode(err, PGCodeLockNotAvailable) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"deadlock",
		"connection reset",
		"connection refused",
		"bad connection",
		"i/o timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
