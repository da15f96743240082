package httpkit

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var errTrailingData = errors.New("request body must contain a single JSON object")

// PostgreSQL SQLSTATE codes the record store reacts to.
const (
	pgUndefinedTable        = "42P01"
	pgUniqueViolation       = "23505"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	pgLockNotAvailable      = "55P03"
	pgAdminShutdown         = "57P01"
	pgCannotConnectNow      = "57P03"
	pgConnectionExceptionCl = "08"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUndefinedTable(err error) bool {
	return pgCode(err) == pgUndefinedTable
}

// IsUniqueViolation returns true if the error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// IsTransient reports whether a PostgreSQL error is worth retrying as is:
// serialization failures, deadlocks, lock timeouts and connection loss.
func IsTransient(err error) bool {
	code := pgCode(err)
	switch code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgAdminShutdown, pgCannotConnectNow:
		return true
	}
	if len(code) == 5 && code[:2] == pgConnectionExceptionCl {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
