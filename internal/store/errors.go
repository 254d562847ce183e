package store

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrEmailTaken is returned when an insert or update collides with the
	// unique email constraint.
	ErrEmailTaken = errors.New("email already in use")
	// ErrCodeTaken is returned when an insert or update collides with the
	// unique short code constraint.
	ErrCodeTaken = errors.New("short code already in use")
	// ErrLimitReached is returned by CreateWithinLimit when the account
	// already holds the maximum number of links.
	ErrLimitReached = errors.New("link limit reached")
)

// uniqueViolation reports whether err is a SQLite unique constraint failure
// on the given "table.column".
func uniqueViolation(err error, column string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return false
	}
	return strings.Contains(se.Error(), column)
}
