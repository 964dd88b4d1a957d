// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios.  Missing
// reservations are reported with booking.ErrNotFound because the
// reservation repository is the admission engine's store.
package repository

import (
	"errors"
	"strings"
)

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own.  Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an insert or update violates a
// uniqueness rule such as a duplicate room name.  Handlers should
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// isDuplicate reports whether err is a unique-key violation from MySQL
// (error 1062) or SQLite.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1062") || strings.Contains(msg, "unique constraint failed")
}
