// Package booking owns the admission decision for room reservations.
// It checks every create and update against the live set of
// reservations so that no room is double-booked and no user holds more
// than the daily quota, and it scopes reads and deletes to the
// reservation's owner or an admin.
package booking

import (
	"errors"
	"fmt"
)

// Error kinds reported by the engine.  Callers match them with
// errors.Is; the engine wraps them with context but never replaces them.
var (
	// ErrInvalidRequest is returned when slot fields are missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrConflict is returned when the slot overlaps a live reservation
	// of the same room on the same day.
	ErrConflict = errors.New("room is already reserved for this time slot")

	// ErrQuotaExceeded is returned when the owner already holds the
	// maximum number of reservations on the requested day.
	ErrQuotaExceeded = errors.New("daily reservation quota exceeded")

	// ErrNotFound is returned when the referenced reservation does not
	// exist.  Store implementations use it to report missing rows.
	ErrNotFound = errors.New("reservation not found")

	// ErrUnknownRoom is returned when the reservation names a room that
	// does not exist.  It is a kind of ErrNotFound.
	ErrUnknownRoom = fmt.Errorf("%w: room not found", ErrNotFound)

	// ErrForbidden is returned when the requester is neither the owner
	// of the reservation nor an admin.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreUnavailable wraps failures of the store or of the
	// serialization guard.  They are transient and not retried here.
	ErrStoreUnavailable = errors.New("reservation store unavailable")
)

// Outcome maps an engine error to a short label used in logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
