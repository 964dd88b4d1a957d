package lock

import (
	"context"
	"errors"
)

// ErrLost is returned by Lease.Confirm when the key is no longer held by
// that lease, either because it was released or because it expired and
// may now belong to someone else.
var ErrLost = errors.New("lock: lease lost")

// Lease is one held key.
type Lease interface {
	// Release frees the key.  Calls after the first are no-ops.
	Release()
	// Confirm checks that the key is still held and, for expiring
	// holds, restarts the expiry.  Writes made under the lock must be
	// preceded by a successful Confirm.
	Confirm(ctx context.Context) error
}
