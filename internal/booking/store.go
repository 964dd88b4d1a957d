package booking

import (
	"context"
	"time"

	"github.com/iliyamo/room-reservation/internal/lock"
	"github.com/iliyamo/room-reservation/internal/model"
)

// Store is the durable, queryable collection of live reservations the
// engine admits against.  Implementations report missing rows with
// ErrNotFound; any other error is treated as a transient store failure.
type Store interface {
	// FindOverlapping returns one live reservation of roomID inside day
	// whose slot overlaps [start, end), or nil when there is none.  A
	// non-zero excludeID is left out of the candidate set.
	FindOverlapping(ctx context.Context, roomID uint64, day DaySpan, start, end string, excludeID uint64) (*model.Reservation, error)
	// CountSameDay counts live reservations of owner inside day,
	// excluding excludeID when non-zero.
	CountSameDay(ctx context.Context, owner uint64, day DaySpan, excludeID uint64) (int, error)
	// Insert persists res and fills in its ID and timestamps.
	Insert(ctx context.Context, res *model.Reservation) error
	// UpdateFields applies only the fields set in patch and returns the
	// stored record.
	UpdateFields(ctx context.Context, id uint64, patch Patch) (*model.Reservation, error)
	Delete(ctx context.Context, id uint64) error
	Get(ctx context.Context, id uint64) (*model.Reservation, error)
	ListForOwner(ctx context.Context, owner uint64) ([]model.Reservation, error)
	ListAll(ctx context.Context) ([]model.Reservation, error)
}

// Patch carries the normalized slot fields of an update.  Nil fields
// are left untouched by the store.
type Patch struct {
	RoomID    *uint64
	Date      *time.Time // start instant of the new day, UTC
	StartTime *string
	EndTime   *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.RoomID == nil && p.Date == nil && p.StartTime == nil && p.EndTime == nil
}

// RoomDirectory tells the engine which rooms exist.  It is consulted
// under the room key, so a room removed through Engine.LockRoom never
// receives a reservation afterwards.
type RoomDirectory interface {
	RoomExists(ctx context.Context, roomID uint64) (bool, error)
}

// Locker serializes admission decisions per key.  Acquire blocks until
// the key is held or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (lock.Lease, error)
}

// ExpiringLocker is a Locker whose holds lapse after TTL unless
// confirmed.  The engine finishes every guarded section within TTL.
type ExpiringLocker interface {
	Locker
	TTL() time.Duration
}

// Recorder receives admission outcomes and lock wait times.  It is
// implemented by the observability package.
type Recorder interface {
	ObserveDecision(op, outcome string)
	ObserveLockWait(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(string, string) {}
func (nopRecorder) ObserveLockWait(time.Duration)  {}
