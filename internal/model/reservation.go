package model

import "time"

// Reservation records a user's booking of a room for one slot on one
// calendar day.  A reservation is either live (a row exists) or gone;
// there is no intermediate status.
//
// Fields:
//  ID        – primary key identifier, immutable.
//  UserID    – user who holds the reservation, immutable.
//  RoomID    – room being booked.
//  Date      – start instant of the booked day in the reference timezone.
//  StartTime – slot start as zero-padded "HH:MM".
//  EndTime   – slot end as zero-padded "HH:MM" (exclusive).
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Reservation struct {
	ID        uint64    // reservations.id
	UserID    uint64    // reservations.user_id
	RoomID    uint64    // reservations.room_id
	Date      time.Time // reservations.date
	StartTime string    // reservations.start_time
	EndTime   string    // reservations.end_time
	CreatedAt time.Time // reservations.created_at
	UpdatedAt time.Time // reservations.updated_at
}
