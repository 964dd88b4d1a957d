package model

import "time"

// Room is a bookable space.  Rooms are managed by admins and are
// referenced by reservations and reviews.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – unique room name (max 50 characters).
//  Address   – street address of the room.
//  Telephone – contact number.
//  OpenTime  – opening time as "HH:MM".
//  CloseTime – closing time as "HH:MM".
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type Room struct {
	ID        uint64    // rooms.id
	Name      string    // rooms.name
	Address   string    // rooms.address
	Telephone string    // rooms.telephone
	OpenTime  string    // rooms.open_time
	CloseTime string    // rooms.close_time
	CreatedAt time.Time // rooms.created_at
	UpdatedAt time.Time // rooms.updated_at
}

// Review is a user's rating of a room they have reserved.  A user may
// review each room at most once.
type Review struct {
	ID        uint64    // reviews.id
	RoomID    uint64    // reviews.room_id
	UserID    uint64    // reviews.user_id
	Rating    int       // reviews.rating (1..5)
	Comment   string    // reviews.comment
	CreatedAt time.Time // reviews.created_at
}
