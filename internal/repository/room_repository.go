package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/room-reservation/internal/model"
)

// ErrRoomNotFound is returned when a room cannot be found in the DB.
var ErrRoomNotFound = errors.New("room not found")

// RoomRepo encapsulates all database queries related to rooms.  Rooms
// are plain records without conflict rules of their own; reservations
// and reviews reference them by id.
type RoomRepo struct {
	db *sql.DB
}

// NewRoomRepo constructs a RoomRepo with the provided DB handle.
func NewRoomRepo(db *sql.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, name, address, telephone, open_time, close_time, created_at, updated_at`

func scanRoom(s rowScanner) (*model.Room, error) {
	var (
		rm               model.Room
		created, updated dbTime
	)
	if err := s.Scan(&rm.ID, &rm.Name, &rm.Address, &rm.Telephone, &rm.OpenTime, &rm.CloseTime, &created, &updated); err != nil {
		return nil, err
	}
	rm.CreatedAt, rm.UpdatedAt = created.Time, updated.Time
	return &rm, nil
}

// Create inserts a new room and populates its ID and timestamps.  A
// duplicate name yields ErrConflict.
func (r *RoomRepo) Create(ctx context.Context, rm *model.Room) error {
	const q = `INSERT INTO rooms (name, address, telephone, open_time, close_time) VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, rm.Name, rm.Address, rm.Telephone, rm.OpenTime, rm.CloseTime)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	fresh, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*rm = *fresh
	return nil
}

// GetByID fetches a room by its ID.  It returns ErrRoomNotFound if no
// row is found.
func (r *RoomRepo) GetByID(ctx context.Context, id uint64) (*model.Room, error) {
	const q = `SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`
	rm, err := scanRoom(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	return rm, err
}

// RoomExists reports whether a room with id exists.
func (r *RoomRepo) RoomExists(ctx context.Context, id uint64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListAll returns all rooms ordered by id.
func (r *RoomRepo) ListAll(ctx context.Context) ([]model.Room, error) {
	const q = `SELECT ` + roomColumns + ` FROM rooms ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Room{}
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update overwrites every mutable column of rm.  It returns
// ErrRoomNotFound when the room does not exist and ErrConflict on a
// duplicate name.
func (r *RoomRepo) Update(ctx context.Context, rm *model.Room) error {
	const q = `UPDATE rooms
               SET name = ?, address = ?, telephone = ?, open_time = ?, close_time = ?, updated_at = CURRENT_TIMESTAMP
               WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, q, rm.Name, rm.Address, rm.Telephone, rm.OpenTime, rm.CloseTime, rm.ID); err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	fresh, err := r.GetByID(ctx, rm.ID)
	if err != nil {
		return err
	}
	*rm = *fresh
	return nil
}

// Delete removes a room together with its reservations and reviews in
// one transaction.  Callers hold the room's admission key (see
// booking.Engine.LockRoom) so no reservation lands after the cascade.
func (r *RoomRepo) Delete(ctx context.Context, id uint64) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	res, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomNotFound
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM reservations WHERE room_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM reviews WHERE room_id = ?`, id); err != nil {
		return err
	}
	return nil
}
