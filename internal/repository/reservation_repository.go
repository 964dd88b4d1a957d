package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/model"
)

// ReservationRepo persists reservations and implements booking.Store.
// Reservation days are stored as the UTC instant at which the day
// starts in the engine's reference timezone, so "same day" is always a
// range predicate [day.Start, day.End) and never raw equality.
type ReservationRepo struct {
	db *sql.DB
}

var _ booking.Store = (*ReservationRepo)(nil)

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying sql.DB.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

const reservationColumns = `id, user_id, room_id, date, start_time, end_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		res                 model.Reservation
		day, created, updAt dbTime
	)
	if err := s.Scan(&res.ID, &res.UserID, &res.RoomID, &day, &res.StartTime, &res.EndTime, &created, &updAt); err != nil {
		return nil, err
	}
	res.Date = day.Time
	res.StartTime = strings.TrimSpace(res.StartTime)
	res.EndTime = strings.TrimSpace(res.EndTime)
	res.CreatedAt = created.Time
	res.UpdatedAt = updAt.Time
	return &res, nil
}

// FindOverlapping returns the earliest live reservation of roomID on the
// given day whose slot overlaps [start, end), or nil when none does.
// Overlap is half-open: start_time < end AND end_time > start.
func (r *ReservationRepo) FindOverlapping(ctx context.Context, roomID uint64, day booking.DaySpan, start, end string, excludeID uint64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + `
               FROM reservations
               WHERE room_id = ? AND date >= ? AND date < ?
                 AND start_time < ? AND end_time > ?
                 AND id <> ?
               ORDER BY start_time, id
               LIMIT 1`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q,
		roomID, formatDBTime(day.Start), formatDBTime(day.End), end, start, excludeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

// CountSameDay counts the owner's reservations on the given day.
func (r *ReservationRepo) CountSameDay(ctx context.Context, owner uint64, day booking.DaySpan, excludeID uint64) (int, error) {
	const q = `SELECT COUNT(*) FROM reservations
               WHERE user_id = ? AND date >= ? AND date < ? AND id <> ?`
	var n int
	err := r.db.QueryRowContext(ctx, q, owner, formatDBTime(day.Start), formatDBTime(day.End), excludeID).Scan(&n)
	return n, err
}

// Insert creates a reservation and reloads it so the caller receives
// the generated ID and timestamps.
func (r *ReservationRepo) Insert(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations (user_id, room_id, date, start_time, end_time) VALUES (?, ?, ?, ?, ?)`
	result, err := r.db.ExecContext(ctx, q, res.UserID, res.RoomID, formatDBTime(res.Date), res.StartTime, res.EndTime)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	fresh, err := r.Get(ctx, uint64(id))
	if err != nil {
		return err
	}
	*res = *fresh
	return nil
}

// UpdateFields writes only the columns set in patch in a single
// statement and returns the stored row.  It returns booking.ErrNotFound
// when the reservation no longer exists.
func (r *ReservationRepo) UpdateFields(ctx context.Context, id uint64, patch booking.Patch) (*model.Reservation, error) {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 5)
	if patch.RoomID != nil {
		sets = append(sets, "room_id = ?")
		args = append(args, *patch.RoomID)
	}
	if patch.Date != nil {
		sets = append(sets, "date = ?")
		args = append(args, formatDBTime(*patch.Date))
	}
	if patch.StartTime != nil {
		sets = append(sets, "start_time = ?")
		args = append(args, *patch.StartTime)
	}
	if patch.EndTime != nil {
		sets = append(sets, "end_time = ?")
		args = append(args, *patch.EndTime)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
		args = append(args, id)
		q := "UPDATE reservations SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		// MySQL reports zero affected rows for a no-op update, so
		// existence is decided by the reload below.
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, id)
}

// Delete removes a reservation.  It returns booking.ErrNotFound when no
// row was deleted.
func (r *ReservationRepo) Delete(ctx context.Context, id uint64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return booking.ErrNotFound
	}
	return nil
}

// Get loads a reservation by id.
func (r *ReservationRepo) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	return res, err
}

// ListForOwner returns the owner's reservations ordered by day and slot.
func (r *ReservationRepo) ListForOwner(ctx context.Context, owner uint64) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE user_id = ? ORDER BY date, start_time, id`
	return r.list(ctx, q, owner)
}

// ListAll returns every reservation ordered by day and slot.
func (r *ReservationRepo) ListAll(ctx context.Context) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations ORDER BY date, start_time, id`
	return r.list(ctx, q)
}

// ExistsForUserAndRoom reports whether the user holds at least one
// reservation for the room.  Reviews require it.
func (r *ReservationRepo) ExistsForUserAndRoom(ctx context.Context, userID, roomID uint64) (bool, error) {
	const q = `SELECT 1 FROM reservations WHERE user_id = ? AND room_id = ? LIMIT 1`
	var one int
	err := r.db.QueryRowContext(ctx, q, userID, roomID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *ReservationRepo) list(ctx context.Context, q string, args ...any) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
