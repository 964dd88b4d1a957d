package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/room-reservation/internal/model"
)

// ErrAlreadyReviewed is returned when a user reviews the same room twice.
var ErrAlreadyReviewed = errors.New("already reviewed")

// ReviewRepo persists room reviews.  The (room_id, user_id) unique key
// enforces one review per user and room.
type ReviewRepo struct {
	db *sql.DB
}

func NewReviewRepo(db *sql.DB) *ReviewRepo { return &ReviewRepo{db: db} }

// Create inserts a review and fills in its ID and creation time.
func (r *ReviewRepo) Create(ctx context.Context, rv *model.Review) error {
	const q = `INSERT INTO reviews (room_id, user_id, rating, comment) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, rv.RoomID, rv.UserID, rv.Rating, rv.Comment)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyReviewed
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rv.ID = uint64(id)
	var created dbTime
	if err := r.db.QueryRowContext(ctx, `SELECT created_at FROM reviews WHERE id = ?`, rv.ID).Scan(&created); err != nil {
		return err
	}
	rv.CreatedAt = created.Time
	return nil
}

// ListByRoom returns a room's reviews, newest first.
func (r *ReviewRepo) ListByRoom(ctx context.Context, roomID uint64) ([]model.Review, error) {
	const q = `SELECT id, room_id, user_id, rating, comment, created_at
               FROM reviews WHERE room_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Review{}
	for rows.Next() {
		var (
			rv      model.Review
			created dbTime
		)
		if err := rows.Scan(&rv.ID, &rv.RoomID, &rv.UserID, &rv.Rating, &rv.Comment, &created); err != nil {
			return nil, err
		}
		rv.CreatedAt = created.Time
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
