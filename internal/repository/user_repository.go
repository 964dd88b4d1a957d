package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/room-reservation/internal/model"
	"github.com/iliyamo/room-reservation/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var ErrEmailExists = errors.New("email already exists")

// Create hashes the password, inserts the user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, u model.User, password string, cost int) (uint64, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (name, email, telephone, password_hash, role) VALUES (?,?,?,?,?)",
		u.Name, email, u.Telephone, hash, u.Role)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

const userColumns = "id,name,email,telephone,password_hash,role,created_at,updated_at"

func scanUser(s rowScanner) (model.User, error) {
	var (
		u                model.User
		created, updated dbTime
	)
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.Telephone, &u.PasswordHash, &u.Role, &created, &updated)
	u.CreatedAt, u.UpdatedAt = created.Time, updated.Time
	return u, err
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}
