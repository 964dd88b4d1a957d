package model

import "time"

// Roles understood by the reservation service.  An admin may see and
// alter any reservation; a member only their own.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents an application user record as stored in the
// `users` table.  Handlers define their own response types so the
// password hash never leaves the repository layer.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Name         – display name.
//  Email        – unique email address.
//  Telephone    – contact number.
//  PasswordHash – bcrypt hashed password.
//  Role         – admin or member.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Name         string    // users.name
	Email        string    // users.email
	Telephone    string    // users.telephone
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The
// plain token is not stored; only its SHA‑256 hash.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
