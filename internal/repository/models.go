package repository

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user account in the database
type User struct {
	ID           uuid.UUID  `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	FirstName    *string    `db:"first_name"`
	LastName     *string    `db:"last_name"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at"`
}

// RefreshToken represents one issued long-lived credential.
//
// Only the SHA-256 hash of the opaque secret is stored; the raw secret lives
// exclusively in the client's cookie. Rotation inserts a replacement row, it
// never mutates an existing one; the single permitted mutation is setting
// revoked_at, which keeps the full issuance history as an audit trail.
type RefreshToken struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	TokenHash string     `db:"token_hash"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	IPAddress *string    `db:"ip_address"`
	UserAgent *string    `db:"user_agent"`
}

// IsExpired reports whether the credential's lifetime has elapsed at the
// given instant. Expiry is always judged against the server's clock.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IsRevoked reports whether the credential has been explicitly revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}
