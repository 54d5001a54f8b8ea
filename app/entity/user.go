package entity

import (
	"database/sql"
	"time"
)

type User struct {
	ID                     uint64         `json:"id"`
	Username               string         `json:"username"`
	Email                  string         `json:"email"`
	PasswordHash           string         `json:"-"`
	ProfileImage           sql.NullString `json:"-"`
	EmailVerified          bool           `json:"emailVerified"`
	VerificationToken      sql.NullString `json:"-"`
	ResetPasswordToken     sql.NullString `json:"-"`
	ResetPasswordExpiresAt sql.NullTime   `json:"-"`
	LastLoginAt            sql.NullTime   `json:"-"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
	DeletedAt              sql.NullTime   `json:"-"`
	Roles                  Roles          `json:"roles"`
}

// HasPendingReset reports whether a reset token is set and still usable at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetPasswordToken.Valid &&
		u.ResetPasswordExpiresAt.Valid &&
		u.ResetPasswordExpiresAt.Time.After(now)
}

type RefreshToken struct {
	ID              uint64
	UserID          uint64
	Token           string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	CreatedByIP     string
	RevokedAt       sql.NullTime
	RevokedByIP     sql.NullString
	ReplacedByToken sql.NullString
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt.Valid
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive is true iff the token is not revoked and now is before its expiry.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}
