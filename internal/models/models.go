package models

import "time"

type User struct {
	ID         int64
	Email      string
	Username   string
	PassHash   string
	Provider   string
	ProviderID string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastLogin  *time.Time
}

// HasPassword reports whether the account can authenticate with a password.
// Pure-OAuth accounts have no hash at all.
func (u *User) HasPassword() bool {
	return u.PassHash != ""
}

type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
}

// IsExpired reports whether the token is past its expiry.
func (rt *RefreshToken) IsExpired() bool {
	return !time.Now().Before(rt.ExpiresAt)
}

// IsActive reports whether the token is still redeemable.
func (rt *RefreshToken) IsActive() bool {
	return !rt.IsRevoked && !rt.IsExpired()
}

// TokenPair is what a successful login or refresh hands back to the
// transport layer. RefreshSecret is the plaintext secret; it is only ever
// sent to the client in a cookie and is never stored server-side.
type TokenPair struct {
	AccessToken   string
	ExpiresIn     int64
	RefreshSecret string
}
