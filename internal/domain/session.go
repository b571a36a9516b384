package domain

import "time"

// Session is the device's single active sign-in.
type Session struct {
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id"`
	StoreID        string            `json:"store_id"`
	Email          string            `json:"email"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Mode           Mode              `json:"mode"`
	// ExpiresAt bounds the device session, online and offline alike.
	ExpiresAt      time.Time         `json:"expires_at"`
	AccessToken    string            `json:"-"`
	// TokenExpiresAt is the access token's exp claim, nil when it has none.
	TokenExpiresAt *time.Time        `json:"token_expires_at,omitempty"`
	SignedOut      bool              `json:"signed_out"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Active reports whether the session can be trusted at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.SignedOut && !s.Expired(now)
}

// Credential is the salted password hash kept for offline sign-in. It never
// leaves the device.
type Credential struct {
	Email          string
	HashedPassword []byte
	Salt           []byte
	UpdatedAt      time.Time
}
