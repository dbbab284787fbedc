package models

import (
	"encoding/base64"
	"time"
)

// Purpose binds a challenge to the ceremony it was issued for.
type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
)

// Challenge is an ephemeral nonce for one ceremony. A challenge is consumed
// exactly once; consumption is deletion from the store.
type Challenge struct {
	Value     []byte    `json:"value"`
	Purpose   Purpose   `json:"purpose"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Encoded returns the challenge value in the base64url form sent to clients
// and echoed back inside ceremony responses.
func (c *Challenge) Encoded() string {
	return base64.RawURLEncoding.EncodeToString(c.Value)
}

// Expired reports whether the challenge TTL has elapsed at the given time.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
