package models

import "time"

// Session is the authenticated payload minted after a successful password
// login or ceremony. The token is self-describing; there is no server-side
// session table. Cookie framing belongs to the transport layer.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
