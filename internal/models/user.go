package models

import "time"

// User is the identity anchor owned by the surrounding application's user
// directory. The auth core reads and writes PasswordHash and treats every
// other field as opaque.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
