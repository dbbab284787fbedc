package models

import (
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// CounterPolicy selects how the signature counter of a credential is checked
// on authentication.
type CounterPolicy string

const (
	// StrictMonotonic requires every assertion to carry a counter strictly
	// greater than the stored one.
	StrictMonotonic CounterPolicy = "strict"

	// CounterlessDevice marks authenticators that reported a zero counter at
	// registration. Repeated zeroes are accepted; any non-zero counter still
	// has to advance.
	CounterlessDevice CounterPolicy = "counterless"
)

// CredentialFlags records the authenticator flags observed at registration.
// Backup flags must stay consistent across logins.
type CredentialFlags struct {
	UserPresent    bool `json:"userPresent"`
	UserVerified   bool `json:"userVerified"`
	BackupEligible bool `json:"backupEligible"`
	BackupState    bool `json:"backupState"`
}

// WebAuthnCredential is one registered authenticator. The credential ID is
// globally unique across all users.
type WebAuthnCredential struct {
	ID              []byte          `json:"id"`
	PublicKey       []byte          `json:"publicKey"`
	AttestationType string          `json:"attestationType,omitempty"`
	SignCount       uint32          `json:"signCount"`
	CounterPolicy   CounterPolicy   `json:"counterPolicy"`
	Flags           CredentialFlags `json:"flags"`
	UserID          string          `json:"userId"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// EncodedID returns the credential ID in the base64url form used as a
// storage key and on the wire.
func (c *WebAuthnCredential) EncodedID() string {
	return base64.RawURLEncoding.EncodeToString(c.ID)
}

// WebAuthn converts the stored record into the library credential used for
// assertion verification.
func (c *WebAuthnCredential) WebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: c.SignCount,
		},
	}
}
