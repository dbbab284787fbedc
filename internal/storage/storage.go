// Package storage defines the persistence boundaries of the auth core and
// provides memory, SQLite, Redis, and S3 backed implementations.
package storage

import (
	"context"
	"errors"

	"github.com/polyglossa/authcore/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateCredential is returned by Insert when the credential ID
	// is already registered, for any user.
	ErrDuplicateCredential = errors.New("credential already registered")

	// ErrStaleCounter is returned by UpdateCounter when the new counter does
	// not advance past the stored one.
	ErrStaleCounter = errors.New("signature counter did not advance")

	// ErrDuplicateUser is returned by CreateUser when the username is taken.
	ErrDuplicateUser = errors.New("username already taken")
)

// UserDirectory is the read surface the auth core needs from the
// application's user store. CreateUser and SetPasswordHash exist for
// provisioning (seeding, account setup) and are never called from ceremony
// code.
type UserDirectory interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	HasCredential(ctx context.Context, userID string) (bool, error)

	CreateUser(ctx context.Context, user *models.User) error
	SetPasswordHash(ctx context.Context, userID, hash string) error
}

// CredentialStore is the durable registry of WebAuthn credentials.
// UpdateCounter must be a compare-and-set: it only succeeds when newCounter
// is strictly greater than the stored counter.
type CredentialStore interface {
	FindByCredentialID(ctx context.Context, id []byte) (*models.WebAuthnCredential, error)
	FindAllForUser(ctx context.Context, userID string) ([]models.WebAuthnCredential, error)
	Insert(ctx context.Context, credential *models.WebAuthnCredential) error
	UpdateCounter(ctx context.Context, id []byte, newCounter uint32) error
}

// ChallengeStore holds ceremony challenges for their TTL. Consume is an
// atomic take-and-delete: of any number of concurrent calls for the same
// value, exactly one receives the challenge. Implementations may return
// an already-expired challenge; the caller decides how expiry surfaces.
type ChallengeStore interface {
	SaveChallenge(ctx context.Context, challenge *models.Challenge) error
	ConsumeChallenge(ctx context.Context, value []byte) (*models.Challenge, error)
}
