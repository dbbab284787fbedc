// Package challenge manages the single-use cryptographic challenges that
// anchor WebAuthn ceremonies.
package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/polyglossa/authcore/internal/models"
	"github.com/polyglossa/authcore/internal/storage"
)

var (
	// ErrExpired is returned when a challenge is consumed after its TTL.
	ErrExpired = errors.New("challenge expired")

	// ErrUnknown covers both never-issued and already-consumed challenges.
	// The two cases are deliberately indistinguishable to callers.
	ErrUnknown = errors.New("challenge unknown or already used")

	// ErrPurposeMismatch is returned when a challenge issued for one
	// ceremony is presented to the other.
	ErrPurposeMismatch = errors.New("challenge purpose mismatch")
)

const valueLength = 32

// DefaultTTL is the challenge lifetime used when none is configured.
const DefaultTTL = 5 * time.Minute

// Manager issues and consumes ceremony challenges. Atomicity of consumption
// is delegated to the store; the manager layers purpose and TTL checks on
// top.
type Manager struct {
	store storage.ChallengeStore
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(store storage.ChallengeStore, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Issue allocates a fresh random challenge bound to a purpose and, when
// subjectUserID is non-empty, to a subject user.
func (m *Manager) Issue(ctx context.Context, purpose models.Purpose, subjectUserID string) (*models.Challenge, error) {
	value := make([]byte, valueLength)
	if _, err := rand.Read(value); err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}

	now := m.now()
	challenge := &models.Challenge{
		Value:     value,
		Purpose:   purpose,
		UserID:    subjectUserID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.SaveChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	return challenge, nil
}

// Consume atomically takes the challenge matching value. The challenge is
// burned even when the purpose disagrees or the TTL has elapsed; a second
// attempt for the same value always fails with ErrUnknown.
func (m *Manager) Consume(ctx context.Context, value []byte, purpose models.Purpose) (*models.Challenge, error) {
	challenge, err := m.store.ConsumeChallenge(ctx, value)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	if challenge.Expired(m.now()) {
		return nil, ErrExpired
	}
	if challenge.Purpose != purpose {
		return nil, ErrPurposeMismatch
	}
	return challenge, nil
}
